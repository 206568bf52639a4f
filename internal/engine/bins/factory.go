package bins

import (
	"fmt"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/aggregator"
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/model"
)

func init() {
	factory.RegisterTask("bins", func(def config.TaskDef) (model.Task, error) {
		return TaskFromDef(def)
	})
}

// TaskFromDef builds a bins task and its aggregator chain.
func TaskFromDef(def config.TaskDef) (*Task, error) {
	chain, err := aggregator.ChainFromDefs(def.Chain)
	if err != nil {
		return nil, err
	}
	size, err := config.Duration(def.BinSize)
	if err != nil {
		return nil, fmt.Errorf("task '%s' bin_size: %w", def.Name, err)
	}
	hold, err := config.Duration(def.BinHold)
	if err != nil {
		return nil, fmt.Errorf("task '%s' bin_hold: %w", def.Name, err)
	}
	proc, err := New(Config{Size: size, Count: def.BinCount, Max: def.MaxBins}, chain)
	if err != nil {
		return nil, fmt.Errorf("task '%s': %w", def.Name, err)
	}
	return NewTask(def.Name, proc, hold), nil
}
