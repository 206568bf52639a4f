package factory

import (
	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/model"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskGroup is a logical grouping of tasks and their associated writers.
type TaskGroup struct {
	Tasks   []model.Task
	Writers []model.Writer
}

// TaskFactory builds one task from its definition.
type TaskFactory func(def config.TaskDef) (model.Task, error)

// WriterFactory builds one snapshot writer from its definition.
type WriterFactory func(def config.WriterDef, interval time.Duration) (model.Writer, error)

var (
	tasks   = make(map[string]TaskFactory)
	writers = make(map[string]WriterFactory)
)

// RegisterTask registers a task type with its factory function.
func RegisterTask(name string, factory TaskFactory) {
	if _, exists := tasks[name]; exists {
		panic(fmt.Sprintf("task type '%s' already registered", name))
	}
	tasks[name] = factory
}

// RegisterWriter registers a writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := writers[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	writers[name] = factory
}

// NewTask builds a single task through the registry.
func NewTask(def config.TaskDef) (model.Task, error) {
	factory, ok := tasks[def.Type]
	if !ok {
		return nil, fmt.Errorf("unknown task type: '%s'", def.Type)
	}
	task, err := factory(def)
	if err != nil {
		return nil, fmt.Errorf("error creating task '%s': %w", def.Name, err)
	}
	return task, nil
}

// Create builds the configured tasks and writers. All tasks share the enabled
// writers. A writer that cannot be created is skipped with a warning; a task
// that cannot be created fails the whole configuration.
func Create(cfg *config.Config) ([]TaskGroup, error) {
	var group TaskGroup

	for _, def := range cfg.Aggregator.Writers {
		if !def.Enabled {
			continue
		}
		interval, err := time.ParseDuration(def.SnapshotInterval)
		if err != nil {
			log.Warnf("Invalid snapshot_interval for writer type '%s': %v, skipping.", def.Type, err)
			continue
		}
		factory, ok := writers[def.Type]
		if !ok {
			log.Warnf("Unknown writer type '%s' in config, skipping.", def.Type)
			continue
		}
		writer, err := factory(def, interval)
		if err != nil {
			log.Warnf("Failed to create writer type '%s': %v, skipping.", def.Type, err)
			continue
		}
		group.Writers = append(group.Writers, writer)
	}

	for _, def := range cfg.Aggregator.Tasks {
		log.Printf("Creating task '%s' of type '%s'", def.Name, def.Type)
		task, err := NewTask(def)
		if err != nil {
			return nil, err
		}
		group.Tasks = append(group.Tasks, task)
	}

	return []TaskGroup{group}, nil
}
