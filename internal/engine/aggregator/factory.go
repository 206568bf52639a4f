package aggregator

import (
	"fmt"
	"strconv"
	"strings"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/flowkey"
	"Go2FlowSpectra/internal/factory"
	"Go2FlowSpectra/internal/model"

	"github.com/google/gopacket/layers"
)

func init() {
	factory.RegisterTask("aggregate", func(def config.TaskDef) (model.Task, error) {
		chain, err := ChainFromDefs(def.Chain)
		if err != nil {
			return nil, err
		}
		return NewTask(def.Name, chain), nil
	})
}

var protocolNames = map[string]layers.IPProtocol{
	"icmp":    layers.IPProtocolICMPv4,
	"igmp":    layers.IPProtocolIGMP,
	"tcp":     layers.IPProtocolTCP,
	"udp":     layers.IPProtocolUDP,
	"gre":     layers.IPProtocolGRE,
	"esp":     layers.IPProtocolESP,
	"ah":      layers.IPProtocolAH,
	"icmpv6":  layers.IPProtocolICMPv6,
	"ospf":    layers.IPProtocolOSPF,
	"sctp":    layers.IPProtocolSCTP,
	"udplite": layers.IPProtocolUDPLite,
}

// ParseProtocol accepts an IP protocol name or number.
func ParseProtocol(s string) (uint8, error) {
	if p, ok := protocolNames[strings.ToLower(s)]; ok {
		return uint8(p), nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown protocol '%s'", s)
	}
	return uint8(n), nil
}

// ConfigFromDef converts an aggregator definition.
func ConfigFromDef(def config.AggregatorDef) (Config, error) {
	cfg := Config{
		Name:         def.Name,
		Size:         def.HashSize,
		Label:        def.Label,
		ReverseMatch: def.ReverseMatch,
		Continue:     def.Continue,
	}

	var err error
	if cfg.Mask, err = flowkey.ParseMask(def.Mask); err != nil {
		return Config{}, fmt.Errorf("aggregator '%s' mask: %w", def.Name, err)
	}
	for _, s := range def.Protocols {
		p, err := ParseProtocol(s)
		if err != nil {
			return Config{}, fmt.Errorf("aggregator '%s': %w", def.Name, err)
		}
		cfg.Protocols = append(cfg.Protocols, p)
	}
	for _, s := range def.Retain {
		i, err := model.ParseIndex(s)
		if err != nil {
			return Config{}, fmt.Errorf("aggregator '%s' retain: %w", def.Name, err)
		}
		cfg.Retain |= model.MaskOf(i)
	}
	if cfg.IdleTimeout, err = config.Duration(def.IdleTimeout); err != nil {
		return Config{}, fmt.Errorf("aggregator '%s' idle_timeout: %w", def.Name, err)
	}
	if cfg.StatusTimeout, err = config.Duration(def.StatusTimeout); err != nil {
		return Config{}, fmt.Errorf("aggregator '%s' status_timeout: %w", def.Name, err)
	}
	return cfg, nil
}

// ChainFromDefs builds an aggregator chain in definition order.
func ChainFromDefs(defs []config.AggregatorDef) (*Aggregator, error) {
	var head *Aggregator
	for _, def := range defs {
		cfg, err := ConfigFromDef(def)
		if err != nil {
			return nil, err
		}
		a := New(cfg)
		if head == nil {
			head = a
		} else {
			head.Chain(a)
		}
	}
	if head == nil {
		return nil, fmt.Errorf("empty aggregator chain")
	}
	return head, nil
}
