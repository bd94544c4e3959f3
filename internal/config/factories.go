package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// VenueKind tags the event schema and quoting model a factory's pools use.
type VenueKind string

const (
	VenueV2AMM             VenueKind = "v2-amm"
	VenueV3CL              VenueKind = "v3-cl"
	VenueStableCL          VenueKind = "stable-cl"
	VenueStableCLTickSpace VenueKind = "stable-cl-tickspacing"
	VenueWeighted          VenueKind = "weighted"
	VenueAggregator        VenueKind = "aggregator"
)

// FactoryEntry describes one pool factory to crawl at startup (spec §4.3).
// This is deployment topology, not a runtime knob, so unlike Config it is
// loaded from YAML the way the teacher's own config.yml loads contract
// addresses and ABI paths.
type FactoryEntry struct {
	VenueID         string    `yaml:"venueId"`
	VenueKind       VenueKind `yaml:"venueKind"`
	FactoryAddress  string    `yaml:"factoryAddress"`
	StartBlock      uint64    `yaml:"startBlock"`
	FeeTiers        []int     `yaml:"feeTiers,omitempty"`
	TickSpacings    []int     `yaml:"tickSpacings,omitempty"`
}

// FactoryTable is the parsed configs/factories.yaml document.
type FactoryTable struct {
	Factories []FactoryEntry `yaml:"factories"`
}

// LoadFactoryTable reads and parses the factory table from path.
func LoadFactoryTable(path string) (*FactoryTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read factory table: %w", err)
	}

	var table FactoryTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse factory table: %w", err)
	}
	return &table, nil
}
