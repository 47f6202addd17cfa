// ///////////////////////////////////////////////////////////////////////////
//
// # DVV - Data Vault Validator
//
// Copyright (C) 2024 - 2026, the Data Vault Validation Tool authors
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package config

import (
	"fmt"
	"os"

	"github.com/RyanSchlenz/Data-Vault-Validation-Tool/pkg/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Warehouse  WarehouseConfig  `yaml:"warehouse"`
	Validation ValidationConfig `yaml:"validation"`
	Thresholds ThresholdConfig  `yaml:"thresholds"`

	Entities []types.EntityConfig `yaml:"entities"`

	DebugMode bool `yaml:"debug_mode"`
}

type WarehouseConfig struct {
	DSN               string `yaml:"dsn"`
	StatementTimeout  int    `yaml:"statement_timeout"`  // ms
	ConnectionTimeout int    `yaml:"connection_timeout"` // s
	QueryTag          string `yaml:"query_tag"`
}

type ValidationConfig struct {
	ConcurrencyFactor int `yaml:"concurrency_factor"`
	SampleLimit       int `yaml:"sample_limit"`
	MaxSampleKeys     int `yaml:"max_sample_keys"`

	// MaxCandidateRows bounds how many anti-join rows are pulled back for
	// classification; beyond it the engine works on a key sample instead of
	// a full scan.
	MaxCandidateRows int `yaml:"max_candidate_rows"`
}

// ThresholdConfig holds the tolerance policy. The defaults are deliberate,
// documented constants rather than hidden magic numbers; every boundary can
// be overridden from the config file.
type ThresholdConfig struct {
	SmallVolumeBoundary int64 `yaml:"small_volume_boundary"`
	LargeVolumeBoundary int64 `yaml:"large_volume_boundary"`

	DimensionPercent float64 `yaml:"dimension_percent"`
	FactPercent      float64 `yaml:"fact_percent"`
	CurrentPercent   float64 `yaml:"current_percent"`

	SmallVolumeScale float64 `yaml:"small_volume_scale"`
	LargeVolumeScale float64 `yaml:"large_volume_scale"`

	AbsoluteFloor int64 `yaml:"absolute_floor"`
}

// Defaults mirror the warehouse reconciliation policy: dimensions are held
// near 1:1 with the hub, facts tolerate business filtering, current/active
// views tolerate superseded history.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		SmallVolumeBoundary: 10_000,
		LargeVolumeBoundary: 1_000_000,
		DimensionPercent:    0.05,
		FactPercent:         0.20,
		CurrentPercent:      0.25,
		SmallVolumeScale:    2.0,
		LargeVolumeScale:    0.5,
		AbsoluteFloor:       5,
	}
}

func DefaultValidation() ValidationConfig {
	return ValidationConfig{
		ConcurrencyFactor: 4,
		SampleLimit:       24,
		MaxSampleKeys:     10,
		MaxCandidateRows:  10_000,
	}
}

// Cfg holds the loaded config for the whole app.
var Cfg *Config

// Load reads and parses path into a Config, filling unset policy values
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Config{
		Validation: DefaultValidation(),
		Thresholds: DefaultThresholds(),
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

// Init loads the config and assigns it to the package variable.
func Init(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	Cfg = c
	return nil
}

func (c *Config) check() error {
	if c.Validation.ConcurrencyFactor < 1 || c.Validation.ConcurrencyFactor > 10 {
		return fmt.Errorf("concurrency_factor must be between 1 and 10")
	}
	if c.Validation.SampleLimit < 1 {
		return fmt.Errorf("sample_limit must be at least 1")
	}
	if c.Validation.MaxCandidateRows < 1 {
		return fmt.Errorf("max_candidate_rows must be at least 1")
	}
	if c.Thresholds.AbsoluteFloor < 1 {
		return fmt.Errorf("absolute_floor must be at least 1")
	}
	if c.Thresholds.SmallVolumeBoundary >= c.Thresholds.LargeVolumeBoundary {
		return fmt.Errorf("small_volume_boundary must be below large_volume_boundary")
	}
	return nil
}
