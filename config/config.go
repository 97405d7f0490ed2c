// Package config loads and stores closed-loop simulation scenarios.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Plant holds the PVTOL plant parameters.
type Plant struct {
	Mass    float64 `yaml:"mass"`
	Inertia float64 `yaml:"inertia"`
	Arm     float64 `yaml:"arm"`
	Damping float64 `yaml:"damping"`
	Gravity float64 `yaml:"gravity"`
}

// LQR holds the quadratic design weights as diagonals.
type LQR struct {
	StateWeights []float64 `yaml:"state_weights"`
	InputWeights []float64 `yaml:"input_weights"`
}

// EKF holds the estimator noise intensities. Qv is the diagonal of the
// process disturbance intensity, Qw the full sensor noise intensity and
// P0 the scale of the initial error covariance.
type EKF struct {
	Qv []float64   `yaml:"qv"`
	Qw [][]float64 `yaml:"qw"`
	P0 float64     `yaml:"p0"`
}

// Sim holds the simulation run parameters.
type Sim struct {
	Duration     float64 `yaml:"duration"`
	Samples      int     `yaml:"samples"`
	Substeps     int     `yaml:"substeps"`
	Seed         uint64  `yaml:"seed"`
	ProcessNoise bool    `yaml:"process_noise"`
	SensorNoise  bool    `yaml:"sensor_noise"`
}

// Config is a full closed-loop scenario.
type Config struct {
	Plant Plant `yaml:"plant"`
	LQR   LQR   `yaml:"lqr"`
	EKF   EKF   `yaml:"ekf"`
	Sim   Sim   `yaml:"sim"`
	// Feedback selects the controller input: "estimate" closes the loop
	// through the EKF, "state" feeds back the true plant state
	Feedback string `yaml:"feedback"`
	// InitOffset is the initial true state offset from the equilibrium
	InitOffset []float64 `yaml:"init_offset"`
}

// Default returns the default scenario: the PVTOL started 2m right and 1m
// above its hover equilibrium, regulated by an LQR on the EKF estimate.
func Default() *Config {
	return &Config{
		Plant: Plant{
			Mass:    4.0,
			Inertia: 0.0475,
			Arm:     0.25,
			Damping: 0.05,
			Gravity: 9.8,
		},
		LQR: LQR{
			StateWeights: []float64{1, 1, 1, 1, 1, 1},
			InputWeights: []float64{0.1, 0.1},
		},
		EKF: EKF{
			Qv: []float64{1e-2, 1e-2},
			Qw: [][]float64{
				{2e-4, 0, 1e-5},
				{0, 2e-4, 1e-5},
				{1e-5, 1e-5, 1e-4},
			},
			P0: 0.01,
		},
		Sim: Sim{
			Duration: 10.0,
			Samples:  1000,
			Substeps: 1,
			Seed:     42,
		},
		Feedback:   "estimate",
		InitOffset: []float64{2, 1, 0, 0, 0, 0},
	}
}

// Load reads a scenario from a yaml file, filling omitted fields with
// defaults. It returns error if the file cannot be read or parsed, or if
// the resulting scenario is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the scenario to a yaml file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks scenario consistency.
func (c *Config) Validate() error {
	if c.Feedback != "estimate" && c.Feedback != "state" {
		return fmt.Errorf("invalid feedback source: %q", c.Feedback)
	}
	if len(c.LQR.StateWeights) != 6 || len(c.LQR.InputWeights) != 2 {
		return fmt.Errorf("invalid LQR weight dimensions: [%d, %d]", len(c.LQR.StateWeights), len(c.LQR.InputWeights))
	}
	if len(c.InitOffset) != 6 {
		return fmt.Errorf("invalid initial offset dimension: %d", len(c.InitOffset))
	}
	if len(c.EKF.Qv) != 2 || len(c.EKF.Qw) != 3 {
		return fmt.Errorf("invalid noise covariance dimensions: [%d, %d]", len(c.EKF.Qv), len(c.EKF.Qw))
	}
	for _, row := range c.EKF.Qw {
		if len(row) != 3 {
			return fmt.Errorf("invalid sensor noise covariance row length: %d", len(row))
		}
	}
	if c.Sim.Duration <= 0 || c.Sim.Samples < 2 {
		return fmt.Errorf("invalid simulation grid: duration %v, samples %d", c.Sim.Duration, c.Sim.Samples)
	}

	return nil
}
