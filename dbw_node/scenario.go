package main

import (
	"encoding/json"
	"fmt"
	"os"

	"dbw-twist-core/utils"
)

// Scenario replays timed twist/enable commands in place of the CAN twist
// and enable frames. Speed feedback still comes from the bus.
type Scenario struct {
	Meta     ScenarioMeta      `json:"meta"`
	Timing   ScenarioTiming    `json:"timing"`
	Defaults TwistCmd          `json:"defaults"`
	Segments []ScenarioSegment `json:"segments"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
}

// ScenarioSegment overrides the defaults for t0 <= t < t1. A negative t1
// runs to the end of the scenario.
type ScenarioSegment struct {
	T0         float64  `json:"t0"`
	T1         float64  `json:"t1"`
	Enabled    *bool    `json:"enabled,omitempty"`
	LinearMPS  *float64 `json:"linear_velocity_mps,omitempty"`
	LinearMPH  *float64 `json:"linear_velocity_mph,omitempty"`
	AngularRPS float64  `json:"angular_velocity_rps,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// TwistCmd is a twist command plus the engagement flag.
type TwistCmd struct {
	Enabled    bool    `json:"enabled"`
	LinearMPS  float64 `json:"linear_velocity_mps"`
	AngularRPS float64 `json:"angular_velocity_rps"`
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}

	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}

	if err := scen.Validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s *Scenario) Validate() error {
	if s.Timing.DurationS <= 0 {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	for i, seg := range s.Segments {
		if seg.T0 < 0 {
			return fmt.Errorf("segment %d: invalid t0 %f", i, seg.T0)
		}
		if seg.T1 >= 0 && seg.T1 <= seg.T0 {
			return fmt.Errorf("segment %d: t1 %f must be after t0 %f", i, seg.T1, seg.T0)
		}
		if seg.LinearMPS != nil && seg.LinearMPH != nil {
			return fmt.Errorf("segment %d: set linear_velocity_mps or linear_velocity_mph, not both", i)
		}
	}
	return nil
}

// EvalTwistCmd evaluates the scenario at time t (seconds from start). The
// first matching segment wins.
func EvalTwistCmd(scen *Scenario, t float64) TwistCmd {
	cmd := scen.Defaults

	for _, seg := range scen.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = scen.Timing.DurationS
		}

		if t >= seg.T0 && t < t1 {
			if seg.Enabled != nil {
				cmd.Enabled = *seg.Enabled
			}
			switch {
			case seg.LinearMPS != nil:
				cmd.LinearMPS = *seg.LinearMPS
			case seg.LinearMPH != nil:
				cmd.LinearMPS = utils.MPHToMPS(*seg.LinearMPH)
			}
			cmd.AngularRPS = seg.AngularRPS
			break
		}
	}

	return cmd
}
