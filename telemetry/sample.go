// Package telemetry publishes one sample per control cycle to a message bus.
// Publishing is best effort; callers log failures and keep controlling.
package telemetry

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	control "dbw-twist-core/dbw_node/twist_control"
)

// Sample is the per-cycle record published by the DBW node.
type Sample struct {
	Session    uuid.UUID              `json:"session"`
	Timestamp  time.Time              `json:"timestamp"`
	Cycle      uint64                 `json:"cycle"`
	State      string                 `json:"state"`
	SampleTime float64                `json:"sample_time_s"`
	Holding    bool                   `json:"holding"`
	Stale      bool                   `json:"command_stale"`
	Request    control.ControlRequest `json:"request"`
	Command    control.ControlCommand `json:"command"`
}

// Marshal encodes the sample as JSON.
func (s Sample) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Sink receives telemetry samples.
type Sink interface {
	Publish(s Sample) error
	Close()
}

// NopSink drops every sample.
type NopSink struct{}

func (NopSink) Publish(Sample) error { return nil }
func (NopSink) Close()               {}

// MultiSink fans a sample out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(s Sample) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() {
	for _, sink := range m {
		sink.Close()
	}
}
