package utils

import (
	"fmt"
	"sort"
)

// Frame directions as seen from the DBW node.
const (
	DirRX = "rx"
	DirTX = "tx"
)

type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// HasSignal reports whether the frame carries a signal called name.
func (fd *FrameDef) HasSignal(name string) bool {
	for _, s := range fd.Signals {
		if s.Name == name {
			return true
		}
	}
	return false
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RequireFrame looks up a frame by name and checks its direction and that
// it carries every listed signal.
func (m *CANMap) RequireFrame(name, direction string, signals ...string) (*FrameDef, error) {
	fd, err := m.FrameByName(name)
	if err != nil {
		return nil, err
	}
	if fd.Direction != direction {
		return nil, fmt.Errorf("frame %s: direction %q, want %q", name, fd.Direction, direction)
	}
	for _, s := range signals {
		if !fd.HasSignal(s) {
			return nil, fmt.Errorf("frame %s: missing signal %q", name, s)
		}
	}
	return fd, nil
}
