package control

// DriveState is the engagement state of the twist controller.
//
//	DISABLED --enabled--> ENABLED   longitudinal reset, time reference := now
//	ENABLED --!enabled--> DISABLED  longitudinal reset
//	DISABLED --!enabled--> DISABLED longitudinal reset
//
// Non-finite requests are handled as !enabled.
type DriveState int

const (
	StateDisabled DriveState = iota
	StateEnabled
)

func (s DriveState) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateEnabled:
		return "ENABLED"
	default:
		return "UNKNOWN"
	}
}

// transition applies the per-cycle enable flag and reports whether this
// cycle entered ENABLED. It is the only place the state changes.
func (c *TwistController) transition(enabled bool) (entered bool) {
	switch {
	case !enabled:
		c.state = StateDisabled
		c.resetLongitudinal()
	case c.state == StateDisabled:
		c.state = StateEnabled
		c.resetLongitudinal()
		entered = true
	}
	return entered
}

// resetLongitudinal drops accumulated throttle controller state. Used on
// every disabled cycle, on engagement and during zero-velocity hold.
func (c *TwistController) resetLongitudinal() {
	c.throttle.Reset()
	c.resets++
}
