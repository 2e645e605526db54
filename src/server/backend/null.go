package backend

import "sysworxx-io/src/server/hal"

// NullOutput is a placeholder for an output the hardware does not have.
type NullOutput struct{ hal.Base }

func (NullOutput) IsDummy() bool  { return true }
func (NullOutput) Set(bool) error { return hal.ErrNotImplemented }

// NullInput is a placeholder input. An always-active one reads true, for
// switches that are hard-wired on some models.
type NullInput struct {
	hal.Base
	alwaysActive bool
}

func NewNullInput() NullInput      { return NullInput{} }
func AlwaysActiveInput() NullInput { return NullInput{alwaysActive: true} }

func (NullInput) IsDummy() bool { return true }

func (n NullInput) Get() (bool, error) {
	if n.alwaysActive {
		return true, nil
	}
	return false, hal.ErrNotImplemented
}

type NullTemp struct{ hal.Base }

func (NullTemp) IsDummy() bool         { return true }
func (NullTemp) Get() (float64, error) { return 0, hal.ErrNotImplemented }

// NullWatchdog accepts every request.
type NullWatchdog struct{}

func (NullWatchdog) Enable(bool) error { return nil }
func (NullWatchdog) Service() error    { return nil }
