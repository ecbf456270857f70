package nvmctrl

import (
	"time"

	"github.com/pkg/errors"
)

// NVM is the synchronous adapter every other package talks to. It is not safe
// for concurrent use: the controller has a single page buffer and a single
// outstanding command.
type NVM struct {
	ctrl Controller
	geo  Geometry

	/* Zero means wait forever, like the firmware does */
	Timeout time.Duration
	Now     func() time.Time

	LogFunc func(format string, params ...any)
}

func New(ctrl Controller, geo Geometry) *NVM {
	return &NVM{
		ctrl: ctrl,
		geo:  geo,
		Now:  time.Now,
	}
}

func (n *NVM) log(format string, params ...any) {
	if n.LogFunc != nil {
		n.LogFunc(format, params...)
	}
}

func (n *NVM) Geometry() Geometry {
	return n.geo
}

func (n *NVM) Ready() bool {
	return n.ctrl.Status()&StatusReady > 0
}

func (n *NVM) AFirst() bool {
	return n.ctrl.Status()&StatusAFirst > 0
}

// WaitReady polls until the controller accepts a new command. Error flags
// left behind by the previous command are cleared and reported here.
func (n *NVM) WaitReady() error {
	var deadline time.Time
	if n.Timeout > 0 {
		deadline = n.Now().Add(n.Timeout)
	}

	for !n.Ready() {
		if n.Timeout > 0 && n.Now().After(deadline) {
			n.log("nvm: not ready after %v", n.Timeout)
			return errors.Wrapf(ErrorTimeout, "waited %v", n.Timeout)
		}
	}

	flags := n.ctrl.IntFlags()
	if flags&intFlagErrors == 0 {
		return nil
	}

	n.ctrl.ClearIntFlags(flags & intFlagErrors)
	n.log("nvm: error flags %04x", uint16(flags))
	return flagError(flags)
}

func (n *NVM) SetWriteMode(mode WriteMode) {
	n.ctrl.SetWriteMode(mode)
}

func (n *NVM) SetAddress(addr uint32) {
	n.ctrl.SetAddress(addr)
}

/* Exec never waits, callers decide when completion matters */
func (n *NVM) Exec(cmd Command) {
	n.ctrl.Execute(cmd, Key)
}

func (n *NVM) StoreWord(addr uint32, value uint32) {
	n.ctrl.StoreWord(addr, value)
}

func (n *NVM) ReadAt(p []byte, off int64) (int, error) {
	return n.ctrl.ReadAt(p, off)
}
