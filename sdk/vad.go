package golive

import (
	"sync/atomic"

	"github.com/voxlink-go/golive/pkg/core"
)

// activityController enforces manual speech-window bracketing. In automatic
// mode the server classifies speech and the controller is a pass-through;
// validation of the sensitivity parameters happens in the setup codec.
type activityController struct {
	mode VADMode
	open atomic.Bool
}

func newActivityController(mode VADMode) *activityController {
	return &activityController{mode: mode}
}

// checkAudio gates realtime audio: under manual signaling a chunk outside
// an open window is rejected so it can never straddle an activity boundary.
func (c *activityController) checkAudio() error {
	if c.mode == VADManual && !c.open.Load() {
		return core.ErrNoActiveSpeechWindow
	}
	return nil
}

func (c *activityController) begin() error {
	if c.mode != VADManual {
		return core.NewInvalidRequestError("BeginActivity requires manual activity signaling")
	}
	if !c.open.CompareAndSwap(false, true) {
		return core.NewStateError("speech window already open", "activity_open")
	}
	return nil
}

// windowOpen reports whether a manual speech window is currently open.
func (c *activityController) windowOpen() bool {
	return c.mode == VADManual && c.open.Load()
}

func (c *activityController) end() error {
	if c.mode != VADManual {
		return core.NewInvalidRequestError("EndActivity requires manual activity signaling")
	}
	if !c.open.CompareAndSwap(true, false) {
		return core.NewStateError("no speech window open", "activity_closed")
	}
	return nil
}
