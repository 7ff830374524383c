package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrFrozen is returned by Pause/Resume once shutdown has begun.
var ErrFrozen = errors.New("pause controller is frozen")

// PauseController gates task claims. Once Pause returns, no claim is in flight
// and none can start until Resume. Tasks already claimed are not affected.
type PauseController struct {
	mu       sync.Mutex
	paused   bool
	frozen   bool
	resumeCh chan struct{} // closed on resume; replaced on pause

	gate sync.RWMutex // held shared by every claim, exclusively by Pause
}

func NewPauseController(paused bool) *PauseController {
	pc := &PauseController{resumeCh: make(chan struct{})}
	if paused {
		pc.paused = true
	} else {
		close(pc.resumeCh)
	}
	return pc
}

func (pc *PauseController) Paused() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.paused
}

// Pause 幂等; 返回时已无 claim 在执行
func (pc *PauseController) Pause() error {
	pc.mu.Lock()
	if pc.frozen {
		pc.mu.Unlock()
		return ErrFrozen
	}
	if !pc.paused {
		pc.paused = true
		pc.resumeCh = make(chan struct{})
	}
	pc.mu.Unlock()

	// wait for in-flight claims to drain
	pc.gate.Lock()
	pc.gate.Unlock()
	return nil
}

// Resume 幂等
func (pc *PauseController) Resume() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.frozen {
		return ErrFrozen
	}
	if pc.paused {
		pc.paused = false
		close(pc.resumeCh)
	}
	return nil
}

// Freeze rejects every later toggle. The current state is kept.
func (pc *PauseController) Freeze() {
	pc.mu.Lock()
	pc.frozen = true
	pc.mu.Unlock()
}

// Gate blocks while paused, then runs fn under the shared claim lock.
// Returns ctx.Err() if ctx ends while waiting.
func (pc *PauseController) Gate(ctx context.Context, fn func()) error {
	for {
		pc.mu.Lock()
		wait := pc.resumeCh
		pc.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}

		if pc.runShared(fn) {
			return nil
		}
		// paused between the wait and the lock
	}
}

func (pc *PauseController) runShared(fn func()) bool {
	pc.gate.RLock()
	defer pc.gate.RUnlock()
	if pc.Paused() {
		return false
	}
	fn()
	return true
}
