package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPauseWaitsForInFlightClaim(t *testing.T) {
	pc := NewPauseController(false)
	release := make(chan struct{})
	claimed := make(chan struct{})
	go func() {
		_ = pc.Gate(context.Background(), func() {
			close(claimed)
			<-release
		})
	}()
	<-claimed

	paused := make(chan struct{})
	go func() {
		_ = pc.Pause()
		close(paused)
	}()
	select {
	case <-paused:
		t.Fatalf("Pause returned while a claim was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-paused:
	case <-time.After(time.Second):
		t.Fatalf("Pause did not return after the claim finished")
	}
	if !pc.Paused() {
		t.Fatalf("expected paused")
	}
}

func TestGateBlocksWhilePaused(t *testing.T) {
	pc := NewPauseController(true)
	ran := make(chan struct{})
	go func() {
		_ = pc.Gate(context.Background(), func() { close(ran) })
	}()
	select {
	case <-ran:
		t.Fatalf("claim ran while paused")
	case <-time.After(50 * time.Millisecond):
	}
	if err := pc.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("claim did not run after resume")
	}
}

func TestGateReturnsOnContextDone(t *testing.T) {
	pc := NewPauseController(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pc.Gate(ctx, func() { t.Fatalf("must not run") }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTogglesAreIdempotent(t *testing.T) {
	pc := NewPauseController(false)
	for i := 0; i < 3; i++ {
		if err := pc.Pause(); err != nil {
			t.Fatalf("pause %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := pc.Resume(); err != nil {
			t.Fatalf("resume %d: %v", i, err)
		}
	}
	if pc.Paused() {
		t.Fatalf("expected running")
	}
}

func TestFrozenControllerRejectsToggles(t *testing.T) {
	pc := NewPauseController(false)
	pc.Freeze()
	if err := pc.Pause(); !errors.Is(err, ErrFrozen) {
		t.Fatalf("pause after freeze: %v", err)
	}
	if err := pc.Resume(); !errors.Is(err, ErrFrozen) {
		t.Fatalf("resume after freeze: %v", err)
	}
	if pc.Paused() {
		t.Fatalf("freeze must keep the current state")
	}
}
