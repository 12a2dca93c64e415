// Package session implements the select-loop orchestrator (component F,
// spec §4.6) binding the ring buffer, screen model, PTY backend, detector
// set, grooming, and profile rotator to a shared Store that transport
// adapters read from and write into. Ported from original_source
// session.rs + session/transition.rs, restructured around Go channels and
// goroutines in place of tokio::select! and CancellationToken.
package session

import (
	"context"
	"time"

	"github.com/groblegark/coop-sub001/internal/compositedetect"
	"github.com/groblegark/coop-sub001/internal/detect"
	"github.com/groblegark/coop-sub001/internal/logger"
	"github.com/groblegark/coop-sub001/internal/ptybackend"
)

// Params bundles everything required to build and run a Session.
type Params struct {
	Backend      ptybackend.Backend
	Detectors    []detect.Detector
	Store        *Store
	ConsumerIn   <-chan InputEvent
	Cols, Rows   int
	OptionParser OptionParser
	Encoder      RespondEncoder
}

// Session is a running PTY session: one backend goroutine, one detector
// fan-in goroutine, and the loop goroutine itself.
type Session struct {
	store        *Store
	backend      ptybackend.Backend
	backendOut   chan []byte
	backendIn    chan ptybackend.Input
	consumerIn   <-chan InputEvent
	detected     chan compositedetect.DetectedState
	optionParser OptionParser
	encoder      RespondEncoder
	backendDone  chan ptybackend.Exit
}

// New builds a Session: stamps the initial child PID, sets initial size,
// spawns the backend and detector set, and returns the Session ready to
// Run. The caller must have already set p.Store.InputTx to the send side
// of the same channel passed as p.ConsumerIn, so that grooming and API
// handlers share the one input path the loop reads from (mirrors the
// single `input_tx` the original session threads through both consumer
// requests and deferred delivery).
func New(ctx context.Context, p Params) *Session {
	p.Store.SetChildPID(p.Backend.ChildPID())
	_ = p.Backend.Resize(p.Cols, p.Rows)

	backendOut := make(chan []byte, 256)
	backendIn := make(chan ptybackend.Input, 256)

	backendDone := make(chan ptybackend.Exit, 1)
	go func() {
		exit, err := p.Backend.Run(ctx, backendOut, backendIn)
		if err != nil {
			logger.Warn("backend run returned error", "err", err)
		}
		backendDone <- exit
	}()

	detected := make(chan compositedetect.DetectedState, 64)
	go compositedetect.Run(ctx, p.Detectors, detected)

	return &Session{
		store:        p.Store,
		backend:      p.Backend,
		backendOut:   backendOut,
		backendIn:    backendIn,
		consumerIn:   p.ConsumerIn,
		detected:     detected,
		optionParser: p.OptionParser,
		encoder:      p.Encoder,
		backendDone:  backendDone,
	}
}

// Run executes the select-loop until the backend exits or ctx is
// cancelled, then drains remaining output, waits (with a grace timeout)
// for the backend to actually terminate, and broadcasts the final Exited
// transition. Returns the exit code/signal.
func (s *Session) Run(ctx context.Context) (int, int) {
	rs := &runState{idleTimeout: s.store.Config.IdleTimeout}
	debounce := time.NewTicker(s.store.Config.ScreenDebounce)
	defer debounce.Stop()

loop:
	for {
		select {
		case data, ok := <-s.backendOut:
			if !ok {
				break loop
			}
			feedOutput(s.store, data)

		case ev, ok := <-s.consumerIn:
			if !ok {
				break loop
			}
			switch {
			case ev.Write != nil:
				s.store.bytesWritten.Add(int64(len(ev.Write)))
				select {
				case s.backendIn <- ptybackend.Input{Write: ev.Write}:
				case <-ctx.Done():
					break loop
				}
			case ev.Drain != nil:
				select {
				case s.backendIn <- ptybackend.Input{Drain: ev.Drain}:
				case <-ctx.Done():
					break loop
				}
			case ev.Resize != nil:
				s.store.Screen.Resize(ev.Resize.Cols, ev.Resize.Rows)
				_ = s.backend.Resize(ev.Resize.Cols, ev.Resize.Rows)
			case ev.Signal != "":
				if sig, ok := ptybackend.SignalFromName(ev.Signal); ok {
					pid := s.store.ChildPID()
					if pid != 0 {
						signalGroup(pid, sig)
					}
				}
			}

		case sw := <-s.store.SwitchRetry:
			rs.pendingSwitch = sw

		case ds, ok := <-s.detected:
			if !ok {
				break loop
			}
			if processDetectedState(s.store, ds.State, ds.Tier, ds.Cause, rs, s.optionParser, s.encoder, ctx.Done()) {
				break loop
			}

		case <-debounce.C:
			if s.store.Screen.Changed() {
				snap := s.store.Screen.Snapshot()
				s.store.OutputBus.Publish(OutputEvent{Kind: OutputScreenUpdate, Seq: snap.Seq})
			}

		case <-ctx.Done():
			logger.Debug("session: shutdown requested")
			sighupChildGroup(s.store)
			break loop
		}
	}

	// Drain any remaining buffered output before waiting on exit.
	drained := true
	for drained {
		select {
		case data, ok := <-s.backendOut:
			if !ok {
				drained = false
				break
			}
			feedOutput(s.store, data)
		default:
			drained = false
		}
	}

	var exit ptybackend.Exit
	select {
	case exit = <-s.backendDone:
	case <-time.After(s.store.Config.BackendWaitGrace):
		logger.Warn("backend did not exit within grace period, forcing kill")
		pid := s.store.ChildPID()
		if pid != 0 {
			signalGroup(pid, killSignal)
		}
		exit = ptybackend.Exit{Code: 137, Signal: 9}
	}

	broadcastExit(s.store, exit.Code, exit.Signal)
	return exit.Code, exit.Signal
}
