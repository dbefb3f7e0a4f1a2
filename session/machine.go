// Package session owns the single authoritative application state and the
// pipeline that moves it from startup to playback: device-code auth, surface
// registration, playlist fetch, asset download, scene playback.
package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/easelworks/easel/auth"
	"github.com/easelworks/easel/catalog"
	"github.com/easelworks/easel/download"
	"github.com/easelworks/easel/prefs"
)

// Machine drives the session state. All state mutation happens on a single
// command-loop goroutine, so no transition ever races another; pipeline
// stages run on worker goroutines and post their transitions to the loop.
type Machine struct {
	auth     *auth.Manager
	api      catalog.API
	queue    *download.Queue
	prefs    prefs.Store
	cacheDir string
	nowFunc  func() time.Time
	log      zerolog.Logger

	commands chan func()
	closed   chan struct{}

	// Loop-owned fields. Touched only from the command loop.
	state          State
	pipelineCancel context.CancelFunc
	pipelineDone   chan struct{}
}

// MachineOption modifies a Machine at construction.
type MachineOption func(*Machine)

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(nowFunc func() time.Time) MachineOption {
	return func(m *Machine) {
		m.nowFunc = nowFunc
	}
}

// NewMachine wires the machine. Call Start before anything else and Close
// when finished.
func NewMachine(authManager *auth.Manager, api catalog.API, queue *download.Queue, prefStore prefs.Store, cacheDir string, log zerolog.Logger, options ...MachineOption) (*Machine, error) {
	if authManager == nil {
		return nil, errors.New("[NewMachine] auth manager is required")
	}
	if api == nil {
		return nil, errors.New("[NewMachine] api is required")
	}
	if queue == nil {
		return nil, errors.New("[NewMachine] download queue is required")
	}
	if prefStore == nil {
		return nil, errors.New("[NewMachine] pref store is required")
	}
	if cacheDir == "" {
		return nil, errors.New("[NewMachine] cache dir is required")
	}
	m := &Machine{
		auth:     authManager,
		api:      api,
		queue:    queue,
		prefs:    prefStore,
		cacheDir: cacheDir,
		nowFunc:  time.Now,
		log:      log.With().Str("component", "session").Logger(),
		commands: make(chan func()),
		closed:   make(chan struct{}),
		state:    State{Kind: KindStartup},
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Start launches the command loop.
func (m *Machine) Start() {
	go m.loop()
}

// Close suspends any activity and stops the command loop.
func (m *Machine) Close() {
	m.Suspend()
	close(m.closed)
}

func (m *Machine) loop() {
	for {
		select {
		case cmd := <-m.commands:
			cmd()
		case <-m.closed:
			return
		}
	}
}

// run executes fn on the command loop and waits for it to finish.
func (m *Machine) run(fn func()) {
	done := make(chan struct{})
	select {
	case m.commands <- func() {
		fn()
		close(done)
	}:
		<-done
	case <-m.closed:
	}
}

// Snapshot returns a copy of the current state for the presentation layer.
// The pointers inside are shared but immutable by contract.
func (m *Machine) Snapshot() State {
	var snapshot State
	m.run(func() { snapshot = m.state })
	return snapshot
}

// Resume is the foreground trigger. From Startup and from the terminal
// failure states it (re)starts the sync pipeline; from Playing it restarts
// a scheduler that Suspend halted; anywhere else it is a logged no-op
// because a pipeline is already in flight.
func (m *Machine) Resume() {
	m.run(func() {
		switch m.state.Kind {
		case KindStartup, KindDeviceCodeFailed, KindSyncFailed, KindNoPlaylist:
			m.startPipelineLocked()
		case KindPlaying:
			// Timers were halted on suspend; rebuild playback from the
			// already-resolved assets by rerunning the cheap part of the
			// pipeline (every asset probe will hit the cache).
			m.startPipelineLocked()
		default:
			m.log.Info().Stringer("state", m.state.Kind).Msg("resume ignored, pipeline in flight")
		}
	})
}

// Suspend is the background trigger. It cancels device-code polling and any
// in-flight download batch, halts playback timers, and resets the session to
// Startup so the next Resume replays the pipeline from persisted state.
// Cancelling downloads is a policy choice: cache probes make the restart
// cheap, and nothing may fire timers while backgrounded.
func (m *Machine) Suspend() {
	m.run(func() {
		m.cancelPipelineLocked()
		if m.state.Scheduler != nil {
			m.state.Scheduler.Stop()
		}
		if m.state.Kind != KindStartup {
			m.log.Info().Stringer("from", m.state.Kind).Msg("suspended, session reset")
			m.state = State{Kind: KindStartup}
		}
	})
}

// startPipelineLocked spawns the pipeline goroutine. Runs on the loop.
func (m *Machine) startPipelineLocked() {
	m.cancelPipelineLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.pipelineCancel = cancel
	m.pipelineDone = done

	if m.state.Scheduler != nil {
		m.state.Scheduler.Stop()
	}
	if m.state.Kind != KindStartup {
		m.state = State{Kind: KindStartup}
	}

	go func() {
		defer close(done)
		m.runPipeline(ctx)
	}()
}

// cancelPipelineLocked stops a running pipeline and waits for it to unwind.
// Runs on the loop; the pipeline's pending transitions fail fast because the
// machine refuses them once the context is cancelled.
func (m *Machine) cancelPipelineLocked() {
	if m.pipelineCancel == nil {
		return
	}
	m.pipelineCancel()
	m.pipelineCancel = nil
	m.pipelineDone = nil
}
