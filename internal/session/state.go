// Package session implements the session manager: spec.md §4.7's
// single-session state machine, enforcing at most one Streaming
// session per server instance.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nestream/nestream/internal/nestlog"
)

// State is a session manager state, per spec.md §4.7.
type State string

const (
	StateIdle        State = "idle"
	StatePairing     State = "pairing"
	StatePaired      State = "paired"
	StateLaunching   State = "launching"
	StateStreaming   State = "streaming"
	StateTerminating State = "terminating"
)

// transitions enumerates the legal edges of the session state machine.
var transitions = map[State]map[State]bool{
	StateIdle:        {StatePairing: true},
	StatePairing:     {StatePaired: true, StateTerminating: true},
	StatePaired:      {StateLaunching: true, StateTerminating: true},
	StateLaunching:   {StateStreaming: true, StateTerminating: true},
	StateStreaming:   {StateTerminating: true},
	StateTerminating: {StateIdle: true},
}

// ErrBusy is returned by Launch when a session is already active — the
// caller must translate this to HTTP 503 per spec.md §4.7.
var ErrBusy = fmt.Errorf("session: another session is already active")

// ErrInvalidTransition reports an attempted illegal state change.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("session: illegal transition %s -> %s", e.From, e.To)
}

// Context carries the negotiated parameters of one client session,
// populated across pairing and launch.
type Context struct {
	ClientID     string
	CreatedAt    time.Time
	RemoteKey    []byte
	RemoteKeyID  []byte
	Width        int
	Height       int
	FPS          int
	BitrateKbps  int
	FECPercent   int
	AudioRate    int
	AudioChannels int
}

// Manager owns the single current session slot and its state machine.
// Only one Manager exists per server instance; it enforces "at most
// one Streaming session" by refusing Launch while busy.
type Manager struct {
	logger *nestlog.Logger
	queue  *RequestQueue

	mu      sync.Mutex
	state   State
	ctx     *Context
	onEnter map[State][]func(*Context)
}

// NewManager builds a Manager starting in StateIdle. Launch and
// Terminate requests are serialized through an internal RequestQueue
// (see Run) so a flood of concurrent /launch calls can never race each
// other and a termination always jumps ahead of queued launches.
func NewManager(logger *nestlog.Logger) *Manager {
	if logger == nil {
		logger = nestlog.Default()
	}
	return &Manager{
		logger:  logger,
		queue:   NewRequestQueue(logger),
		state:   StateIdle,
		onEnter: make(map[State][]func(*Context)),
	}
}

// Run drains the Manager's request queue until ctx is canceled. Call
// this once, in its own goroutine, for the lifetime of the process.
func (m *Manager) Run(ctx context.Context) {
	m.queue.Run(ctx)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnEnter registers a callback invoked synchronously whenever the
// manager transitions into s.
func (m *Manager) OnEnter(s State, fn func(*Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[s] = append(m.onEnter[s], fn)
}

// transition validates and applies a state change, invoking any
// registered onEnter hooks for the destination state. Caller must hold m.mu.
func (m *Manager) transition(to State) error {
	if !transitions[m.state][to] {
		return &ErrInvalidTransition{From: m.state, To: to}
	}
	from := m.state
	m.state = to
	m.logger.DebugSession("state transition", "from", from, "to", to)
	for _, fn := range m.onEnter[to] {
		fn(m.ctx)
	}
	return nil
}

// BeginPairing moves Idle -> Pairing for a newly arriving client.
func (m *Manager) BeginPairing(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(StatePairing); err != nil {
		return err
	}
	m.ctx = &Context{ClientID: clientID, CreatedAt: time.Now()}
	return nil
}

// CompletePairing moves Pairing -> Paired once the four-leg exchange
// succeeds, attaching the negotiated remote key material.
func (m *Manager) CompletePairing(remoteKey, remoteKeyID []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(StatePaired); err != nil {
		return err
	}
	if m.ctx != nil {
		m.ctx.RemoteKey = remoteKey
		m.ctx.RemoteKeyID = remoteKeyID
	}
	return nil
}

// Launch submits a /launch request to the request queue and blocks
// until it has been serviced, moving Paired -> Launching. It returns
// ErrBusy if a session is already Launching or Streaming — spec.md
// §4.7's "at most one Streaming session" / scenario S6.
func (m *Manager) Launch(params Context) (*Context, error) {
	var result *Context
	err := m.queue.Submit(context.Background(), RequestLaunch, func() error {
		ctx, err := m.doLaunch(params)
		result = ctx
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) doLaunch(params Context) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateLaunching || m.state == StateStreaming {
		return nil, ErrBusy
	}
	if err := m.transition(StateLaunching); err != nil {
		return nil, err
	}
	if m.ctx == nil {
		m.ctx = &Context{CreatedAt: time.Now()}
	}
	m.ctx.Width, m.ctx.Height = params.Width, params.Height
	m.ctx.FPS, m.ctx.BitrateKbps = params.FPS, params.BitrateKbps
	m.ctx.FECPercent = params.FECPercent
	m.ctx.AudioRate, m.ctx.AudioChannels = params.AudioRate, params.AudioChannels
	return m.ctx, nil
}

// StartStreaming moves the session to Streaming. It performs only the
// state transition: it does not check that RTSP SETUP has completed and
// does not wait for a client PING.
func (m *Manager) StartStreaming() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(StateStreaming)
}

// Terminate submits a termination request to the request queue and
// blocks until it has been serviced. It jumps ahead of any queued
// Launch requests — a disconnect must never be starved behind a
// backlog of launch attempts. Moves any state to Terminating, then
// immediately to Idle, per spec.md §4.7 (client disconnect, shutdown
// signal, fatal error).
func (m *Manager) Terminate() {
	_ = m.queue.Submit(context.Background(), RequestTerminate, func() error {
		m.doTerminate()
		return nil
	})
}

func (m *Manager) doTerminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return
	}
	_ = m.transition(StateTerminating)
	_ = m.transition(StateIdle)
	m.ctx = nil
}

// Current returns the active session context, or nil if Idle.
func (m *Manager) Current() *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}
