// Package lobby holds the live, in-memory side of one game session: the
// exclusive scope that guards its state, the driver-active flag, the viewer
// connections and the pending human-turn timeout.
package lobby

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Lobby struct {
	id string

	// mu is the session's exclusive scope. Session reads/writes, message
	// appends and the driving flag all happen while it is held.
	mu      sync.Mutex
	driving bool

	clientsMu sync.Mutex
	clients   map[string]Conn

	timerMu sync.Mutex
	timeout *pendingTimeout

	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// View is a point-in-time summary, mostly for tests and diagnostics.
type View struct {
	ID             string
	NumClients     int
	Driving        bool
	TimeoutPending bool
}

func New(parent context.Context, id string, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	return &Lobby{
		id:      id,
		clients: make(map[string]Conn),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(zap.String("session_id", id)),
	}
}

func (l *Lobby) ID() string { return l.id }

// Context is cancelled when the lobby shuts down.
func (l *Lobby) Context() context.Context { return l.ctx }

// Lock enters the session's exclusive scope.
func (l *Lobby) Lock() { l.mu.Lock() }

func (l *Lobby) Unlock() { l.mu.Unlock() }

// TryStartDriver marks a driver active unless one already is. The caller must
// hold the scope and must start the driver only when it returns true.
func (l *Lobby) TryStartDriver() bool {
	if l.driving {
		return false
	}
	l.driving = true
	return true
}

// DriverStopped clears the active flag. The driver calls it while still
// holding the scope in which it decided to stop, so a trigger that commits
// afterwards always finds the flag clear.
func (l *Lobby) DriverStopped() { l.driving = false }

// Driving reports the flag. The caller must hold the scope.
func (l *Lobby) Driving() bool { return l.driving }

func (l *Lobby) View() View {
	l.mu.Lock()
	driving := l.driving
	l.mu.Unlock()
	return View{
		ID:             l.id,
		NumClients:     l.NumClients(),
		Driving:        driving,
		TimeoutPending: l.TimeoutPending(),
	}
}

// Shutdown stops the pending timeout, closes every connection and cancels
// the lobby context. It is safe to call more than once.
func (l *Lobby) Shutdown() {
	l.CancelTimeout()
	l.clientsMu.Lock()
	conns := make([]Conn, 0, len(l.clients))
	for id, c := range l.clients {
		conns = append(conns, c)
		delete(l.clients, id)
	}
	l.clientsMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	l.cancel()
}
