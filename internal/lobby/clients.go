package lobby

import (
	"go.uber.org/zap"
)

// Conn is one viewer connection. Send must not block: a connection that
// cannot take the payload right away returns an error and gets pruned.
type Conn interface {
	Send(payload any) error
	Close() error
}

// Register maps clientID to c. A different connection already registered
// under the same id is closed first, so a reconnecting client never leaves
// its old socket behind.
func (l *Lobby) Register(clientID string, c Conn) {
	l.clientsMu.Lock()
	old := l.clients[clientID]
	l.clients[clientID] = c
	l.clientsMu.Unlock()

	if old != nil && old != c {
		l.log.Debug("replacing stale connection", zap.String("client_id", clientID))
		_ = old.Close()
	}
}

// Unregister removes clientID only if c is still the registered connection.
func (l *Lobby) Unregister(clientID string, c Conn) {
	l.clientsMu.Lock()
	defer l.clientsMu.Unlock()
	if l.clients[clientID] == c {
		delete(l.clients, clientID)
	}
}

func (l *Lobby) NumClients() int {
	l.clientsMu.Lock()
	defer l.clientsMu.Unlock()
	return len(l.clients)
}

// Broadcast sends payload to every registered connection and prunes the ones
// that fail. Sends happen one after another under the client lock, so each
// recipient sees broadcasts in the order they were made. It returns how many
// connections accepted the payload.
func (l *Lobby) Broadcast(payload any) int {
	var dead []Conn

	l.clientsMu.Lock()
	delivered := 0
	for id, c := range l.clients {
		if err := c.Send(payload); err != nil {
			l.log.Debug("pruning connection", zap.String("client_id", id), zap.Error(err))
			delete(l.clients, id)
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	l.clientsMu.Unlock()

	for _, c := range dead {
		_ = c.Close()
	}
	return delivered
}
