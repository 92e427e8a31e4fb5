// Package hub is the process-wide registry of live lobbies, keyed by session
// id. It owns lobby lifecycle: entries are created only on request by a caller
// that has already confirmed the session exists, and every lobby is shut down
// with the hub.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/whoistalking-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

// RemoveLobby drops the lobby for ID. With IfIdle set, a lobby that still
// has connected clients is kept.
type RemoveLobby struct {
	ID     string
	IfIdle bool
}

type ListLobbies struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.ID] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.ID]; lb != nil {
					msg.Reply <- lb
					break
				}
				lb := lobby.New(h.ctx, msg.ID, h.log)
				h.lobbies[msg.ID] = lb
				msg.Reply <- lb

			case RemoveLobby:
				if lb := h.lobbies[msg.ID]; lb != nil {
					if msg.IfIdle && lb.NumClients() > 0 {
						break
					}
					lb.Shutdown()
					delete(h.lobbies, msg.ID)
				}

			case ListLobbies:
				ids := make([]string, 0, len(h.lobbies))
				for id := range h.lobbies {
					ids = append(ids, id)
				}
				msg.Reply <- ids

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, lb := range h.lobbies {
		lb.Shutdown()
		delete(h.lobbies, id)
	}
}

// Get returns the live lobby for id, or nil.
func (h *Hub) Get(id string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	if !h.send(GetLobby{ID: id, Reply: reply}) {
		return nil
	}
	return h.recv(reply)
}

// Ensure returns the lobby for id, creating it if needed. Callers must have
// checked that the session exists. It returns nil once the hub is shut down.
func (h *Hub) Ensure(id string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	if !h.send(EnsureLobby{ID: id, Reply: reply}) {
		return nil
	}
	return h.recv(reply)
}

// Remove shuts down and forgets the lobby for id.
func (h *Hub) Remove(id string) {
	h.send(RemoveLobby{ID: id})
}

// RemoveIdle is Remove for a lobby nobody is watching. It leaves the lobby
// alone if a client is connected when the hub gets to it.
func (h *Hub) RemoveIdle(id string) {
	h.send(RemoveLobby{ID: id, IfIdle: true})
}

func (h *Hub) List() []string {
	reply := make(chan []string, 1)
	if !h.send(ListLobbies{Reply: reply}) {
		return nil
	}
	select {
	case ids := <-reply:
		return ids
	case <-h.ctx.Done():
		return nil
	}
}

// Shutdown closes every lobby and stops the hub loop.
func (h *Hub) Shutdown() {
	if !h.send(ShutdownHub{}) {
		return
	}
	<-h.ctx.Done()
}

func (h *Hub) send(m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) recv(reply chan *lobby.Lobby) *lobby.Lobby {
	select {
	case lb := <-reply:
		return lb
	case <-h.ctx.Done():
		return nil
	}
}
