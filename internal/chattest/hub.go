// Package chattest provides an in-process line relay that behaves like a
// TouchFish server, for end-to-end tests of the chat client.
package chattest

import (
	"log/slog"
	"sync"

	"github.com/omochice/touchfish-chat/internal/chat"
)

// Peer is a relay-side client connection and its queue of lines to send.
type Peer struct {
	Conn     chat.Conn
	Outgoing chan []byte
}

// Hub fans lines out to peers. A peer whose queue is full is evicted rather
// than waited on, so one stalled reader never holds up the others.
type Hub struct {
	mu     sync.Mutex
	peers  map[*Peer]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{peers: make(map[*Peer]struct{}), logger: logger}
}

func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
}

// Unregister drops p and closes its queue. It is a no-op for a peer that was
// already evicted.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(p)
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Broadcast queues line for every peer except skip, which may be nil.
func (h *Hub) Broadcast(line []byte, skip *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		if p == skip {
			continue
		}
		select {
		case p.Outgoing <- line:
		default:
			h.logger.Warn("relay queue full, dropping peer", "remote", p.Conn.RemoteAddr())
			h.drop(p)
			p.Conn.Close()
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(p *Peer) {
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	close(p.Outgoing)
}
