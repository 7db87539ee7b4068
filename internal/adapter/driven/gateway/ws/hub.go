package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
)

var ErrHubStopped = errors.New("hub stopped")

// implements port.RealTimeGateway
type Hub struct {
	mu         sync.RWMutex
	clients    map[domain.UserID]map[port.Client]struct{}
	register   chan port.Client
	unregister chan port.Client
	quit       chan struct{}
	stopOnce   sync.Once
	metrics    *metrics.Registry
}

func NewHub(m *metrics.Registry) *Hub {
	return &Hub{
		clients:    make(map[domain.UserID]map[port.Client]struct{}),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		quit:       make(chan struct{}),
		metrics:    m,
	}
}

// SendEvent writes e to every socket the user has open. An offline user is
// not an error: they pick the call state up again over REST.
func (h *Hub) SendEvent(ctx context.Context, userID domain.UserID, e domain.Event) error {
	h.mu.RLock()
	targets := make([]port.Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range targets {
		if err := c.Send(e); err != nil {
			log.Warn().Err(err).
				Str("client_id", c.ID()).
				Str("event", string(e.Name)).
				Msg("Dropping event for client")
			errs = append(errs, err)
		}
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	return nil
}

func (h *Hub) Online(userID domain.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for userID, set := range h.clients {
				for client := range set {
					client.Close()
					h.metrics.Disconnected()
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.UserID()]
			if !ok {
				set = make(map[port.Client]struct{})
				h.clients[client.UserID()] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()
			h.metrics.Connected()
			log.Info().
				Str("client_id", client.ID()).
				Str("user_id", client.UserID().String()).
				Msg("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			set := h.clients[client.UserID()]
			_, ok := set[client]
			if ok {
				delete(set, client)
				if len(set) == 0 {
					delete(h.clients, client.UserID())
				}
			}
			h.mu.Unlock()
			if ok {
				client.Close()
				h.metrics.Disconnected()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}
		}
	}
}

func (h *Hub) Register(c port.Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.quit:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(c port.Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
