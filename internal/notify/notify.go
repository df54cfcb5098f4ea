// Package notify fans events out to subscribers. Each subscriber gets its own
// unbounded queue, so a slow reader never blocks the publisher.
package notify

import (
	"errors"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
)

// ErrServerShuttingDown is returned by Subscribe after Stop.
var ErrServerShuttingDown = errors.New("notification server shutting down")

// Sticky events are replayed to new subscribers. Only the latest event per
// key is kept. Events that do not implement Sticky are delivered once, to the
// subscribers present at publish time.
type Sticky interface {
	StickyKey() string
}

// Client receives events published after (and sticky events published before)
// it subscribed.
type Client struct {
	updates *queue.ConcurrentQueue
	quit    chan struct{}
	cancel  func()
}

// Updates delivers events in publish order.
func (c *Client) Updates() <-chan interface{} {
	return c.updates.ChanOut()
}

// Quit is closed when the subscription ends.
func (c *Client) Quit() <-chan struct{} {
	return c.quit
}

// Cancel ends the subscription. It is safe to call more than once.
func (c *Client) Cancel() {
	c.cancel()
}

// Server manages subscriptions.
type Server struct {
	mu          sync.Mutex
	nextID      uint64
	clients     map[uint64]*Client
	sticky      map[string]interface{}
	stickyOrder []string
	stopped     bool
}

// NewServer returns a ready server.
func NewServer() *Server {
	return &Server{
		clients: make(map[uint64]*Client),
		sticky:  make(map[string]interface{}),
	}
}

// Subscribe registers a new client.
func (s *Server) Subscribe() (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrServerShuttingDown
	}

	s.nextID++
	id := s.nextID
	client := &Client{
		updates: queue.NewConcurrentQueue(20),
		quit:    make(chan struct{}),
	}
	var once sync.Once
	client.cancel = func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			close(client.quit)
			client.updates.Stop()
		})
	}
	client.updates.Start()

	for _, key := range s.stickyOrder {
		client.updates.ChanIn() <- s.sticky[key]
	}
	s.clients[id] = client
	return client, nil
}

// Publish delivers ev to every current subscriber.
func (s *Server) Publish(ev interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if st, ok := ev.(Sticky); ok {
		key := st.StickyKey()
		if _, seen := s.sticky[key]; !seen {
			s.stickyOrder = append(s.stickyOrder, key)
		}
		s.sticky[key] = ev
	}

	for _, c := range s.clients {
		c.updates.ChanIn() <- ev
	}
}

// Stop ends all subscriptions and rejects new ones.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Cancel()
	}
}
