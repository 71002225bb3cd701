package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dropgate/dropgate/internal/clock"
	"github.com/dropgate/dropgate/protocol"
)

// Manager fans one Source out to several destinations concurrently, each
// driven by its own Session and Sender so a session id collision between
// destinations is impossible and one destination's resume state never
// leaks into another's.
type Manager struct {
	source  protocol.Source
	meta    protocol.Metadata
	opts    protocol.Options
	clk     clock.Clock
	log     *slog.Logger
	version int

	mu   sync.RWMutex
	dest map[string]*Destination
}

// NewManager constructs a Manager that will broadcast source (described by
// meta) to destinations added via AddDestination.
func NewManager(source protocol.Source, meta protocol.Metadata, opts protocol.Options, clk clock.Clock, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		source:  source,
		meta:    meta,
		opts:    opts,
		clk:     clk,
		log:     log.With("component", "relay_manager"),
		version: protocol.ProtocolVersion,
		dest:    make(map[string]*Destination),
	}
}

// AddDestination registers a new fan-out target. dial is called (with
// retries) when Broadcast starts sending to id.
func (m *Manager) AddDestination(id string, dial Dialer, retries int, backoff time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.dest[id]; exists {
		return fmt.Errorf("relay: destination already registered: %s", id)
	}
	m.dest[id] = NewDestination(id, dial, retries, backoff, m.clk, m.log)
	return nil
}

// RemoveDestination drops id from future broadcasts; in-flight sends to it
// are unaffected.
func (m *Manager) RemoveDestination(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dest, id)
}

// Broadcast sends the configured Source to every registered destination
// concurrently, one independent Session per destination. It blocks until
// every destination reaches a terminal state and returns a map of
// per-destination errors (nil entries denote success). A single
// destination failing never aborts delivery to the others.
func (m *Manager) Broadcast(ctx context.Context) map[string]error {
	m.mu.RLock()
	destinations := make([]*Destination, 0, len(m.dest))
	for _, d := range m.dest {
		destinations = append(destinations, d)
	}
	m.mu.RUnlock()

	results := make(map[string]error, len(destinations))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, d := range destinations {
		wg.Add(1)
		go func(d *Destination) {
			defer wg.Done()
			err := d.send(ctx, func(ch protocol.Channel) *protocol.Sender {
				sess := protocol.NewSession(d.SessionID, m.version)
				sess.SetMeta(m.meta)
				return protocol.NewSender(sess, m.source, ch, m.opts, m.clk, m.log, nil)
			})
			mu.Lock()
			results[d.ID] = err
			mu.Unlock()
		}(d)
	}

	wg.Wait()
	return results
}

// Status reports the current state of every registered destination.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]Status, len(m.dest))
	for id, d := range m.dest {
		status[id] = d.Status()
	}
	return status
}

// Metrics reports the current metrics of every registered destination.
func (m *Manager) Metrics() map[string]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics := make(map[string]Metrics, len(m.dest))
	for id, d := range m.dest {
		metrics[id] = d.Metrics()
	}
	return metrics
}

// DestinationCount returns the number of registered destinations.
func (m *Manager) DestinationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dest)
}
