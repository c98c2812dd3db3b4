// Package remote provides the change-feed subscription for the visitors table.
package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sementesanta/checkin/backend/internal/logging"
	"github.com/sementesanta/checkin/backend/internal/models"
)

// Change event types pushed by the backend feed.
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ChangeEvent is a single out-of-band change pushed by the backend.
type ChangeEvent struct {
	Type   string          `json:"type"`
	ID     int64           `json:"id,omitempty"`
	Record *models.Visitor `json:"record,omitempty"`
}

// ChangeHandler receives change events from the feed.
type ChangeHandler func(ChangeEvent)

// Subscriber maintains a websocket subscription to the table's change
// feed, reconnecting with backoff when the connection drops.
type Subscriber struct {
	url     string
	apiKey  string
	handler ChangeHandler
	dialer  *websocket.Dialer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSubscriber creates a change-feed subscriber. Events are delivered to
// handler from a single goroutine.
func NewSubscriber(url, apiKey string, handler ChangeHandler) *Subscriber {
	return &Subscriber{
		url:     url,
		apiKey:  apiKey,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Start begins listening for change events until ctx is done or Stop is
// called.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop closes the subscription and waits for the read loop to finish.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// run dials the feed and pumps events, reconnecting with doubling backoff
// capped at 30s. Backoff resets after a successful read.
func (s *Subscriber) run(ctx context.Context) {
	defer s.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.dial(ctx)
		if err != nil {
			logging.Warn("Change feed dial failed, retrying",
				map[string]interface{}{"backoff_seconds": backoff.Seconds()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		logging.Info("Change feed connected", map[string]interface{}{"url": s.url})
		s.readLoop(ctx, conn)
		conn.Close()
		backoff = time.Second
	}
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("apikey", s.apiKey)
		header.Set("Authorization", "Bearer "+s.apiKey)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	return conn, err
}

// readLoop pumps events until the connection errors or ctx is done.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("Change feed read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var ev ChangeEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			logging.Warn("Ignoring malformed change event", map[string]interface{}{"error": err.Error()})
			continue
		}

		s.handler(ev)
	}
}
