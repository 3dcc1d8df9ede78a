package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solscope/internal/domain"
	"solscope/internal/infra"
)

const (
	feedMaxReconnects = 5
	feedBaseDelay     = 1 * time.Second
	feedMaxDelay      = 30 * time.Second
	feedPingInterval  = 30 * time.Second
	feedReadTimeout   = 90 * time.Second
	feedAckTimeout    = 10 * time.Second
)

// rpcRequest is a JSON-RPC 2.0 request
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcMessage covers both subscription acks and logsNotification pushes
type rpcMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// LogFeed subscribes to program logs over the Solana RPC websocket.
type LogFeed struct {
	wsURL         string
	commitment    string
	maxReconnects int
	baseDelay     time.Duration
	maxDelay      time.Duration
	metrics       *infra.Metrics
	logger        *slog.Logger
}

// NewLogFeed creates a new log feed for the given websocket endpoint
func NewLogFeed(wsURL string, metrics *infra.Metrics) *LogFeed {
	return &LogFeed{
		wsURL:         wsURL,
		commitment:    "confirmed",
		maxReconnects: feedMaxReconnects,
		baseDelay:     feedBaseDelay,
		maxDelay:      feedMaxDelay,
		metrics:       metrics,
		logger:        slog.Default().With("module", "solana_logfeed"),
	}
}

// WithReconnect overrides the reconnect budget (tests)
func (f *LogFeed) WithReconnect(max int, base, maxDelay time.Duration) *LogFeed {
	f.maxReconnects = max
	f.baseDelay = base
	f.maxDelay = maxDelay
	return f
}

// Subscribe opens a logsSubscribe for programID. ctx bounds the initial
// dial and ack only; the subscription lives until Unsubscribe.
// Short drops are healed by reconnecting; once the reconnect budget is spent
// an error wrapping domain.ErrSubscriptionClosed is delivered on Err.
func (f *LogFeed) Subscribe(ctx context.Context, programID string, handler domain.LogHandler) (domain.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil log handler", domain.ErrInvalidArgument)
	}

	s := &subscription{
		feed:      f,
		programID: programID,
		handler:   handler,
		errCh:     make(chan error, 1),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(2)
	go s.run(runCtx)
	go s.pingLoop(runCtx)

	f.logger.Info("Log subscription opened", slog.String("program", programID))
	return s, nil
}

// subscription is one live logsSubscribe
type subscription struct {
	feed      *LogFeed
	programID string
	handler   domain.LogHandler

	mu      sync.RWMutex
	conn    *websocket.Conn
	subID   uint64
	writeMu sync.Mutex
	nextID  atomic.Uint64

	errCh     chan error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Err delivers at most one terminal feed error
func (s *subscription) Err() <-chan error {
	return s.errCh
}

// Unsubscribe stops the read loop and closes the connection. Safe to call twice.
func (s *subscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.RLock()
		subID := s.subID
		s.mu.RUnlock()
		if subID != 0 {
			// best effort; the server drops the subscription with the socket anyway
			_ = s.writeJSON(rpcRequest{
				JSONRPC: "2.0",
				ID:      s.nextID.Add(1),
				Method:  "logsUnsubscribe",
				Params:  []any{subID},
			})
		}

		s.closeConnection()
		s.wg.Wait()
		close(s.errCh)
		s.feed.logger.Info("Log subscription closed", slog.String("program", s.programID))
	})
}

// connect dials, sends logsSubscribe and waits for the subscription id
func (s *subscription) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, s.feed.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	reqID := s.nextID.Add(1)
	err = s.writeJSON(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []any{
			map[string]any{"mentions": []string{s.programID}},
			map[string]any{"commitment": s.feed.commitment},
		},
	})
	if err != nil {
		s.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	subID, err := s.awaitAck(ctx, conn, reqID)
	if err != nil {
		s.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	s.mu.Lock()
	s.subID = subID
	s.mu.Unlock()
	return nil
}

// awaitAck reads until the response for reqID arrives.
// Notifications that race ahead of the ack are delivered normally.
func (s *subscription) awaitAck(ctx context.Context, conn *websocket.Conn, reqID uint64) (uint64, error) {
	deadline := time.Now().Add(feedAckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return 0, err
		}

		var msg rpcMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.ID == nil || *msg.ID != reqID {
			s.dispatch(&msg)
			continue
		}
		if msg.Error != nil {
			return 0, msg.Error
		}
		var subID uint64
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			return 0, fmt.Errorf("invalid subscription id %s: %w", string(msg.Result), err)
		}
		return subID, nil
	}
}

// run reads until the connection drops, then reconnects with backoff
func (s *subscription) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.closeConnection()
	defer func() {
		if r := recover(); r != nil {
			s.feed.logger.Error("Log feed panic recovered", slog.Any("panic", r))
			s.report(fmt.Errorf("%w: panic: %v", domain.ErrSubscriptionClosed, r))
		}
	}()

	for {
		readErr := s.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		s.feed.logger.Warn("Log feed dropped", slog.Any("error", readErr))

		lastErr := readErr
		reconnected := false
		for attempt := 0; attempt < s.feed.maxReconnects; attempt++ {
			delay := s.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			s.feed.metrics.RecordReconnect()
			if err := s.connect(ctx); err != nil {
				lastErr = err
				s.feed.logger.Warn("Log feed reconnect failed",
					slog.Int("attempt", attempt+1),
					slog.Any("error", err),
				)
				continue
			}
			reconnected = true
			s.feed.logger.Info("Log feed reconnected", slog.Int("attempt", attempt+1))
			break
		}

		if !reconnected {
			s.report(fmt.Errorf("%w: %v", domain.ErrSubscriptionClosed, lastErr))
			return
		}
	}
}

// calculateBackoff returns the delay for the current retry attempt
func (s *subscription) calculateBackoff(attempt int) time.Duration {
	delay := s.feed.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > s.feed.maxDelay {
		delay = s.feed.maxDelay
	}
	return delay
}

// readLoop reads messages until the connection fails
func (s *subscription) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			return errors.New("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.closeConnection()
			return err
		}

		var msg rpcMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.feed.logger.Debug("Log feed message parse error", slog.Any("error", err))
			continue
		}
		s.dispatch(&msg)
	}
}

// dispatch hands logsNotification payloads to the handler
func (s *subscription) dispatch(msg *rpcMessage) {
	if msg.Method != "logsNotification" || msg.Params == nil {
		return
	}
	v := msg.Params.Result.Value
	if v.Signature == "" {
		return
	}

	s.feed.metrics.RecordLogEvent()
	s.handler(domain.LogEvent{
		Signature: v.Signature,
		Slot:      msg.Params.Result.Context.Slot,
		Logs:      v.Logs,
		Failed:    len(v.Err) > 0 && string(v.Err) != "null",
	})
}

// pingLoop keeps idle connections alive
func (s *subscription) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}
}

// writeJSON sends a message to the websocket in a thread-safe manner
func (s *subscription) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return errors.New("connection is nil")
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

// report delivers a terminal error without blocking
func (s *subscription) report(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

// closeConnection safely closes the websocket connection
func (s *subscription) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
