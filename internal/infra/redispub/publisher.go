package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"solscope/internal/domain"
)

const (
	publishTimeout = 2 * time.Second
	priceTTL       = time.Hour
	queueSize      = 1024
)

// Channel kinds appended to the configured prefix
const (
	KindLaunch = "launches"
	KindTrade  = "trades"
	KindAlert  = "alerts"
)

// Options holds the redis connection settings
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// message is one queued publish, plus an optional last-price write
type message struct {
	kind      string
	payload   []byte
	priceMint string
	price     string
}

// Publisher fans monitor output out to redis pub/sub channels and keeps the
// last traded price per mint under prefix:price:<mint>.
// Writes happen on a single background worker; when its queue is full new
// messages are dropped so observers never wait on redis.
type Publisher struct {
	client  *redis.Client
	prefix  string
	queue   chan message
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewPublisher connects and verifies the connection with PING
func NewPublisher(ctx context.Context, opts Options) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	p := NewPublisherFromClient(client, opts.Prefix)
	p.logger.Info("✅ Connected to redis", slog.String("addr", opts.Addr))
	return p, nil
}

// NewPublisherFromClient wraps an existing client and starts the worker.
// Close releases both.
func NewPublisherFromClient(client *redis.Client, prefix string) *Publisher {
	return newPublisher(client, prefix, queueSize)
}

func newPublisher(client *redis.Client, prefix string, size int) *Publisher {
	if prefix == "" {
		prefix = "solscope"
	}
	p := &Publisher{
		client: client,
		prefix: prefix,
		queue:  make(chan message, size),
		logger: slog.Default().With("module", "redis_publisher"),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Channel returns the full channel name for a kind
func (p *Publisher) Channel(kind string) string {
	return p.prefix + ":" + kind
}

// PriceKey returns the key holding the last traded price of a mint
func (p *Publisher) PriceKey(mint string) string {
	return p.prefix + ":price:" + mint
}

// Close drains queued messages and closes the redis client
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.client.Close()
}

// Dropped returns how many messages were discarded on a full queue
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// OnLaunch publishes a launch
func (p *Publisher) OnLaunch(l domain.TokenLaunch) {
	p.publish(KindLaunch, l)
}

// OnTrade publishes a trade and updates the mint's last price
func (p *Publisher) OnTrade(t domain.TradeActivity) {
	p.publish(KindTrade, t, func(m *message) {
		m.priceMint = t.TokenMint
		m.price = t.Price.String()
	})
}

// PublishAlert publishes a trade alert
func (p *Publisher) PublishAlert(a domain.TradeAlert) {
	p.publish(KindAlert, a)
}

// LastPrice returns the stored last price of a mint, or "" when unknown
func (p *Publisher) LastPrice(ctx context.Context, mint string) (string, error) {
	price, err := p.client.Get(ctx, p.PriceKey(mint)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last price: %w", err)
	}
	return price, nil
}

func (p *Publisher) publish(kind string, v any, opts ...func(*message)) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to marshal payload", slog.String("kind", kind), slog.Any("error", err))
		return
	}
	msg := message{kind: kind, payload: data}
	for _, opt := range opts {
		opt(&msg)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("Publish queue full, dropping", slog.String("kind", kind), slog.Uint64("dropped", n))
		}
	}
}

// run owns all writes to redis
func (p *Publisher) run() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.send(msg)
	}
}

func (p *Publisher) send(msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channel := p.Channel(msg.kind)
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, channel, msg.payload)
		if msg.priceMint != "" {
			pipe.Set(ctx, p.PriceKey(msg.priceMint), msg.price, priceTTL)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("Failed to publish", slog.String("channel", channel), slog.Any("error", err))
	}
}
