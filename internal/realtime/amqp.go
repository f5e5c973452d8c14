package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"buildtrack/api/internal/metrics"
)

const (
	ExchangeName = "events"
	changeTopic  = "change.#"
)

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil)
}

// AMQPPublisher publishes changes to the topic exchange, redialing lazily
// after the connection drops.
type AMQPPublisher struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPPublisher(url string, logger *zap.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, logger: logger}
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn, p.channel = conn, ch
	return nil
}

func (p *AMQPPublisher) connected() bool {
	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed()
}

func (p *AMQPPublisher) Publish(ctx context.Context, change Change) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected() {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
		p.logger.Info("rabbitmq publisher reconnected")
	}

	err = p.channel.PublishWithContext(ctx, ExchangeName, change.RoutingKey(), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   change.At,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	metrics.IncrementChangePublished(change.Table, string(change.Type), "amqp")
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

// Fanout publishes through the broker and falls back to local delivery when
// the broker is unavailable, so subscribers on this instance still see the
// change.
type Fanout struct {
	Broker Publisher
	Local  *Hub
	Logger *zap.Logger
}

func (f *Fanout) Publish(ctx context.Context, change Change) error {
	if f.Broker == nil {
		return f.Local.Publish(ctx, change)
	}
	if err := f.Broker.Publish(ctx, change); err != nil {
		f.Logger.Warn("broker publish failed, delivering locally",
			zap.String("table", change.Table),
			zap.String("type", string(change.Type)),
			zap.Error(err),
		)
		return f.Local.Publish(ctx, change)
	}
	return nil
}

// Bridge consumes the change topic into a Hub. Each process binds its own
// exclusive queue so every instance sees every change.
type Bridge struct {
	url     string
	hub     *Hub
	logger  *zap.Logger
	backoff func() retry.Backoff
}

func NewBridge(url string, hub *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{
		url:    url,
		hub:    hub,
		logger: logger,
		backoff: func() retry.Backoff {
			b := retry.NewExponential(500 * time.Millisecond)
			b = retry.WithJitterPercent(20, b)
			return retry.WithCappedDuration(30*time.Second, b)
		},
	}
}

// Run blocks until ctx is cancelled, reconnecting with exponential backoff
// whenever the broker connection is lost.
func (b *Bridge) Run(ctx context.Context) {
	for {
		var conn *amqp.Connection
		var deliveries <-chan amqp.Delivery

		err := retry.Do(ctx, b.backoff(), func(ctx context.Context) error {
			c, d, err := b.subscribe()
			if err != nil {
				b.logger.Warn("change bridge connect failed, retrying", zap.Error(err))
				return retry.RetryableError(err)
			}
			conn, deliveries = c, d
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("change bridge gave up", zap.Error(err))
			}
			return
		}

		b.logger.Info("change bridge consuming", zap.String("exchange", ExchangeName))
		b.consume(ctx, deliveries)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("change bridge lost connection, reconnecting")
	}
}

func (b *Bridge) subscribe() (*amqp.Connection, <-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, changeTopic, ExchangeName, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}
	return conn, deliveries, nil
}

func (b *Bridge) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			change, err := decodeChange(msg.Body)
			if err != nil {
				b.logger.Warn("dropping malformed change", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
				continue
			}
			b.hub.deliver(change)
		}
	}
}

func decodeChange(body []byte) (Change, error) {
	var change Change
	if err := json.Unmarshal(body, &change); err != nil {
		return Change{}, err
	}
	if change.Table == "" || change.Type == "" {
		return Change{}, errors.New("change missing table or type")
	}
	return change, nil
}
