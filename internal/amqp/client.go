package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"grantledger/internal"
	"grantledger/internal/ledger"
	"grantledger/internal/util"
)

const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Client publishes ledger and import events to a topic exchange. It connects lazily
// and stops trying for a while after repeated failures.
type Client struct {
	url          string
	exchangeName string
	routingKey   string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

func NewClient(url, exchangeName, routingKey string) *Client {
	return &Client{url: url, exchangeName: exchangeName, routingKey: routingKey}
}

func (c *Client) connect() error {
	if c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	c.reset()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	c.conn, c.channel = conn, channel
	return nil
}

func (c *Client) reset() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.channel = nil, nil
}

// Publish implements ledger.Publisher. The routing key is the configured
// prefix followed by the event kind, e.g. "ledger.allocate".
func (c *Client) Publish(ctx context.Context, ev ledger.Event) error {
	body, err := NewLedgerMessage(ev).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.send(ctx, string(ev.Kind), body); err != nil {
		return err
	}
	util.Log.WithFields(logrus.Fields{"exchange": c.exchangeName, "kind": ev.Kind, "grant": ev.Grant.Name}).Debug("ledger event published")
	return nil
}

// PublishImport announces a finished import run under "<prefix>.import".
func (c *Client) PublishImport(ctx context.Context, run internal.ImportRun) error {
	body, err := NewImportMessage(run).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.send(ctx, "import", body); err != nil {
		return err
	}
	util.Log.WithFields(logrus.Fields{"exchange": c.exchangeName, "trace": run.TraceID}).Debug("import event published")
	return nil
}

func (c *Client) send(ctx context.Context, kind string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", kind, ErrCircuitOpen)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName,        // exchange
		c.routingKey+"."+kind, // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.reset()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// Close releases the connection, if one was opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.conn, c.channel = nil, nil
	return err
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	if time.Since(c.lastFailure) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	c.lastFailure = time.Now()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, probe := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}

// Connect dials with exponential backoff until it succeeds or ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		err := c.connect()
		c.mu.Unlock()
		if err == nil {
			c.recordSuccess()
			return nil
		}
		wait := exponentialBackoff(attempt)
		util.Log.WithError(err).WithField("retry_in", wait).Warn("AMQP connect failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

var _ ledger.Publisher = (*Client)(nil)
