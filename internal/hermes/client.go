package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultQueue is the queue group vigil replicas join, so each inbound
// message is moderated by exactly one of them.
const DefaultQueue = "vigil"

// Options configure the bus connection. An empty Queue makes every
// subscriber receive every message.
type Options struct {
	URL   string
	Token string
	Queue string
}

// Handler receives the subject and raw payload of one message.
type Handler func(subject string, data []byte)

type Client struct {
	conn   *nats.Conn
	queue  string
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewClient connects to NATS. Connection attempts are retried in the
// background, so a broker that is down at start-up does not stop the service.
func NewClient(ctx context.Context, o Options, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("vigil"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				logger.Error("nats async error", "subject", sub.Subject, "error", err)
				return
			}
			logger.Error("nats async error", "error", err)
		}),
	}
	if o.Token != "" {
		opts = append(opts, nats.Token(o.Token))
	}

	nc, err := nats.Connect(o.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if nc.IsConnected() {
		logger.Info("nats connected", "url", nc.ConnectedUrlRedacted(), "queue", o.Queue)
	}
	return &Client{conn: nc, queue: o.Queue, logger: logger}, nil
}

// Publish sends data as JSON.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject within the client's queue group.
// A panicking handler is logged and the message dropped; the subscription
// stays alive.
func (c *Client) Subscribe(subject string, handler Handler) error {
	cb := func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("bus handler panicked", "subject", msg.Subject, "panic", r)
			}
		}()
		handler(msg.Subject, msg.Data)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if c.queue != "" {
		sub, err = c.conn.QueueSubscribe(subject, c.queue, cb)
	} else {
		sub, err = c.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject, "queue", c.queue)
	return nil
}

// Announce publishes the service registration event.
func (c *Client) Announce(version string) error {
	return c.Publish(SubjectAgentRegistered, AgentRegistered{
		Service:      "vigil",
		Version:      version,
		Subscribes:   []string{SubjectMessageInbound, SubjectReviewReaction, SubjectInteraction},
		Publishes:    []string{SubjectDecisionMade, SubjectReviewRequested, SubjectReviewResolved},
		RegisteredAt: time.Now().UTC(),
	})
}

// Drain lets in-flight handlers finish and flushes pending publishes, then
// closes the connection.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// Close unsubscribes and closes without draining. Safe after Drain.
func (c *Client) Close() {
	if c.conn.IsClosed() {
		return
	}
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
