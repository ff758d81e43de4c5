// Package messaging wraps a NATS connection used to relay per-user push
// events between server instances. A single-node deployment runs without it;
// when enabled, every push is mirrored to the user's subject so connections
// held by other nodes receive it too.
package messaging

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectUserPush is the subject prefix for per-user push events,
// completed with the numeric account id.
const SubjectUserPush = "pigeon.push.user"

type Client struct {
	conn *nats.Conn
	log  *log.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

func DefaultConfig(url, name string) Config {
	return Config{
		URL:           url,
		Name:          name,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

func connectOptions(config Config, logger *log.Logger) []nats.Option {
	return []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Printf("nats disconnected: %v", err)
			} else {
				logger.Printf("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Printf("nats connection closed")
		}),
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config, logger *log.Logger) (*Client, error) {
	nc, err := nats.Connect(config.URL, connectOptions(config, logger)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{
		conn: nc,
		log:  logger,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishUserPush publishes a push payload to the subject of one account.
func (c *Client) PublishUserPush(accountId int, data []byte) error {
	subject := fmt.Sprintf("%s.%d", SubjectUserPush, accountId)
	return c.conn.Publish(subject, data)
}

// SubscribeUserPush registers a handler for push events of all accounts.
// The account id is parsed from the subject's last token.
func (c *Client) SubscribeUserPush(handler func(accountId int, data []byte)) error {
	subject := SubjectUserPush + ".*"
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		idx := strings.LastIndex(msg.Subject, ".")
		if idx < 0 {
			return
		}

		accountId, err := strconv.Atoi(msg.Subject[idx+1:])
		if err != nil {
			return
		}

		handler(accountId, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Printf("nats drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Printf("nats connection drain: %v", err)
	}
}
