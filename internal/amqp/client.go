// Package amqp carries bus messages over a RabbitMQ topic exchange. The
// message topic is used as the routing key.
package amqp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/buildtall-systems/orderbridge/internal/bridge"
)

// DefaultExchange is the topic exchange bus messages are published to.
const DefaultExchange = "orderbridge"

var (
	// ErrNack indicates the broker refused a published message.
	ErrNack = errors.New("publish NACK from broker")
	// ErrClosed indicates the broker connection is gone.
	ErrClosed = errors.New("rabbitmq connection is closed")
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string // default "/"
	UseTLS   bool
	Exchange string // default DefaultExchange
}

// URL builds the AMQP connection URL with escaped credentials.
func (cfg Config) URL() string {
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}
	scheme := "amqp"
	if cfg.UseTLS {
		scheme = "amqps"
	}
	u := url.URL{
		Scheme:  scheme,
		User:    url.UserPassword(cfg.User, cfg.Password),
		Host:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:    "/" + vhost,
		RawPath: "/" + url.PathEscape(vhost),
	}
	return u.String()
}

// confirmation is the broker's pending answer for one published message.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// publishFunc sends one message and returns its own confirmation.
type publishFunc func(ctx context.Context, topic string, msg amqp.Publishing) (confirmation, error)

type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	publish  publishFunc

	consumers []*amqp.Channel
	cmu       sync.Mutex
	wg        sync.WaitGroup
}

// Dial connects, declares the exchange and enables publisher confirms.
func Dial(cfg Config) (*Client, error) {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}

	var (
		conn *amqp.Connection
		err  error
	)
	if cfg.UseTLS {
		conn, err = amqp.DialTLS(cfg.URL(), &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		conn, err = amqp.Dial(cfg.URL())
	}
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enabling confirms: %w", err)
	}

	c := &Client{conn: conn, ch: ch, exchange: exchange}
	c.publish = func(ctx context.Context, topic string, msg amqp.Publishing) (confirmation, error) {
		if err := c.Ping(); err != nil {
			return nil, err
		}
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, topic, false, false, msg)
		if err != nil {
			return nil, err
		}
		if dc == nil {
			return nil, errors.New("channel is not in confirm mode")
		}
		return dc, nil
	}

	log.Printf("connected to broker %s:%d, exchange %s", cfg.Host, cfg.Port, exchange)
	return c, nil
}

// Ping reports whether the connection is still open.
func (c *Client) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}

// Publish sends payload with routing key topic and waits for the broker's
// confirm of that message or ctx. A confirm that arrives after ctx is done
// is discarded with its message.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	conf, err := c.publish(ctx, topic, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  ContentType(payload),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	ack, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirm on %s: %w", topic, err)
	}
	if !ack {
		return ErrNack
	}
	return nil
}

// Subscribe binds an exclusive queue to topic and calls h for each
// delivery until ctx is done. Deliveries are acked after h returns.
func (c *Client) Subscribe(ctx context.Context, topic string, h bridge.Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consumer channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declaring queue for %s: %w", topic, err)
	}
	if err := ch.QueueBind(q.Name, topic, c.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("binding queue for %s: %w", topic, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("setting qos: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, ConsumerTag(topic), false, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consuming %s: %w", topic, err)
	}

	c.cmu.Lock()
	c.consumers = append(c.consumers, ch)
	c.cmu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Printf("consumer for %s closed", topic)
					return
				}
				h(ctx, d.Body)
				if err := d.Ack(false); err != nil {
					log.Printf("ack failed on %s: %v", topic, err)
				}
			}
		}
	}()

	log.Printf("subscribed to %s on exchange %s", topic, c.exchange)
	return nil
}

// Close closes consumer channels, waits for their loops and closes the
// connection.
func (c *Client) Close() {
	c.cmu.Lock()
	for _, ch := range c.consumers {
		_ = ch.Close()
	}
	c.consumers = nil
	c.cmu.Unlock()

	c.wg.Wait()

	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ContentType labels JSON payloads as application/json and anything else
// as plain text.
func ContentType(payload []byte) string {
	if json.Valid(payload) {
		return "application/json"
	}
	return "text/plain"
}

// ConsumerTag returns a unique consumer tag for topic.
func ConsumerTag(topic string) string {
	return "orderbridge-" + topic + "-" + uuid.NewString()
}
