package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sleep4at/Smart-Home-System/pkg/logging"
)

const (
	connectRetryInterval = 5 * time.Second
	publishTimeout       = 10 * time.Second
)

// MessageHandler receives inbound messages. Handlers run on the paho
// callback goroutine and must hand work off quickly.
type MessageHandler func(topic string, payload []byte)

// Publisher is the outbound surface used by the command path and the scene
// engine. Tests inject a stub; production uses *Client or *SharedPublisher.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
	IsConnected() bool
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

type willMessage struct {
	topic   string
	payload string
}

// Client wraps one paho session. Subscriptions are tracked and re-established
// from the OnConnect handler, so they survive broker reconnects.
type Client struct {
	cfg      Config
	clientID string
	logger   logging.Logger
	retry    bool

	mu     sync.RWMutex
	subs   map[string]subscription
	client paho.Client
	will   *willMessage
}

// NewClient builds a client for the given role. Connect must be called
// before the session is usable.
func NewClient(cfg Config, role string, logger logging.Logger) *Client {
	return &Client{
		cfg:      cfg,
		clientID: cfg.BuildClientID(role),
		logger:   logger,
		retry:    role == RoleGateway,
		subs:     make(map[string]subscription),
	}
}

// ClientID returns the broker-visible client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// SetLastWill registers the testament the broker publishes if this session
// dies uncleanly. Must be called before Connect.
func (c *Client) SetLastWill(topic, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.will = &willMessage{topic: topic, payload: payload}
}

// Connect dials the broker and waits for the session or ctx, whichever comes
// first. For retrying clients a deadline expiry is not fatal: paho keeps
// dialling in the background and OnConnect restores subscriptions when the
// broker appears.
func (c *Client) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(c.cfg.BrokerURL()).
		SetClientID(c.clientID).
		SetKeepAlive(time.Duration(c.cfg.KeepAlive) * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(c.retry).
		SetConnectRetryInterval(connectRetryInterval)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	if c.cfg.UseTLS {
		tlsCfg, err := c.tlsConfig()
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	c.mu.RLock()
	if c.will != nil {
		opts.SetWill(c.will.topic, c.will.payload, 1, true)
	}
	c.mu.RUnlock()

	opts.SetOnConnectHandler(func(pc paho.Client) {
		c.logger.WithFields(logging.Fields{
			"client_id": c.clientID,
			"broker":    c.cfg.BrokerURL(),
		}).Info("MQTT connected")
		c.resubscribe(pc)
	})
	opts.SetConnectionLostHandler(func(pc paho.Client, err error) {
		c.logger.WithError(err).WithFields(logging.Fields{
			"client_id": c.clientID,
		}).Warn("MQTT connection lost")
	})

	client := paho.NewClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect mqtt %s: %w", c.cfg.BrokerURL(), err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connect mqtt %s: %w", c.cfg.BrokerURL(), ctx.Err())
	}
}

// Subscribe registers a handler for a topic filter. The subscription is
// remembered and re-established on every reconnect. Subscribing before the
// session is up is allowed; OnConnect picks it up.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return nil
	}
	return c.subscribeOn(client, topic, qos, handler)
}

func (c *Client) subscribeOn(pc paho.Client, topic string, qos byte, handler MessageHandler) error {
	token := pc.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *Client) resubscribe(pc paho.Client) {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.RUnlock()

	for topic, sub := range subs {
		if err := c.subscribeOn(pc, topic, sub.qos, sub.handler); err != nil {
			c.logger.WithError(err).WithFields(logging.Fields{
				"client_id": c.clientID,
				"topic":     topic,
			}).Error("MQTT resubscribe failed")
		}
	}
}

// Publish sends a message and waits for the broker handshake up to the
// publish timeout.
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return errors.New("mqtt client not started")
	}

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reflects the current broker session state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.IsConnected()
}

// Disconnect flushes in-flight work and closes the session.
func (c *Client) Disconnect() {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

func (c *Client) tlsConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.cfg.TLSInsecure,
	}

	if c.cfg.CACerts != "" {
		pem, err := os.ReadFile(c.cfg.CACerts)
		if err != nil {
			return nil, fmt.Errorf("read ca certs: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in %s", c.cfg.CACerts)
		}
		tlsCfg.RootCAs = pool
	}

	if c.cfg.CertFile != "" && c.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.CertFile, c.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// SharedPublisher is the process-wide publisher handed to the command path
// and the scene engine. It connects lazily on first use so the HTTP service
// boots even when the broker is down; publishes fail until the session is up.
type SharedPublisher struct {
	client *Client

	mu      sync.Mutex
	started bool
}

// NewSharedPublisher wraps an unconnected client.
func NewSharedPublisher(client *Client) *SharedPublisher {
	return &SharedPublisher{client: client}
}

func (p *SharedPublisher) ensureStarted() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
		p.started = true
	}

	if !p.client.IsConnected() {
		return errors.New("mqtt publisher not connected")
	}
	return nil
}

// Publish connects on first use, then forwards to the underlying client.
func (p *SharedPublisher) Publish(topic string, qos byte, payload []byte) error {
	if err := p.ensureStarted(); err != nil {
		return err
	}
	return p.client.Publish(topic, qos, payload)
}

// IsConnected reports whether the lazily started session is currently up.
func (p *SharedPublisher) IsConnected() bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	return started && p.client.IsConnected()
}

// Disconnect tears down the session if it was ever started.
func (p *SharedPublisher) Disconnect() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		p.client.Disconnect()
	}
}
