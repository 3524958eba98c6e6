package fabric

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrBrokerUnavailable is returned when a publish is attempted while the
// broker connection is down. Callers fail fast; paho's auto-reconnect brings
// the connection back with backoff.
var ErrBrokerUnavailable = errors.New("fabric: broker unavailable")

// Handler consumes one broker message.
type Handler func(topic string, payload []byte)

// Bus is the narrow broker surface the fabric components use. Tests provide
// an in-process fake; production uses *Client.
type Bus interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, h Handler) error
	Connected() bool
}

type subscription struct {
	topic string
	qos   byte
	h     Handler
}

// Client wraps the paho MQTT client with reconnect backoff and subscription
// replay. Publishes are fire-and-forget; this client never blocks the caller
// on broker I/O.
type Client struct {
	c mqtt.Client

	mu   sync.Mutex
	subs []subscription
}

// ClientConfig configures the broker connection.
type ClientConfig struct {
	BrokerURL string
	Username  string
	Password  string
	ClientID  string
}

// NewClient builds the paho client. Connect must be called before use.
func NewClient(cfg ClientConfig) *Client {
	cl := &Client{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetOrderMatters(false)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("[fabric] broker connected (%s)", cfg.BrokerURL)
		cl.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[fabric] broker connection lost: %v", err)
	})

	cl.c = mqtt.NewClient(opts)
	return cl
}

// Connect establishes the broker session, blocking until the first attempt
// resolves.
func (cl *Client) Connect() error {
	tok := cl.c.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("fabric: connect: %w", err)
	}
	return nil
}

// Disconnect closes the session, allowing in-flight work a short grace.
func (cl *Client) Disconnect() {
	cl.c.Disconnect(250)
}

// Connected reports broker connectivity.
func (cl *Client) Connected() bool { return cl.c.IsConnectionOpen() }

// Publish sends a message. QoS 0 publishes do not wait for the broker.
func (cl *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !cl.c.IsConnectionOpen() {
		return ErrBrokerUnavailable
	}
	tok := cl.c.Publish(topic, qos, retained, payload)
	if qos > 0 {
		tok.Wait()
		if err := tok.Error(); err != nil {
			return fmt.Errorf("fabric: publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe registers a handler and replays the subscription after every
// reconnect.
func (cl *Client) Subscribe(topic string, qos byte, h Handler) error {
	cl.mu.Lock()
	cl.subs = append(cl.subs, subscription{topic: topic, qos: qos, h: h})
	cl.mu.Unlock()

	return cl.subscribeOnce(topic, qos, h)
}

func (cl *Client) subscribeOnce(topic string, qos byte, h Handler) error {
	tok := cl.c.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("fabric: subscribe %s: %w", topic, err)
	}
	return nil
}

func (cl *Client) resubscribe() {
	cl.mu.Lock()
	subs := make([]subscription, len(cl.subs))
	copy(subs, cl.subs)
	cl.mu.Unlock()

	for _, s := range subs {
		if err := cl.subscribeOnce(s.topic, s.qos, s.h); err != nil {
			log.Printf("[fabric] resubscribe %s failed: %v", s.topic, err)
		}
	}
}
