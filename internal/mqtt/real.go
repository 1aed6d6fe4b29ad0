package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/garage-door/internal/door"
)

const (
	bufferCapacity = 100
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Topics   Topics
}

// client is the subset of paho.Client used for publishing.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client client
	topics Topics
	now    func() time.Time

	mu        sync.Mutex
	buf       *ringBuffer
	everUp    bool
	replaying bool // buffered messages are being sent; new ones queue behind them
}

// NewRealPublisher creates a publisher for the given broker. The broker
// does not have to be reachable yet: paho keeps retrying in the background
// and messages are buffered until the first connection.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := &RealPublisher{
		topics: o.Topics,
		now:    time.Now,
		buf:    newRingBuffer(bufferCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetKeepAlive(60*time.Second).
		SetBinaryWill(o.Topics.System(), will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.handleConnectionLost(err) })

	c := paho.NewClient(opts)
	p.client = c

	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Printf("mqtt: broker %s not reachable yet, buffering", o.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// PublishState sends a retained door state message.
func (p *RealPublisher) PublishState(change door.Change) error {
	payload, err := FormatStatePayload(change)
	if err != nil {
		return fmt.Errorf("format state payload: %w", err)
	}
	return p.send(bufferedMsg{
		topic:    p.topics.State(change.DoorID),
		payload:  payload,
		qos:      1,
		retained: true,
	})
}

// PublishSystem sends a system lifecycle event.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{
		topic:    p.topics.System(),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

// send publishes msg, or buffers it while offline or while older messages
// are still being replayed, so retained topics end on the newest value.
func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	open := p.client.IsConnectionOpen()
	if p.replaying || p.buf.len() > 0 || !open {
		p.buf.push(msg)
		if open && !p.replaying {
			// Left over from a failed replay.
			p.replaying = true
			go p.replay(p.buf.drainAll())
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.publish(msg)
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	reconnect := p.everUp
	p.everUp = true
	if p.replaying {
		if reconnect {
			p.buf.push(p.reconnectedMsg())
		}
		return
	}
	pending := p.buf.drainAll()

	if reconnect {
		log.Printf("mqtt: reconnected")
		pending = append([]bufferedMsg{p.reconnectedMsg()}, pending...)
	} else {
		log.Printf("mqtt: connected")
	}
	if len(pending) == 0 {
		return
	}
	// Published off the callback goroutine: paho blocks tokens issued
	// from inside the OnConnect handler until it returns.
	p.replaying = true
	go p.replay(pending)
}

// replay sends msgs, then anything buffered meanwhile, until the buffer is
// empty. On failure the unsent messages go back to the buffer ahead of
// newer ones.
func (p *RealPublisher) replay(msgs []bufferedMsg) {
	for {
		for i, msg := range msgs {
			if err := p.publish(msg); err != nil {
				p.mu.Lock()
				rest := append(msgs[i:len(msgs):len(msgs)], p.buf.drainAll()...)
				log.Printf("mqtt: replay failed, re-buffering %d messages: %v", len(rest), err)
				for _, m := range rest {
					p.buf.push(m)
				}
				p.replaying = false
				p.mu.Unlock()
				return
			}
		}
		p.mu.Lock()
		msgs = p.buf.drainAll()
		if len(msgs) == 0 {
			p.replaying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

func (p *RealPublisher) reconnectedMsg() bufferedMsg {
	payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
	return bufferedMsg{topic: p.topics.System(), payload: payload, qos: 1}
}

func (p *RealPublisher) handleConnectionLost(err error) {
	log.Printf("mqtt: connection lost: %v", err)
}
