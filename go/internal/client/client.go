// Package client speaks the broker's websocket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
	"github.com/mcdev12/buzzer/go/internal/gateway"
)

var ErrClosed = errors.New("client closed")

// Client is one websocket connection to the broker. Replies to Call are
// matched by ack id; every other frame is delivered on Events.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan gateway.Envelope

	events chan gateway.Envelope
	done   chan struct{}
	once   sync.Once
	err    error
}

// Dial connects to a broker websocket endpoint such as ws://host:8080/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan gateway.Envelope),
		events:  make(chan gateway.Envelope, 256),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields every frame that is not a reply to Call. It is closed when
// the connection ends.
func (c *Client) Events() <-chan gateway.Envelope {
	return c.events
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Emit sends an event without waiting for anything.
func (c *Client) Emit(evt buzzer.EventType, data any) error {
	env, err := gateway.NewEnvelope(evt, data)
	if err != nil {
		return err
	}
	return c.write(env)
}

// Call sends an event with a fresh ack id and waits for the matching reply.
func (c *Client) Call(ctx context.Context, evt buzzer.EventType, data any) (gateway.Envelope, error) {
	env, err := gateway.NewEnvelope(evt, data)
	if err != nil {
		return gateway.Envelope{}, err
	}
	env.Ack = uuid.NewString()

	reply := make(chan gateway.Envelope, 1)
	c.mu.Lock()
	c.pending[env.Ack] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.Ack)
		c.mu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return gateway.Envelope{}, err
	}

	select {
	case r := <-reply:
		return r, nil
	case <-c.done:
		return gateway.Envelope{}, ErrClosed
	case <-ctx.Done():
		return gateway.Envelope{}, ctx.Err()
	}
}

// ServerNow asks the broker for its clock. It satisfies clocksync.Prober.
func (c *Client) ServerNow(ctx context.Context) (int64, error) {
	env, err := c.Call(ctx, buzzer.EventTimeSync, nil)
	if err != nil {
		return 0, err
	}
	var reply gateway.TimeReply
	if err := env.Decode(&reply); err != nil {
		return 0, err
	}
	return reply.ServerTime, nil
}

// Next waits for the next event of one of the given types, discarding others.
func (c *Client) Next(ctx context.Context, types ...buzzer.EventType) (gateway.Envelope, error) {
	for {
		select {
		case env, ok := <-c.events:
			if !ok {
				return gateway.Envelope{}, ErrClosed
			}
			if len(types) == 0 {
				return env, nil
			}
			for _, t := range types {
				if env.Type == t {
					return env, nil
				}
			}
		case <-ctx.Done():
			return gateway.Envelope{}, ctx.Err()
		}
	}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) write(env gateway.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.once.Do(func() {
		close(c.done)
		close(c.events)
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}

		var env gateway.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("discarding malformed frame from broker")
			continue
		}

		if env.Ack != "" {
			c.mu.Lock()
			reply, ok := c.pending[env.Ack]
			c.mu.Unlock()
			if ok {
				reply <- env
				continue
			}
		}

		select {
		case c.events <- env:
		default:
			log.Warn().Str("event_type", string(env.Type)).Msg("client event buffer full, dropping event")
		}
	}
}
