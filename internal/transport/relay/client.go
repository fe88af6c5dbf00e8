package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/multiplayer"
)

// ErrDisconnected is returned by Publish while the websocket is down.
var ErrDisconnected = errors.New("relay disconnected")

type Config struct {
	// BaseURL is the relay's http(s) root, e.g. http://127.0.0.1:8080.
	BaseURL string

	SessionID string
	UserID    string
	Username  string

	// MaxQueue asks the relay for a delivery queue of this size. Zero keeps its default.
	MaxQueue int

	HTTPClient *http.Client
	Logger     *log.Logger
}

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
	maxBackoff   = 5 * time.Second
)

// Client is a Bridge over the relay. The websocket reconnects with backoff and replays
// its subscriptions; messages published while it is down are lost.
type Client struct {
	*API

	cfg    Config
	wsURL  string
	logger *log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	lastErr   string
	subs      map[string]map[int]multiplayer.Handler
	nextSub   int

	writeMu sync.Mutex

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	relayErrors atomic.Uint64
	reconnects  atomic.Uint64
}

var _ multiplayer.Bridge = (*Client)(nil)

// Dial connects and completes the HELLO/WELCOME handshake before returning.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[relay] ", log.LstdFlags|log.Lmicroseconds)
	}
	wsURL, err := websocketURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		API:    NewAPI(cfg.BaseURL, cfg.HTTPClient),
		cfg:    cfg,
		wsURL:  wsURL,
		logger: cfg.Logger,
		subs:   map[string]map[int]multiplayer.Handler{},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	go c.run(conn)
	return c, nil
}

func websocketURL(base string) (string, error) {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/v1/ws", nil
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/v1/ws", nil
	default:
		return "", fmt.Errorf("relay url must be http(s): %q", base)
	}
}

// Connected reports whether the websocket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError is the most recent ERROR or connection failure, "" if none.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) RelayErrors() uint64 { return c.relayErrors.Load() }
func (c *Client) Reconnects() uint64  { return c.reconnects.Load() }

// Done is closed once Close has torn the client down.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
	<-c.done
	return nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, c.wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SessionID:       c.cfg.SessionID,
		UserID:          c.cfg.UserID,
		Username:        c.cfg.Username,
		MaxQueue:        c.cfg.MaxQueue,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil || w.ProtocolVersion != protocol.Version {
			_ = conn.Close()
			return nil, fmt.Errorf("handshake: unsupported welcome %q", w.ProtocolVersion)
		}
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		_ = conn.Close()
		return nil, &Error{Code: e.Code, Message: e.Message}
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: unexpected %s", base.Type)
	}

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		if err := c.write(protocol.SubMsg{Type: protocol.TypeSub, Channel: ch}); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)

	backoff := 200 * time.Millisecond
	for {
		err := c.readLoop(conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()

		for {
			select {
			case <-c.stop:
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			next, err := c.connect(ctx)
			cancel()
			if err != nil {
				c.mu.Lock()
				c.lastErr = err.Error()
				c.mu.Unlock()
				continue
			}
			c.reconnects.Add(1)
			c.logger.Printf("reconnected to %s", c.wsURL)
			conn = next
			backoff = 200 * time.Millisecond
			break
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	defer conn.Close()
	for {
		select {
		case <-c.stop:
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeMsg:
			var m protocol.DeliveryMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			c.dispatch(m.Channel, m.Payload)
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			c.relayErrors.Add(1)
			c.mu.Lock()
			c.lastErr = e.Code + ": " + e.Message
			c.mu.Unlock()
			c.logger.Printf("relay error code=%s channel=%s: %s", e.Code, e.Channel, e.Message)
		}
	}
}

func (c *Client) dispatch(channel string, payload []byte) {
	c.mu.Lock()
	handlers := make([]multiplayer.Handler, 0, len(c.subs[channel]))
	for _, h := range c.subs[channel] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(append([]byte(nil), payload...))
	}
}

func (c *Client) write(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// Publish sends one PUB. The relay reports invalid payloads asynchronously as ERROR.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(protocol.PubMsg{Type: protocol.TypePub, Channel: channel, Payload: payload})
}

// Subscribe registers h for channel. The SUB is sent on the first handler and replayed
// on every reconnect.
func (c *Client) Subscribe(ctx context.Context, channel string, h multiplayer.Handler) (func(), error) {
	if _, _, ok := protocol.ParseChannel(channel); !ok {
		return nil, fmt.Errorf("bad channel %q", channel)
	}
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	first := len(c.subs[channel]) == 0
	if first {
		c.subs[channel] = map[int]multiplayer.Handler{}
	}
	c.subs[channel][id] = h
	connected := c.connected
	c.mu.Unlock()

	if first && connected {
		if err := c.write(protocol.SubMsg{Type: protocol.TypeSub, Channel: channel}); err != nil && !errors.Is(err, ErrDisconnected) {
			c.logger.Printf("sub %s: %v", channel, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[channel], id)
			last := len(c.subs[channel]) == 0
			if last {
				delete(c.subs, channel)
			}
			c.mu.Unlock()
			if last {
				_ = c.write(protocol.SubMsg{Type: protocol.TypeUnsub, Channel: channel})
			}
		})
	}, nil
}
