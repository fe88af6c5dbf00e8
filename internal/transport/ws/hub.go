// Package ws is the relay: a websocket pub/sub hub plus the HTTP surface for snapshots,
// rosters and the world catalog. It never simulates.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/protocol"
)

// RosterSink receives every position message the relay forwards.
type RosterSink interface {
	UpsertPlayer(worldID string, st protocol.PlayerState, seen time.Time)
}

// Auditor records block changes and system broadcasts.
type Auditor interface {
	WriteBlock(worldID string, bc protocol.BlockChange, at time.Time) error
	WriteSystem(m protocol.SystemMsg, at time.Time) error
}

type Options struct {
	Validator *protocol.Validator
	Roster    RosterSink
	Audit     Auditor

	// KnownWorld reports whether a world id is served. Nil accepts every valid id.
	KnownWorld func(id string) bool

	Logger *log.Logger
	Now    func() time.Time
}

const (
	defaultQueue = 256
	maxQueue     = 1024

	readLimit    = 8 << 20
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
	pingEvery    = 20 * time.Second
)

type Server struct {
	opts Options
	log  *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	subs    map[string]map[*client]struct{}
	roster  map[string]map[string]protocol.PlayerState

	delivered atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
}

type client struct {
	hello protocol.HelloMsg
	out   chan []byte

	// guarded by Server.mu
	channels map[string]struct{}
	last     map[string]protocol.PlayerState

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() { c.closeOnce.Do(func() { close(c.done) }) }

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients       int    `json:"clients"`
	Subscriptions int    `json:"subscriptions"`
	Delivered     uint64 `json:"delivered"`
	Dropped       uint64 `json:"dropped"`
	Rejected      uint64 `json:"rejected"`
}

func NewServer(opts Options) (*Server, error) {
	if opts.Validator == nil {
		v, err := protocol.NewValidator()
		if err != nil {
			return nil, fmt.Errorf("schemas: %w", err)
		}
		opts.Validator = v
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*client]struct{}{},
		subs:    map[string]map[*client]struct{}{},
		roster:  map[string]map[string]protocol.PlayerState{},
	}, nil
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	st := Stats{Clients: len(s.clients)}
	for _, m := range s.subs {
		st.Subscriptions += len(m)
	}
	s.mu.Unlock()
	st.Delivered = s.delivered.Load()
	st.Dropped = s.dropped.Load()
	st.Rejected = s.rejected.Load()
	return st
}

// Roster returns the players the hub has seen on a world's positions channel and that have
// not left, sorted by user id.
func (s *Server) Roster(worldID string) []protocol.PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.PlayerState, 0, len(s.roster[worldID]))
	for _, st := range s.roster[worldID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	cs := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		cs = append(cs, c)
	}
	s.mu.Unlock()
	for _, c := range cs {
		c.close()
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(readLimit)

		c := s.handshake(conn)
		if c == nil {
			return
		}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		defer s.drop(c)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingEvery)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.done:
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutdown"), time.Now().Add(time.Second))
					_ = conn.Close()
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
						cancel()
						return
					}
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handle(c, msg)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.refuse(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		s.refuse(conn, protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version)
		return nil
	}
	if err := s.opts.Validator.Validate("hello.schema.json", msg); err != nil {
		s.refuse(conn, protocol.ErrProtoBadRequest, err.Error())
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.refuse(conn, protocol.ErrProtoBadRequest, err.Error())
		return nil
	}

	q := hello.MaxQueue
	if q <= 0 {
		q = defaultQueue
	}
	if q > maxQueue {
		q = maxQueue
	}
	c := &client{
		hello:    hello,
		out:      make(chan []byte, q),
		channels: map[string]struct{}{},
		last:     map[string]protocol.PlayerState{},
		done:     make(chan struct{}),
	}

	if err := writeJSON(conn, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       hello.SessionID,
		ServerTimeMS:    s.opts.Now().UnixMilli(),
	}); err != nil {
		return nil
	}
	s.log.Printf("hello session=%s user=%s name=%s", hello.SessionID, hello.UserID, hello.Username)
	return c
}

func (s *Server) refuse(conn *websocket.Conn, code, message string) {
	s.rejected.Add(1)
	_ = writeJSON(conn, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func (s *Server) handle(c *client, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.sendError(c, protocol.ErrProtoBadRequest, "bad json", "")
		return
	}
	switch base.Type {
	case protocol.TypeSub, protocol.TypeUnsub:
		var sub protocol.SubMsg
		if err := s.opts.Validator.Validate("sub.schema.json", msg); err != nil {
			s.sendError(c, protocol.ErrProtoBadRequest, err.Error(), "")
			return
		}
		_ = json.Unmarshal(msg, &sub)
		if code, err := s.checkChannel(sub.Channel); err != nil {
			s.sendError(c, code, err.Error(), sub.Channel)
			return
		}
		if base.Type == protocol.TypeSub {
			s.subscribe(c, sub.Channel)
		} else {
			s.unsubscribe(c, sub.Channel)
		}
	case protocol.TypePub:
		var pub protocol.PubMsg
		if err := s.opts.Validator.Validate("pub.schema.json", msg); err != nil {
			s.sendError(c, protocol.ErrProtoBadRequest, err.Error(), "")
			return
		}
		_ = json.Unmarshal(msg, &pub)
		if pub.Channel == protocol.SystemChannel {
			s.sendError(c, protocol.ErrNoPermission, "system broadcasts are admin only", pub.Channel)
			return
		}
		if code, err := s.publish(c, pub.Channel, pub.Payload); err != nil {
			s.sendError(c, code, err.Error(), pub.Channel)
		}
	default:
		s.sendError(c, protocol.ErrProtoBadRequest, "unknown type "+base.Type, "")
	}
}

func (s *Server) checkChannel(ch string) (string, error) {
	worldID, _, ok := protocol.ParseChannel(ch)
	if !ok {
		return protocol.ErrProtoBadRequest, fmt.Errorf("bad channel %q", ch)
	}
	if worldID != "" && s.opts.KnownWorld != nil && !s.opts.KnownWorld(worldID) {
		return protocol.ErrWorldNotFound, fmt.Errorf("world %s not served", worldID)
	}
	return "", nil
}

func (s *Server) subscribe(c *client, ch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.subs[ch]
	if m == nil {
		m = map[*client]struct{}{}
		s.subs[ch] = m
	}
	m[c] = struct{}{}
	c.channels[ch] = struct{}{}
}

func (s *Server) unsubscribe(c *client, ch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked(c, ch)
}

func (s *Server) unsubscribeLocked(c *client, ch string) {
	if m := s.subs[ch]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(s.subs, ch)
		}
	}
	delete(c.channels, ch)
}

// Publish sends a payload from the relay itself, e.g. an admin system broadcast.
func (s *Server) Publish(channel string, payload []byte) error {
	if _, err := s.checkChannel(channel); err != nil {
		return err
	}
	_, err := s.publish(nil, channel, payload)
	return err
}

// Broadcast publishes a system message on the global channel.
func (s *Server) Broadcast(m protocol.SystemMsg) error {
	if m.SentAtMS == 0 {
		m.SentAtMS = s.opts.Now().UnixMilli()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.Publish(protocol.SystemChannel, b)
}

// publish validates the payload, records side effects and fans out. from is nil for
// relay-originated messages.
func (s *Server) publish(from *client, channel string, payload json.RawMessage) (string, error) {
	if code, err := s.checkChannel(channel); err != nil {
		return code, err
	}
	if err := s.opts.Validator.ValidatePayload(channel, payload); err != nil {
		s.rejected.Add(1)
		return protocol.ErrProtoBadRequest, err
	}
	worldID, kind, _ := protocol.ParseChannel(channel)
	now := s.opts.Now()

	switch kind {
	case protocol.ChanPositions:
		var st protocol.PlayerState
		if err := json.Unmarshal(payload, &st); err != nil {
			return protocol.ErrProtoBadRequest, err
		}
		s.mu.Lock()
		s.upsertLocked(worldID, st)
		if from != nil {
			if st.Leaving {
				delete(from.last, worldID)
			} else {
				from.last[worldID] = st
			}
		}
		s.mu.Unlock()
		if s.opts.Roster != nil {
			s.opts.Roster.UpsertPlayer(worldID, st, now)
		}
	case protocol.ChanBlocks:
		if s.opts.Audit != nil {
			var bc protocol.BlockChange
			if err := json.Unmarshal(payload, &bc); err == nil {
				if err := s.opts.Audit.WriteBlock(worldID, bc, now); err != nil {
					s.log.Printf("audit block: %v", err)
				}
			}
		}
	case protocol.KindSystem:
		if s.opts.Audit != nil {
			var m protocol.SystemMsg
			if err := json.Unmarshal(payload, &m); err == nil {
				if err := s.opts.Audit.WriteSystem(m, now); err != nil {
					s.log.Printf("audit system: %v", err)
				}
			}
		}
	}

	s.fanout(channel, payload)
	return "", nil
}

func (s *Server) upsertLocked(worldID string, st protocol.PlayerState) {
	if st.UserID == "" {
		return
	}
	m := s.roster[worldID]
	if m == nil {
		m = map[string]protocol.PlayerState{}
		s.roster[worldID] = m
	}
	if st.Leaving {
		delete(m, st.UserID)
		return
	}
	m[st.UserID] = st
}

func (s *Server) fanout(channel string, payload json.RawMessage) {
	b, err := json.Marshal(protocol.DeliveryMsg{Type: protocol.TypeMsg, Channel: channel, Payload: payload})
	if err != nil {
		return
	}
	s.mu.Lock()
	targets := make([]*client, 0, len(s.subs[channel]))
	for c := range s.subs[channel] {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		select {
		case c.out <- b:
			s.delivered.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) sendError(c *client, code, message, channel string) {
	b, err := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message, Channel: channel})
	if err != nil {
		return
	}
	select {
	case c.out <- b:
	default:
		s.dropped.Add(1)
	}
}

// drop forgets a disconnected client. Players it was moving get a leaving update so
// peers evict them without waiting for the liveness timeout.
func (s *Server) drop(c *client) {
	c.close()
	s.mu.Lock()
	delete(s.clients, c)
	for ch := range c.channels {
		s.unsubscribeLocked(c, ch)
	}
	last := c.last
	c.last = map[string]protocol.PlayerState{}
	s.mu.Unlock()

	for worldID, st := range last {
		st.Leaving = true
		st.SentAtMS = s.opts.Now().UnixMilli()
		b, err := json.Marshal(st)
		if err != nil {
			continue
		}
		if _, err := s.publish(nil, protocol.WorldChannel(worldID, protocol.ChanPositions), b); err != nil {
			s.log.Printf("leave %s/%s: %v", worldID, st.UserID, err)
		}
	}
	s.log.Printf("bye session=%s", c.hello.SessionID)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
