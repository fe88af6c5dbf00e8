package ws_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/persistence/kvdb"
	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/multiworld"
	"tilecraft.ai/internal/sim/terrain"
	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/world"
	"tilecraft.ai/internal/transport/ws"
)

type relay struct {
	srv   *httptest.Server
	hub   *ws.Server
	store *kvdb.Store
	audit *persistlog.AuditLogger
	dir   string
}

func testCatalog() multiworld.Config {
	cfg := multiworld.Config{
		DefaultWorldID: "main",
		Worlds: []multiworld.WorldSpec{
			{ID: "main", Seed: 1, Width: 20, Height: 16},
			{ID: "sandbox", Seed: 2, Width: 20, Height: 16, AllowReset: true},
		},
	}
	cfg.Normalize()
	return cfg
}

func newRelay(t *testing.T) *relay {
	t.Helper()
	dir := t.TempDir()
	store, err := kvdb.OpenSQLite(filepath.Join(dir, "relay.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	audit := persistlog.NewAuditLogger(dir)
	cat := testCatalog()
	logger := log.New(io.Discard, "", 0)
	hub, err := ws.NewServer(ws.Options{
		Roster: store,
		Audit:  audit,
		KnownWorld: func(id string) bool {
			_, ok := cat.WorldSpecByID(id)
			return ok
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(ws.NewRouter(ws.RouterConfig{Hub: hub, Store: store, Worlds: cat, Logger: logger}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		_ = audit.Close()
		_ = store.Close()
	})
	return &relay{srv: srv, hub: hub, store: store, audit: audit, dir: dir}
}

func (r *relay) wsURL() string { return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/v1/ws" }

func (r *relay) dialRaw(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (r *relay) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	conn := r.dialRaw(t)
	send(t, conn, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SessionID:       "sess-" + name,
		UserID:          "user-" + name,
		Username:        name,
	})
	var w protocol.WelcomeMsg
	read(t, conn, &w)
	if w.Type != protocol.TypeWelcome || w.SessionID != "sess-"+name {
		t.Fatalf("welcome = %+v", w)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func position(name string, x float64) json.RawMessage {
	b, _ := json.Marshal(protocol.PlayerState{
		UserID:    "user-" + name,
		Username:  name,
		SessionID: "sess-" + name,
		X:         x,
		Equipment: protocol.EmptyEquipment(),
		SentAtMS:  1,
	})
	return b
}

func TestHandshake_Rejects(t *testing.T) {
	r := newRelay(t)

	conn := r.dialRaw(t)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.9", SessionID: "s", UserID: "u", Username: "n"})
	var e protocol.ErrorMsg
	read(t, conn, &e)
	if e.Code != protocol.ErrProtoVersion {
		t.Fatalf("version error = %+v", e)
	}

	conn = r.dialRaw(t)
	send(t, conn, protocol.SubMsg{Type: protocol.TypeSub, Channel: "global/system"})
	read(t, conn, &e)
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("non-hello error = %+v", e)
	}

	conn = r.dialRaw(t)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, SessionID: "s", UserID: "u"})
	read(t, conn, &e)
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("missing username error = %+v", e)
	}
}

func TestPubSub_FanOutAndValidation(t *testing.T) {
	r := newRelay(t)
	a := r.dial(t, "alice")
	b := r.dial(t, "bob")
	ch := protocol.WorldChannel("main", protocol.ChanPositions)

	send(t, a, protocol.SubMsg{Type: protocol.TypeSub, Channel: ch})
	send(t, b, protocol.SubMsg{Type: protocol.TypeSub, Channel: ch})
	waitFor(t, "subscriptions", func() bool { return r.hub.Stats().Subscriptions == 2 })

	send(t, a, protocol.PubMsg{Type: protocol.TypePub, Channel: ch, Payload: position("alice", 32)})
	for _, conn := range []*websocket.Conn{a, b} {
		var m protocol.DeliveryMsg
		read(t, conn, &m)
		var st protocol.PlayerState
		if m.Type != protocol.TypeMsg || m.Channel != ch || json.Unmarshal(m.Payload, &st) != nil || st.X != 32 {
			t.Fatalf("delivery = %+v", m)
		}
	}
	if ros := r.hub.Roster("main"); len(ros) != 1 || ros[0].UserID != "user-alice" {
		t.Fatalf("hub roster = %+v", ros)
	}

	send(t, a, protocol.PubMsg{Type: protocol.TypePub, Channel: ch, Payload: json.RawMessage(`{"user_id":"x"}`)})
	var e protocol.ErrorMsg
	read(t, a, &e)
	if e.Code != protocol.ErrProtoBadRequest || e.Channel != ch {
		t.Fatalf("invalid payload error = %+v", e)
	}

	send(t, a, protocol.SubMsg{Type: protocol.TypeSub, Channel: protocol.WorldChannel("nowhere", protocol.ChanChat)})
	read(t, a, &e)
	if e.Code != protocol.ErrWorldNotFound {
		t.Fatalf("unknown world error = %+v", e)
	}

	send(t, a, protocol.PubMsg{Type: protocol.TypePub, Channel: protocol.SystemChannel, Payload: json.RawMessage(`{"kind":"notice","sent_at_ms":1}`)})
	read(t, a, &e)
	if e.Code != protocol.ErrNoPermission {
		t.Fatalf("client system broadcast error = %+v", e)
	}

	send(t, b, protocol.SubMsg{Type: protocol.TypeUnsub, Channel: ch})
	waitFor(t, "unsubscribe", func() bool { return r.hub.Stats().Subscriptions == 1 })
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	r := newRelay(t)
	a := r.dial(t, "alice")
	b := r.dial(t, "bob")
	ch := protocol.WorldChannel("main", protocol.ChanPositions)

	send(t, b, protocol.SubMsg{Type: protocol.TypeSub, Channel: ch})
	waitFor(t, "subscription", func() bool { return r.hub.Stats().Subscriptions == 1 })
	send(t, a, protocol.PubMsg{Type: protocol.TypePub, Channel: ch, Payload: position("alice", 1)})
	var m protocol.DeliveryMsg
	read(t, b, &m)

	_ = a.Close()
	read(t, b, &m)
	var st protocol.PlayerState
	if err := json.Unmarshal(m.Payload, &st); err != nil || !st.Leaving || st.UserID != "user-alice" {
		t.Fatalf("leave = %+v %v", st, err)
	}
	if ros := r.hub.Roster("main"); len(ros) != 0 {
		t.Fatalf("roster after leave = %+v", ros)
	}
}

func TestBlocksAreAudited(t *testing.T) {
	r := newRelay(t)
	a := r.dial(t, "alice")
	ch := protocol.WorldChannel("main", protocol.ChanBlocks)
	send(t, a, protocol.SubMsg{Type: protocol.TypeSub, Channel: ch})
	waitFor(t, "subscription", func() bool { return r.hub.Stats().Subscriptions == 1 })

	bc, _ := json.Marshal(protocol.BlockChange{SessionID: "sess-alice", Username: "alice", X: 4, Y: 5, Kind: tiles.Stone, Action: protocol.ActionPlace, SentAtMS: 1})
	send(t, a, protocol.PubMsg{Type: protocol.TypePub, Channel: ch, Payload: bc})
	var m protocol.DeliveryMsg
	read(t, a, &m)

	_ = r.audit.Close()
	files, err := persistlog.Files(filepath.Join(r.dir, "audit"), "audit")
	if err != nil || len(files) != 1 {
		t.Fatalf("audit files = %v %v", files, err)
	}
	got, err := persistlog.ReadBlocks(files[0], "main")
	if err != nil || len(got) != 1 || got[0].Username != "alice" || got[0].X != 4 {
		t.Fatalf("audit = %+v %v", got, err)
	}
}

func smallWorldBody(t *testing.T) []byte {
	t.Helper()
	w, err := world.Generate(terrain.Params{Width: 20, Height: 16, Seed: 5})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	w.SetOwner("alice")
	b, err := snapshot.EncodeJSON(w.Data())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func do(t *testing.T, method, url string, body []byte, zstd bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if zstd {
		req.Header.Set("Content-Encoding", "zstd")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHTTP_SnapshotRoundTrip(t *testing.T) {
	r := newRelay(t)
	url := r.srv.URL + "/v1/worlds/main/snapshot"

	if resp := do(t, http.MethodGet, url, nil, false); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing snapshot status = %d", resp.StatusCode)
	}
	body := smallWorldBody(t)
	if resp := do(t, http.MethodPut, url, body, false); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("plain body status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodPut, url, []byte("junk"), true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("junk body status = %d", resp.StatusCode)
	}
	resp := do(t, http.MethodPut, url, body, true)
	var meta kvdb.SnapshotMeta
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&meta) != nil || meta.Version != 1 || meta.Owner != "alice" {
		t.Fatalf("put = %d %+v", resp.StatusCode, meta)
	}

	resp = do(t, http.MethodGet, url, nil, false)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Encoding") != "zstd" || resp.Header.Get("X-Snapshot-Version") != "1" {
		t.Fatalf("get = %d %v", resp.StatusCode, resp.Header)
	}
	got, _ := io.ReadAll(resp.Body)
	d, err := snapshot.DecodeJSON(got)
	if err != nil || d.Width != 20 || d.Owner != "alice" {
		t.Fatalf("decoded = %dx%d %q %v", d.Width, d.Height, d.Owner, err)
	}

	if resp := do(t, http.MethodGet, r.srv.URL+"/v1/worlds/elsewhere/snapshot", nil, false); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown world status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, r.srv.URL+"/v1/worlds", nil, false)
	var worlds []struct {
		protocol.WorldRef
		Stored *kvdb.SnapshotMeta `json:"stored"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&worlds); err != nil || len(worlds) != 2 {
		t.Fatalf("worlds = %+v %v", worlds, err)
	}
	if worlds[0].WorldID != "main" || !worlds[0].Default || worlds[0].Stored == nil || worlds[1].Stored != nil {
		t.Fatalf("worlds = %+v", worlds)
	}
}

func TestHTTP_RosterFromStore(t *testing.T) {
	r := newRelay(t)
	a := r.dial(t, "alice")
	ch := protocol.WorldChannel("main", protocol.ChanPositions)
	send(t, a, protocol.SubMsg{Type: protocol.TypeSub, Channel: ch})
	waitFor(t, "subscription", func() bool { return r.hub.Stats().Subscriptions == 1 })
	send(t, a, protocol.PubMsg{Type: protocol.TypePub, Channel: ch, Payload: position("alice", 7)})
	var m protocol.DeliveryMsg
	read(t, a, &m)

	resp := do(t, http.MethodGet, r.srv.URL+"/v1/worlds/main/roster", nil, false)
	var ros []protocol.PlayerState
	if err := json.NewDecoder(resp.Body).Decode(&ros); err != nil || len(ros) != 1 || ros[0].X != 7 {
		t.Fatalf("roster = %+v %v", ros, err)
	}
}

func TestHTTP_SystemBroadcast(t *testing.T) {
	r := newRelay(t)
	a := r.dial(t, "alice")
	send(t, a, protocol.SubMsg{Type: protocol.TypeSub, Channel: protocol.SystemChannel})
	waitFor(t, "subscription", func() bool { return r.hub.Stats().Subscriptions == 1 })

	post := func(m protocol.SystemMsg) int {
		b, _ := json.Marshal(m)
		return do(t, http.MethodPost, r.srv.URL+"/v1/system", b, false).StatusCode
	}
	if code := post(protocol.SystemMsg{Kind: protocol.SystemReset, WorldID: "main"}); code != http.StatusForbidden {
		t.Fatalf("reset of locked world = %d", code)
	}
	if code := post(protocol.SystemMsg{Kind: "explode"}); code != http.StatusBadRequest {
		t.Fatalf("bad kind = %d", code)
	}
	if code := post(protocol.SystemMsg{Kind: protocol.SystemReset, WorldID: "sandbox"}); code != http.StatusOK {
		t.Fatalf("reset = %d", code)
	}
	var m protocol.DeliveryMsg
	read(t, a, &m)
	var sys protocol.SystemMsg
	if err := json.Unmarshal(m.Payload, &sys); err != nil || sys.Kind != protocol.SystemReset || sys.WorldID != "sandbox" || sys.SentAtMS == 0 {
		t.Fatalf("system = %+v %v", sys, err)
	}
}
