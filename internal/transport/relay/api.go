// Package relay is the client side of the relay: an HTTP API for snapshots, rosters and
// admin broadcasts, plus a websocket pub/sub connection. Client implements
// multiplayer.Bridge.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/multiplayer"
	"tilecraft.ai/internal/sim/world"
)

// Error is a non-2xx relay response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("relay: http %d", e.Status)
	}
	return fmt.Sprintf("relay: %s: %s", e.Code, e.Message)
}

// WorldInfo is one entry of GET /v1/worlds.
type WorldInfo struct {
	protocol.WorldRef
	Stored *StoredSnapshot `json:"stored,omitempty"`
}

type StoredSnapshot struct {
	Version     int64  `json:"version"`
	Owner       string `json:"owner,omitempty"`
	Size        int    `json:"size"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
}

// API speaks the relay's HTTP routes.
type API struct {
	base string
	hc   *http.Client
}

func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

func (a *API) worldURL(worldID, leaf string) string {
	return a.base + "/v1/worlds/" + url.PathEscape(worldID) + "/" + leaf
}

func (a *API) do(ctx context.Context, method, u string, body []byte, hdr map[string]string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		e := &Error{Status: resp.StatusCode}
		var m protocol.ErrorMsg
		if json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&m) == nil {
			e.Code, e.Message = m.Code, m.Message
		}
		return nil, e
	}
	return resp, nil
}

func (a *API) getJSON(ctx context.Context, u string, v any) error {
	resp, err := a.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func (a *API) Worlds(ctx context.Context) ([]WorldInfo, error) {
	var out []WorldInfo
	if err := a.getJSON(ctx, a.base+"/v1/worlds", &out); err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	return out, nil
}

// PullWorldSnapshot fetches the stored world. A world with no snapshot yet returns an
// error wrapping multiplayer.ErrNotFound.
func (a *API) PullWorldSnapshot(ctx context.Context, worldID string) (world.Data, error) {
	resp, err := a.do(ctx, http.MethodGet, a.worldURL(worldID, "snapshot"), nil, nil)
	var e *Error
	if errors.As(err, &e) && e.Status == http.StatusNotFound && e.Code == protocol.ErrNoResource {
		return world.Data{}, fmt.Errorf("world %s: %w", worldID, multiplayer.ErrNotFound)
	}
	if err != nil {
		return world.Data{}, fmt.Errorf("pull %s: %w", worldID, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return world.Data{}, fmt.Errorf("pull %s: %w", worldID, err)
	}
	return snapshot.DecodeJSON(b)
}

func (a *API) PushWorldSnapshot(ctx context.Context, worldID string, d world.Data) error {
	b, err := snapshot.EncodeJSON(d)
	if err != nil {
		return err
	}
	resp, err := a.do(ctx, http.MethodPut, a.worldURL(worldID, "snapshot"), b, map[string]string{
		"Content-Type":     "application/json",
		"Content-Encoding": "zstd",
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", worldID, err)
	}
	_ = resp.Body.Close()
	return nil
}

func (a *API) PullRoster(ctx context.Context, worldID string) ([]protocol.PlayerState, error) {
	var out []protocol.PlayerState
	if err := a.getJSON(ctx, a.worldURL(worldID, "roster"), &out); err != nil {
		return nil, fmt.Errorf("roster %s: %w", worldID, err)
	}
	return out, nil
}

// Broadcast posts an admin system message. The relay only accepts it from loopback.
func (a *API) Broadcast(ctx context.Context, m protocol.SystemMsg) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	resp, err := a.do(ctx, http.MethodPost, a.base+"/v1/system", b, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}
