package ws

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tilecraft.ai/internal/persistence/kvdb"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/multiworld"
	"tilecraft.ai/internal/sim/world"
)

const (
	maxSnapshotBody = 16 << 20

	// RosterWindow bounds how old a stored roster row may be and still be served.
	RosterWindow = time.Minute
)

type RouterConfig struct {
	Hub    *Server
	Store  *kvdb.Store
	Worlds multiworld.Config
	Logger *log.Logger

	// AllowRemoteSystem accepts POST /v1/system from non-loopback peers. Tests only.
	AllowRemoteSystem bool
}

type api struct {
	RouterConfig
}

// NewRouter builds the relay's HTTP surface.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	a := &api{RouterConfig: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Content-Encoding"},
		ExposedHeaders: []string{"Content-Encoding", "X-Snapshot-Version"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.health)
	r.Route("/v1", func(sub chi.Router) {
		sub.Get("/ws", cfg.Hub.Handler())
		sub.Group(func(g chi.Router) {
			g.Use(middleware.Logger)
			g.Get("/worlds", a.listWorlds)
			g.Get("/worlds/{id}/snapshot", a.getSnapshot)
			g.Put("/worlds/{id}/snapshot", a.putSnapshot)
			g.Get("/worlds/{id}/roster", a.getRoster)
			g.Post("/system", a.postSystem)
		})
	})
	return r
}

func (a *api) health(rw http.ResponseWriter, r *http.Request) {
	writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true, "hub": a.Hub.Stats()})
}

type worldEntry struct {
	protocol.WorldRef
	Stored *kvdb.SnapshotMeta `json:"stored,omitempty"`
}

func (a *api) listWorlds(rw http.ResponseWriter, r *http.Request) {
	stored := map[string]kvdb.SnapshotMeta{}
	if a.Store != nil {
		metas, err := a.Store.ListSnapshots(r.Context())
		if err != nil {
			a.fail(rw, http.StatusInternalServerError, protocol.ErrInternal, err)
			return
		}
		for _, m := range metas {
			stored[m.WorldID] = m
		}
	}
	refs := a.Worlds.Manifest()
	out := make([]worldEntry, 0, len(refs))
	for _, ref := range refs {
		e := worldEntry{WorldRef: ref}
		if m, ok := stored[ref.WorldID]; ok {
			e.Stored = &m
		}
		out = append(out, e)
	}
	writeJSONResponse(rw, http.StatusOK, out)
}

// world resolves the {id} route param against the catalog.
func (a *api) world(rw http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, ok := a.Worlds.WorldSpecByID(id); !ok {
		writeJSONResponse(rw, http.StatusNotFound, protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrWorldNotFound, Message: "unknown world " + id})
		return "", false
	}
	return id, true
}

func (a *api) getSnapshot(rw http.ResponseWriter, r *http.Request) {
	id, ok := a.world(rw, r)
	if !ok {
		return
	}
	if a.Store == nil {
		a.fail(rw, http.StatusServiceUnavailable, protocol.ErrInternal, errors.New("no store"))
		return
	}
	meta, data, err := a.Store.GetSnapshot(r.Context(), id)
	if errors.Is(err, kvdb.ErrNotFound) {
		writeJSONResponse(rw, http.StatusNotFound, protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrNoResource, Message: "no snapshot for " + id})
		return
	}
	if err != nil {
		a.fail(rw, http.StatusInternalServerError, protocol.ErrInternal, err)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Content-Encoding", "zstd")
	rw.Header().Set("X-Snapshot-Version", strconv.FormatInt(meta.Version, 10))
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write(data)
}

func (a *api) putSnapshot(rw http.ResponseWriter, r *http.Request) {
	id, ok := a.world(rw, r)
	if !ok {
		return
	}
	if a.Store == nil {
		a.fail(rw, http.StatusServiceUnavailable, protocol.ErrInternal, errors.New("no store"))
		return
	}
	if !strings.EqualFold(r.Header.Get("Content-Encoding"), "zstd") {
		a.fail(rw, http.StatusUnsupportedMediaType, protocol.ErrBadRequest, errors.New("body must be zstd encoded json"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBody+1))
	if err != nil {
		a.fail(rw, http.StatusBadRequest, protocol.ErrBadRequest, err)
		return
	}
	if len(body) > maxSnapshotBody {
		a.fail(rw, http.StatusRequestEntityTooLarge, protocol.ErrBadRequest, errors.New("snapshot too large"))
		return
	}
	d, err := snapshot.DecodeJSON(body)
	if err != nil {
		a.fail(rw, http.StatusBadRequest, protocol.ErrBadRequest, err)
		return
	}
	if _, err := world.Load(d); err != nil {
		a.fail(rw, http.StatusBadRequest, protocol.ErrBadRequest, err)
		return
	}
	meta, err := a.Store.PutSnapshot(r.Context(), kvdb.SnapshotMeta{
		WorldID:  id,
		Encoding: protocol.EncodingJSONZstd,
		Width:    d.Width,
		Height:   d.Height,
		Owner:    d.Owner,
	}, body)
	if err != nil {
		a.fail(rw, http.StatusInternalServerError, protocol.ErrInternal, err)
		return
	}
	writeJSONResponse(rw, http.StatusOK, meta)
}

func (a *api) getRoster(rw http.ResponseWriter, r *http.Request) {
	id, ok := a.world(rw, r)
	if !ok {
		return
	}
	if a.Store == nil {
		writeJSONResponse(rw, http.StatusOK, a.Hub.Roster(id))
		return
	}
	if err := a.Store.Flush(r.Context()); err != nil {
		a.fail(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err)
		return
	}
	out, err := a.Store.Roster(r.Context(), id, time.Now().Add(-RosterWindow))
	if err != nil {
		a.fail(rw, http.StatusInternalServerError, protocol.ErrInternal, err)
		return
	}
	if out == nil {
		out = []protocol.PlayerState{}
	}
	writeJSONResponse(rw, http.StatusOK, out)
}

func (a *api) postSystem(rw http.ResponseWriter, r *http.Request) {
	if !a.AllowRemoteSystem && !isLoopbackRemote(r.RemoteAddr) {
		a.fail(rw, http.StatusForbidden, protocol.ErrNoPermission, errors.New("forbidden"))
		return
	}
	var m protocol.SystemMsg
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&m); err != nil {
		a.fail(rw, http.StatusBadRequest, protocol.ErrBadRequest, err)
		return
	}
	if m.Kind == protocol.SystemReset {
		if spec, ok := a.Worlds.WorldSpecByID(m.WorldID); !ok || !spec.AllowReset {
			a.fail(rw, http.StatusForbidden, protocol.ErrNoPermission, errors.New("reset needs a world_id that allows reset"))
			return
		}
	}
	if err := a.Hub.Broadcast(m); err != nil {
		a.fail(rw, http.StatusBadRequest, protocol.ErrBadRequest, err)
		return
	}
	writeJSONResponse(rw, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) fail(rw http.ResponseWriter, status int, code string, err error) {
	if status >= 500 {
		a.Logger.Printf("http %d: %v", status, err)
	}
	writeJSONResponse(rw, status, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: err.Error()})
}

func writeJSONResponse(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
