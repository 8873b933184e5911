/*
Copyright 2024 Flotilla Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package web implements the gateway's http surface: a liveness route
// and the websocket upgrade route streaming permission-gated live
// updates to authenticated clients.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flotilla-dev/flotilla"
	"github.com/flotilla-dev/flotilla/api/types"
	"github.com/flotilla-dev/flotilla/lib/auth"
	"github.com/flotilla-dev/flotilla/lib/defaults"
	"github.com/flotilla-dev/flotilla/lib/events"
)

var connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "flotilla_websocket_connections",
	Help: "Number of open update streaming connections.",
})

func init() {
	prometheus.MustRegister(connectionsGauge)
}

// AccessPoint resolves users and their effective access for the
// per-event authorization recheck. Implemented by *authz.Authorizer.
type AccessPoint interface {
	// GetUser returns a user by id, synthesizing service accounts.
	GetUser(ctx context.Context, userID string) (types.User, error)
	// EffectiveLevelFor resolves the user's access level on the target.
	EffectiveLevelFor(ctx context.Context, user types.User, target types.ResourceTarget) (types.AccessLevel, error)
}

// HandlerConfig configures the gateway handler.
type HandlerConfig struct {
	// AccessPoint rechecks identity and permissions per delivered event.
	AccessPoint AccessPoint
	// Verifier authenticates login frames.
	Verifier auth.Verifier
	// Fanout is the process-wide update broadcast.
	Fanout *events.Fanout
	// LoginTimeout bounds the login handshake on new connections.
	LoginTimeout time.Duration
	// Clock is used for handshake deadlines.
	Clock clockwork.Clock
	// Logger is the structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *HandlerConfig) CheckAndSetDefaults() error {
	if c.AccessPoint == nil {
		return trace.BadParameter("missing parameter AccessPoint")
	}
	if c.Verifier == nil {
		return trace.BadParameter("missing parameter Verifier")
	}
	if c.Fanout == nil {
		return trace.BadParameter("missing parameter Fanout")
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = defaults.WebsocketLoginTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(flotilla.ComponentKey, flotilla.ComponentWeb)
	}
	return nil
}

// Handler is the gateway's http handler.
type Handler struct {
	httprouter.Router
	cfg HandlerConfig
}

// NewHandler returns the gateway handler with all routes bound.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{cfg: cfg}
	h.GET("/webapi/ping", h.ping)
	h.GET("/ws/updates", h.updatesStream)
	return h, nil
}

// ping is a liveness probe.
func (h *Handler) ping(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{
		"server_version": flotilla.Version,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
