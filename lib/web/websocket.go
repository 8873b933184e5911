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

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/flotilla-dev/flotilla"
	"github.com/flotilla-dev/flotilla/api/types"
	"github.com/flotilla-dev/flotilla/lib/events"
)

// Login frame variants. The client's first and only text frame carries
// one of these, discriminated by "type".
const (
	loginTypeJwt     = "Jwt"
	loginTypeAPIKeys = "ApiKeys"
)

// wsLoginMessage is the discriminated login payload.
type wsLoginMessage struct {
	Type string `json:"type"`
	// Jwt variant.
	JWT string `json:"jwt,omitempty"`
	// ApiKeys variant.
	Key    string `json:"key,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// wsInvalidUser is the structured error frame sent when the streaming
// user stops being valid mid-stream.
type wsInvalidUser struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// updatesStream upgrades the connection and runs the streaming session:
// subscribe, login handshake, then permission-gated forwarding until
// either side goes away.
func (h *Handler) updatesStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Subscribe before authentication completes so no events published
	// during the handshake window are missed. Nothing is forwarded to
	// the peer until login succeeds.
	sub := h.cfg.Fanout.Subscribe()
	defer sub.Close()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.WarnContext(r.Context(), "Failed to upgrade websocket connection", "error", err)
		return
	}

	connectionsGauge.Inc()
	defer connectionsGauge.Dec()

	user, ok := h.websocketLogin(r.Context(), ws)
	if !ok {
		return
	}

	session := &updateSession{
		handler: h,
		logger:  h.cfg.Logger.With("sid", uuid.NewString(), "user", user.ID),
		ws:      ws,
		sub:     sub,
		userID:  user.ID,
	}
	session.logger.InfoContext(r.Context(), "Update stream session started.")
	session.run(r.Context())
	session.logger.InfoContext(r.Context(), "Update stream session ended.")
}

// websocketLogin performs the handshake: exactly one text frame carrying
// a login variant, verified against the authenticator. On any failure a
// textual error frame is sent and the socket is closed; there is no
// retry within a connection.
func (h *Handler) websocketLogin(ctx context.Context, ws *websocket.Conn) (types.User, bool) {
	// An unauthenticated connection may not hold its subscription
	// indefinitely: the peer gets one login timeout's worth of time.
	ws.SetReadDeadline(h.cfg.Clock.Now().Add(h.cfg.LoginTimeout))

	loginFailed := func(msg string) (types.User, bool) {
		ws.WriteMessage(websocket.TextMessage, []byte(msg))
		ws.Close()
		return types.User{}, false
	}

	msgType, payload, err := ws.ReadMessage()
	if err != nil {
		return loginFailed(fmt.Sprintf("failed to get login message: %v", err))
	}
	if msgType != websocket.TextMessage {
		return loginFailed(fmt.Sprintf("invalid login message type %d", msgType))
	}

	var login wsLoginMessage
	if err := json.Unmarshal(payload, &login); err != nil {
		return loginFailed(fmt.Sprintf("failed to parse login message: %v", err))
	}

	var user types.User
	switch login.Type {
	case loginTypeJwt:
		user, err = h.cfg.Verifier.VerifyBearerToken(ctx, login.JWT)
		if err != nil {
			return loginFailed(fmt.Sprintf("failed to authenticate user using jwt: %v", err))
		}
	case loginTypeAPIKeys:
		user, err = h.cfg.Verifier.VerifyKeyPair(ctx, login.Key, login.Secret)
		if err != nil {
			return loginFailed(fmt.Sprintf("failed to authenticate user using api keys: %v", err))
		}
	default:
		return loginFailed(fmt.Sprintf("unknown login message type %q", login.Type))
	}

	// Authenticated: lift the handshake deadline and confirm.
	ws.SetReadDeadline(time.Time{})
	if err := ws.WriteMessage(websocket.TextMessage, []byte(flotilla.WebsocketLoggedIn)); err != nil {
		ws.Close()
		return types.User{}, false
	}
	return user, true
}

// updateSession is one authenticated streaming connection. Two loops run
// concurrently for its lifetime: an inbound loop that only watches for
// the peer going away, and an outbound loop that re-authorizes and
// forwards every published update. Either loop cancels the shared
// context; the socket closes exactly once.
type updateSession struct {
	handler *Handler
	logger  *slog.Logger
	ws      *websocket.Conn
	sub     *events.Subscription
	userID  string

	closeOnce sync.Once
}

func (s *updateSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.forwardUpdates(ctx, cancel)
	}()

	s.readUntilClosed(cancel)

	// The peer is gone or errored; stop the forwarder and make sure the
	// socket is released before returning the subscription.
	cancel()
	s.close()
	<-done
}

// readUntilClosed drains inbound frames. After login only a close frame
// or a transport error is meaningful; any other inbound content is
// ignored.
func (s *updateSession) readUntilClosed(cancel context.CancelFunc) {
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			cancel()
			return
		}
	}
}

// forwardUpdates delivers published updates to the peer. Before every
// delivery the user is re-fetched and re-authorized: identity problems
// terminate the connection with a structured error frame, while an
// authorization denial (or an authorization store failure, conservatively
// treated as a denial) silently skips the one event.
func (s *updateSession) forwardUpdates(ctx context.Context, cancel context.CancelFunc) {
	for {
		item, err := s.sub.Next(ctx)
		if err != nil {
			// Cancellation or subscription teardown. Closing the socket
			// here unblocks the inbound loop, so shutting the fanout
			// down ends every live session.
			cancel()
			s.close()
			return
		}

		user, err := s.handler.cfg.AccessPoint.GetUser(ctx, s.userID)
		if err != nil || !user.Enabled {
			msg := "user is disabled"
			if err != nil {
				msg = err.Error()
			}
			s.ws.WriteJSON(wsInvalidUser{Type: "INVALID_USER", Msg: msg})
			cancel()
			s.close()
			return
		}

		if !user.Admin {
			level, err := s.handler.cfg.AccessPoint.EffectiveLevelFor(ctx, user, item.Target)
			if err != nil {
				// Deny just this event and keep the stream alive:
				// authorization can be conservatively denied per event,
				// identity validity cannot.
				s.logger.WarnContext(ctx, "Failed to resolve permissions for update, skipping event",
					"target", item.Target.String(), "error", err)
				continue
			}
			if level <= types.LevelNone {
				continue
			}
		}

		if err := s.ws.WriteJSON(item); err != nil {
			cancel()
			s.close()
			return
		}
	}
}

// close shuts the socket down exactly once regardless of which loop
// triggered it.
func (s *updateSession) close() {
	s.closeOnce.Do(func() {
		s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.ws.Close()
	})
}
