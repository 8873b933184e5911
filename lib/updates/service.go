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

// Package updates manages the lifecycle of update records: every
// higher-level operation (deploys, builds, procedure runs) creates an
// update when it starts and mutates it as it progresses. Each persist is
// followed by a publication of the display projection on the
// process-wide fanout; delivery to subscribers is best-effort but a
// failure to build the projection is surfaced to the caller.
package updates

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/flotilla-dev/flotilla"
	"github.com/flotilla-dev/flotilla/api/types"
	"github.com/flotilla-dev/flotilla/lib/events"
)

// Store is the subset of the resource store the lifecycle service uses.
type Store interface {
	// GetUser returns a user by id.
	GetUser(ctx context.Context, userID string) (types.User, error)
	// InsertUpdate persists a new update and returns its assigned id.
	InsertUpdate(ctx context.Context, update types.Update) (string, error)
	// ReplaceUpdate fully replaces the update under its id.
	ReplaceUpdate(ctx context.Context, update types.Update) error
}

// ServiceConfig configures the lifecycle service.
type ServiceConfig struct {
	// Store persists update records and resolves operator usernames.
	Store Store
	// Fanout receives the projection of every persisted update.
	Fanout *events.Fanout
	// Clock stamps update start times.
	Clock clockwork.Clock
	// Logger is the structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ServiceConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Fanout == nil {
		return trace.BadParameter("missing parameter Fanout")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With(flotilla.ComponentKey, flotilla.ComponentUpdates)
	}
	return nil
}

// Service creates and mutates update records and publishes their
// projections.
type Service struct {
	cfg ServiceConfig
}

// NewService returns an update lifecycle service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{cfg: cfg}, nil
}

// NewUpdate returns a fresh in-progress update for an operation started
// by the given user against the target.
func (s *Service) NewUpdate(target types.ResourceTarget, operation types.Operation, operator types.User) types.Update {
	return types.Update{
		StartTS:   s.cfg.Clock.Now().UnixMilli(),
		Operation: operation,
		Operator:  operator.ID,
		Target:    target,
		Success:   true,
		Status:    types.UpdateStatusInProgress,
	}
}

// Create persists a new update record and returns the store-assigned id.
// A projection failure after a successful persist is returned alongside
// the id: the record is durably stored either way, but the caller can
// observe that no subscriber saw it. Delivery on the fanout itself is
// fire-and-forget.
func (s *Service) Create(ctx context.Context, update types.Update) (string, error) {
	id, err := s.cfg.Store.InsertUpdate(ctx, update)
	if err != nil {
		return "", trace.Wrap(err)
	}
	update.ID = id
	return id, trace.Wrap(s.publish(ctx, update))
}

// Mutate fully replaces the update record under its existing id and
// re-publishes the projection. The caller supplies the complete updated
// record; no merging happens here. Concurrent mutations of the same id
// are not serialized: the operation that created an update is its single
// logical owner and last write wins.
func (s *Service) Mutate(ctx context.Context, update types.Update) error {
	if update.ID == "" {
		return trace.BadParameter("missing update id")
	}
	if err := s.cfg.Store.ReplaceUpdate(ctx, update); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.publish(ctx, update))
}

// publish projects the update and emits it on the fanout. A projection
// failure is returned so callers can observe that the persisted record
// was never broadcast; emission on the fanout never fails.
func (s *Service) publish(ctx context.Context, update types.Update) error {
	item, err := s.projectListItem(ctx, update)
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "Failed to project update for publication",
			"update_id", update.ID, "error", err)
		return trace.Wrap(err)
	}
	s.cfg.Fanout.Publish(item)
	return nil
}

// projectListItem builds the display projection of an update, resolving
// the operator id to a username. Service accounts display their id
// without a store lookup.
func (s *Service) projectListItem(ctx context.Context, update types.Update) (types.UpdateListItem, error) {
	username := update.Operator
	if !types.IsServiceUser(update.Operator) {
		user, err := s.cfg.Store.GetUser(ctx, update.Operator)
		if err != nil {
			return types.UpdateListItem{}, trace.Wrap(err)
		}
		username = user.Username
	}
	return types.UpdateListItem{
		ID:        update.ID,
		Operation: update.Operation,
		StartTS:   update.StartTS,
		Success:   update.Success,
		Operator:  update.Operator,
		Target:    update.Target,
		Status:    update.Status,
		Version:   update.Version,
		Username:  username,
	}, nil
}
