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

// Package authz resolves a user's effective access level on resources.
//
// A user's effective level on a target is the maximum level over all
// permission rows whose grantee is the user directly or any user group
// the user belongs to. Admin users bypass row lookup entirely and
// resolve to the maximal level on everything.
package authz

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/flotilla-dev/flotilla/api/types"
)

// Store is the subset of the resource store the authorizer queries.
type Store interface {
	// GetUser returns a user by id.
	GetUser(ctx context.Context, userID string) (types.User, error)
	// GroupsWithMember returns every user group containing the user.
	GroupsWithMember(ctx context.Context, userID string) ([]types.UserGroup, error)
	// PermissionsMatching returns permission rows for any of the grantee
	// identities on the given target.
	PermissionsMatching(ctx context.Context, grantees []types.Grantee, target types.ResourceTarget) ([]types.Permission, error)
	// PermissionedResourceIDs returns resource ids of the given kind on
	// which any grantee identity holds at least minLevel.
	PermissionedResourceIDs(ctx context.Context, grantees []types.Grantee, kind types.ResourceKind, minLevel types.AccessLevel) ([]string, error)
	// GetTag returns a tag by id.
	GetTag(ctx context.Context, tagID string) (types.Tag, error)
}

// Authorizer computes effective access levels against the store.
type Authorizer struct {
	store Store
}

// NewAuthorizer returns an authorizer over the given store.
func NewAuthorizer(store Store) (*Authorizer, error) {
	if store == nil {
		return nil, trace.BadParameter("missing parameter store")
	}
	return &Authorizer{store: store}, nil
}

// GetUser returns the account for the given id, synthesizing service
// accounts without a store lookup.
func (a *Authorizer) GetUser(ctx context.Context, userID string) (types.User, error) {
	if user := types.ServiceUser(userID); user != nil {
		return *user, nil
	}
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return types.User{}, trace.Wrap(err)
	}
	return user, nil
}

// GroupIDsForUser returns the ids of every user group the user belongs
// to.
func (a *Authorizer) GroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	groups, err := a.store.GroupsWithMember(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ids := make([]string, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.ID)
	}
	return ids, nil
}

// granteeIdentities builds the deduplicated grantee identity set for the
// user: the user itself plus every group containing it. Max-folding is
// idempotent under duplicates, so deduplication here is robustness
// rather than a correctness requirement.
func (a *Authorizer) granteeIdentities(ctx context.Context, userID string) ([]types.Grantee, error) {
	groups, err := a.store.GroupsWithMember(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	seen := map[types.Grantee]struct{}{
		types.UserGrantee(userID): {},
	}
	grantees := []types.Grantee{types.UserGrantee(userID)}
	for _, group := range groups {
		g := types.GroupGrantee(group.ID)
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		grantees = append(grantees, g)
	}
	return grantees, nil
}

// EffectiveLevelFor resolves the effective access level of an already
// fetched user on the target. Admins short-circuit to the maximal level
// without touching the store.
func (a *Authorizer) EffectiveLevelFor(ctx context.Context, user types.User, target types.ResourceTarget) (types.AccessLevel, error) {
	if user.Admin {
		return types.LevelWrite, nil
	}
	grantees, err := a.granteeIdentities(ctx, user.ID)
	if err != nil {
		return types.LevelNone, trace.Wrap(err)
	}
	permissions, err := a.store.PermissionsMatching(ctx, grantees, target)
	if err != nil {
		return types.LevelNone, trace.Wrap(err)
	}
	level := types.LevelNone
	for _, permission := range permissions {
		level = types.MaxLevel(level, permission.Level)
	}
	return level, nil
}

// EffectiveLevel resolves the effective access level of the user with
// the given id on the target.
func (a *Authorizer) EffectiveLevel(ctx context.Context, userID string, target types.ResourceTarget) (types.AccessLevel, error) {
	user, err := a.GetUser(ctx, userID)
	if err != nil {
		return types.LevelNone, trace.Wrap(err)
	}
	return a.EffectiveLevelFor(ctx, user, target)
}

// AccessibleResourceIDs returns the set of resource ids of the given
// kind on which the user holds at least Read through any grant path.
// Duplicate grant paths collapse to a single membership. Intended for
// list endpoints filtering results for non-admin users; admins see
// everything and should not be filtered through this.
func (a *Authorizer) AccessibleResourceIDs(ctx context.Context, userID string, kind types.ResourceKind) ([]string, error) {
	grantees, err := a.granteeIdentities(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ids, err := a.store.PermissionedResourceIDs(ctx, grantees, kind, types.LevelRead)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// CheckTagOwner returns the tag if the user may act on it: admins and
// the tag's recorded owner may, everyone else is denied.
func (a *Authorizer) CheckTagOwner(ctx context.Context, user types.User, tagID string) (types.Tag, error) {
	tag, err := a.store.GetTag(ctx, tagID)
	if err != nil {
		return types.Tag{}, trace.Wrap(err)
	}
	if user.Admin || tag.Owner == user.ID {
		return tag, nil
	}
	return types.Tag{}, trace.AccessDenied("user %v must be tag owner or admin", user.ID)
}
