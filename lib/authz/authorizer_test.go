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

package authz

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/api/types"
)

// fakeStore is an in-memory Store for resolver tests.
type fakeStore struct {
	users       map[string]types.User
	groups      []types.UserGroup
	permissions []types.Permission
	tags        map[string]types.Tag

	// failures force store errors per query kind.
	failGroups      bool
	failPermissions bool
}

func (s *fakeStore) GetUser(ctx context.Context, userID string) (types.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return types.User{}, trace.NotFound("no user found with id %v", userID)
	}
	return user, nil
}

func (s *fakeStore) GroupsWithMember(ctx context.Context, userID string) ([]types.UserGroup, error) {
	if s.failGroups {
		return nil, trace.ConnectionProblem(nil, "store unavailable")
	}
	var out []types.UserGroup
	for _, group := range s.groups {
		if group.Contains(userID) {
			out = append(out, group)
		}
	}
	return out, nil
}

func (s *fakeStore) PermissionsMatching(ctx context.Context, grantees []types.Grantee, target types.ResourceTarget) ([]types.Permission, error) {
	if s.failPermissions {
		return nil, trace.ConnectionProblem(nil, "store unavailable")
	}
	granted := make(map[types.Grantee]struct{}, len(grantees))
	for _, g := range grantees {
		granted[g] = struct{}{}
	}
	var out []types.Permission
	for _, p := range s.permissions {
		if _, ok := granted[p.Grantee]; !ok {
			continue
		}
		if p.Target != target {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) PermissionedResourceIDs(ctx context.Context, grantees []types.Grantee, kind types.ResourceKind, minLevel types.AccessLevel) ([]string, error) {
	if s.failPermissions {
		return nil, trace.ConnectionProblem(nil, "store unavailable")
	}
	granted := make(map[types.Grantee]struct{}, len(grantees))
	for _, g := range grantees {
		granted[g] = struct{}{}
	}
	var out []string
	for _, p := range s.permissions {
		if _, ok := granted[p.Grantee]; !ok {
			continue
		}
		if p.Target.Kind != kind || p.Level < minLevel {
			continue
		}
		out = append(out, p.Target.ID)
	}
	return out, nil
}

func (s *fakeStore) GetTag(ctx context.Context, tagID string) (types.Tag, error) {
	tag, ok := s.tags[tagID]
	if !ok {
		return types.Tag{}, trace.NotFound("no tag found with id %v", tagID)
	}
	return tag, nil
}

var (
	serverA = types.NewResourceTarget(types.KindServer, "srv-a")
	serverB = types.NewResourceTarget(types.KindServer, "srv-b")
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]types.User{
			"alice": {ID: "alice", Username: "alice", Enabled: true},
			"bob":   {ID: "bob", Username: "bob", Enabled: true},
			"root":  {ID: "root", Username: "root", Admin: true, Enabled: true},
		},
		groups: []types.UserGroup{
			{ID: "ops", Name: "ops", Users: []string{"alice"}},
			// alice twice over: a second group granting on the same
			// target must not change the resolved maximum.
			{ID: "oncall", Name: "oncall", Users: []string{"alice", "bob"}},
		},
		permissions: []types.Permission{
			{ID: "p1", Grantee: types.GroupGrantee("ops"), Target: serverA, Level: types.LevelRead},
			{ID: "p2", Grantee: types.UserGrantee("alice"), Target: serverA, Level: types.LevelExecute},
			{ID: "p3", Grantee: types.GroupGrantee("oncall"), Target: serverA, Level: types.LevelRead},
			{ID: "p4", Grantee: types.GroupGrantee("ops"), Target: serverB, Level: types.LevelWrite},
		},
		tags: map[string]types.Tag{
			"t1": {ID: "t1", Name: "prod", Owner: "alice"},
		},
	}
}

func TestEffectiveLevelMaxFold(t *testing.T) {
	ctx := context.Background()
	a, err := NewAuthorizer(newFakeStore())
	require.NoError(t, err)

	tests := []struct {
		name   string
		userID string
		target types.ResourceTarget
		want   types.AccessLevel
	}{
		{name: "max over direct and group grants", userID: "alice", target: serverA, want: types.LevelExecute},
		{name: "group-only grant", userID: "alice", target: serverB, want: types.LevelWrite},
		{name: "single group path", userID: "bob", target: serverA, want: types.LevelRead},
		{name: "no matching rows defaults to none", userID: "bob", target: serverB, want: types.LevelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := a.EffectiveLevel(ctx, tt.userID, tt.target)
			require.NoError(t, err)
			require.Equal(t, tt.want, level)
		})
	}
}

func TestEffectiveLevelAdminBypass(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	// Break every row query: admins must never reach the store.
	store.failGroups = true
	store.failPermissions = true
	a, err := NewAuthorizer(store)
	require.NoError(t, err)

	level, err := a.EffectiveLevel(ctx, "root", serverA)
	require.NoError(t, err)
	require.Equal(t, types.LevelWrite, level)

	// Service accounts synthesize an admin user without a store lookup.
	level, err = a.EffectiveLevel(ctx, "svc:scheduler", serverB)
	require.NoError(t, err)
	require.Equal(t, types.LevelWrite, level)
}

func TestEffectiveLevelDuplicateGrantsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	// Duplicate membership rows and duplicate permission rows.
	store.groups = append(store.groups, types.UserGroup{ID: "ops", Name: "ops", Users: []string{"alice"}})
	store.permissions = append(store.permissions, store.permissions...)
	a, err := NewAuthorizer(store)
	require.NoError(t, err)

	level, err := a.EffectiveLevel(ctx, "alice", serverA)
	require.NoError(t, err)
	require.Equal(t, types.LevelExecute, level)
}

func TestEffectiveLevelStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failPermissions = true
	a, err := NewAuthorizer(store)
	require.NoError(t, err)

	// Store failure surfaces; it must not silently default to None.
	_, err = a.EffectiveLevel(ctx, "alice", serverA)
	require.Error(t, err)

	_, err = a.EffectiveLevel(ctx, "ghost", serverA)
	require.True(t, trace.IsNotFound(err))
}

func TestAccessibleResourceIDs(t *testing.T) {
	ctx := context.Background()
	a, err := NewAuthorizer(newFakeStore())
	require.NoError(t, err)

	// alice reaches srv-a via three grant paths and srv-b via one; the
	// result is a set.
	ids, err := a.AccessibleResourceIDs(ctx, "alice", types.KindServer)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"srv-a", "srv-b"}, ids)

	ids, err = a.AccessibleResourceIDs(ctx, "bob", types.KindServer)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"srv-a"}, ids)
}

func TestGroupIDsForUser(t *testing.T) {
	ctx := context.Background()
	a, err := NewAuthorizer(newFakeStore())
	require.NoError(t, err)

	ids, err := a.GroupIDsForUser(ctx, "alice")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ops", "oncall"}, ids)

	ids, err = a.GroupIDsForUser(ctx, "ghost")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestCheckTagOwner(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a, err := NewAuthorizer(store)
	require.NoError(t, err)

	tag, err := a.CheckTagOwner(ctx, store.users["alice"], "t1")
	require.NoError(t, err)
	require.Equal(t, "prod", tag.Name)

	tag, err = a.CheckTagOwner(ctx, store.users["root"], "t1")
	require.NoError(t, err)
	require.Equal(t, "prod", tag.Name)

	_, err = a.CheckTagOwner(ctx, store.users["bob"], "t1")
	require.True(t, trace.IsAccessDenied(err))

	_, err = a.CheckTagOwner(ctx, store.users["alice"], "missing")
	require.True(t, trace.IsNotFound(err))
}
