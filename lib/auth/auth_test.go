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

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/api/types"
)

type fakeStore struct {
	users   map[string]types.User
	apiKeys map[string]types.APIKey
}

func (s *fakeStore) GetUser(ctx context.Context, userID string) (types.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return types.User{}, trace.NotFound("no user found with id %v", userID)
	}
	return user, nil
}

func (s *fakeStore) GetAPIKey(ctx context.Context, key string) (types.APIKey, error) {
	apiKey, ok := s.apiKeys[key]
	if !ok {
		return types.APIKey{}, trace.NotFound("no api key found")
	}
	return apiKey, nil
}

func newTestAuthenticator(t *testing.T, clock clockwork.Clock) (*Authenticator, *fakeStore) {
	t.Helper()
	secretHash, err := HashSecret("s3cret")
	require.NoError(t, err)
	store := &fakeStore{
		users: map[string]types.User{
			"alice":   {ID: "alice", Username: "alice", Enabled: true},
			"mallory": {ID: "mallory", Username: "mallory", Enabled: false},
		},
		apiKeys: map[string]types.APIKey{
			"K-alice": {Key: "K-alice", UserID: "alice", SecretHash: secretHash},
		},
	}
	a, err := NewAuthenticator(AuthenticatorConfig{
		Store:           store,
		TokenSigningKey: []byte("test-signing-key"),
		Clock:           clock,
	})
	require.NoError(t, err)
	return a, store
}

func TestBearerTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	a, store := newTestAuthenticator(t, clock)

	token, err := a.SignToken(store.users["alice"], time.Hour)
	require.NoError(t, err)

	user, err := a.VerifyBearerToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "alice", user.ID)
}

func TestBearerTokenExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	a, store := newTestAuthenticator(t, clock)

	token, err := a.SignToken(store.users["alice"], time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = a.VerifyBearerToken(ctx, token)
	require.True(t, trace.IsAccessDenied(err))
}

func TestBearerTokenRejections(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	a, store := newTestAuthenticator(t, clock)

	// Garbage token.
	_, err := a.VerifyBearerToken(ctx, "not-a-token")
	require.True(t, trace.IsAccessDenied(err))

	// Token signed with a different key.
	other, err := NewAuthenticator(AuthenticatorConfig{
		Store:           store,
		TokenSigningKey: []byte("other-key"),
		Clock:           clock,
	})
	require.NoError(t, err)
	token, err := other.SignToken(store.users["alice"], time.Hour)
	require.NoError(t, err)
	_, err = a.VerifyBearerToken(ctx, token)
	require.True(t, trace.IsAccessDenied(err))

	// Valid token for a disabled user.
	token, err = a.SignToken(store.users["mallory"], time.Hour)
	require.NoError(t, err)
	_, err = a.VerifyBearerToken(ctx, token)
	require.True(t, trace.IsAccessDenied(err))
}

func TestVerifyKeyPair(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	a, _ := newTestAuthenticator(t, clock)

	user, err := a.VerifyKeyPair(ctx, "K-alice", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "alice", user.ID)

	_, err = a.VerifyKeyPair(ctx, "K-alice", "wrong")
	require.True(t, trace.IsAccessDenied(err))

	_, err = a.VerifyKeyPair(ctx, "K-missing", "s3cret")
	require.True(t, trace.IsAccessDenied(err))
}

func TestServiceUserToken(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	a, _ := newTestAuthenticator(t, clock)

	// Service accounts have no store document but authenticate fine.
	svc := types.ServiceUser("svc:agent-7")
	token, err := a.SignToken(*svc, time.Hour)
	require.NoError(t, err)

	user, err := a.VerifyBearerToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "svc:agent-7", user.ID)
	require.True(t, user.Admin)
}
