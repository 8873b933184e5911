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

// Package auth verifies client credentials for the streaming gateway:
// HS256 bearer tokens and key/secret api key pairs. Both schemes resolve
// to a stored user which must exist and be enabled.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/flotilla-dev/flotilla/api/types"
	"github.com/flotilla-dev/flotilla/lib/defaults"
)

// Verifier authenticates login credentials presented on a new streaming
// connection.
type Verifier interface {
	// VerifyBearerToken validates a bearer token and returns its user.
	VerifyBearerToken(ctx context.Context, token string) (types.User, error)
	// VerifyKeyPair validates an api key/secret pair and returns its
	// user.
	VerifyKeyPair(ctx context.Context, key, secret string) (types.User, error)
}

// Store is the subset of the resource store the authenticator uses.
type Store interface {
	// GetUser returns a user by id.
	GetUser(ctx context.Context, userID string) (types.User, error)
	// GetAPIKey returns an api key record by its public identifier.
	GetAPIKey(ctx context.Context, key string) (types.APIKey, error)
}

// AuthenticatorConfig configures an Authenticator.
type AuthenticatorConfig struct {
	// Store resolves users and api keys.
	Store Store
	// TokenSigningKey is the HS256 secret for bearer tokens.
	TokenSigningKey []byte
	// Issuer is the expected token issuer.
	Issuer string
	// Clock is used for token validity checks and issuance.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *AuthenticatorConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if len(c.TokenSigningKey) == 0 {
		return trace.BadParameter("missing parameter TokenSigningKey")
	}
	if c.Issuer == "" {
		c.Issuer = "flotilla"
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Authenticator implements Verifier against the resource store.
type Authenticator struct {
	cfg AuthenticatorConfig
}

// NewAuthenticator returns an authenticator.
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Authenticator{cfg: cfg}, nil
}

// SignToken issues a bearer token for the user with the given lifetime.
// A non-positive ttl falls back to the default.
func (a *Authenticator) SignToken(user types.User, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaults.TokenTTL
	}
	now := a.cfg.Clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.Issuer,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.TokenSigningKey)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return token, nil
}

// VerifyBearerToken validates the token signature, issuer and expiry,
// then resolves and gates the subject user.
func (a *Authenticator) VerifyBearerToken(ctx context.Context, token string) (types.User, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, trace.BadParameter("unexpected signing method %v", t.Header["alg"])
		}
		return a.cfg.TokenSigningKey, nil
	},
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.cfg.Clock.Now),
	)
	if err != nil || !parsed.Valid {
		return types.User{}, trace.AccessDenied("invalid bearer token")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return types.User{}, trace.AccessDenied("invalid bearer token")
	}
	return a.checkUser(ctx, claims.Subject)
}

// VerifyKeyPair validates the secret against the stored bcrypt hash and
// resolves and gates the key's user.
func (a *Authenticator) VerifyKeyPair(ctx context.Context, key, secret string) (types.User, error) {
	apiKey, err := a.cfg.Store.GetAPIKey(ctx, key)
	if err != nil {
		if trace.IsNotFound(err) {
			return types.User{}, trace.AccessDenied("invalid api key")
		}
		return types.User{}, trace.Wrap(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(apiKey.SecretHash), []byte(secret)); err != nil {
		return types.User{}, trace.AccessDenied("invalid api key")
	}
	return a.checkUser(ctx, apiKey.UserID)
}

// checkUser fetches the user and requires it to exist and be enabled.
func (a *Authenticator) checkUser(ctx context.Context, userID string) (types.User, error) {
	if user := types.ServiceUser(userID); user != nil {
		return *user, nil
	}
	user, err := a.cfg.Store.GetUser(ctx, userID)
	if err != nil {
		if trace.IsNotFound(err) {
			return types.User{}, trace.AccessDenied("user not found")
		}
		return types.User{}, trace.Wrap(err)
	}
	if !user.Enabled {
		return types.User{}, trace.AccessDenied("user %v is disabled", user.Username)
	}
	return user, nil
}

// HashSecret bcrypts an api key secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(hash), nil
}
