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

package types

import (
	"time"

	"github.com/gravitational/trace"
)

// GranteeKind discriminates the subject of a permission row.
type GranteeKind string

const (
	// GranteeUser grants directly to a single user.
	GranteeUser GranteeKind = "User"
	// GranteeUserGroup grants to every member of a user group.
	GranteeUserGroup GranteeKind = "UserGroup"
)

// Grantee is the subject of a permission row: a user or a user group,
// tagged by kind. Comparable, so grantee identity sets deduplicate
// naturally as map keys.
type Grantee struct {
	Kind GranteeKind `json:"type" bson:"type"`
	ID   string      `json:"id" bson:"id"`
}

// UserGrantee returns the grantee identity of a single user.
func UserGrantee(userID string) Grantee {
	return Grantee{Kind: GranteeUser, ID: userID}
}

// GroupGrantee returns the grantee identity of a user group.
func GroupGrantee(groupID string) Grantee {
	return Grantee{Kind: GranteeUserGroup, ID: groupID}
}

// Check validates the grantee.
func (g Grantee) Check() error {
	if g.Kind != GranteeUser && g.Kind != GranteeUserGroup {
		return trace.BadParameter("unknown grantee kind %q", string(g.Kind))
	}
	if g.ID == "" {
		return trace.BadParameter("missing grantee id")
	}
	return nil
}

// Permission grants an access level on a single resource to a grantee.
// Rows are created by administrative action and are immutable afterwards;
// the resolver only ever reads them.
type Permission struct {
	ID      string         `json:"id" bson:"_id,omitempty"`
	Grantee Grantee        `json:"grantee" bson:"grantee"`
	Target  ResourceTarget `json:"target" bson:"target"`
	Level   AccessLevel    `json:"level" bson:"level"`
}

// Check validates the permission row.
func (p *Permission) Check() error {
	if err := p.Grantee.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := p.Target.Check(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// APIKey is the backing record for key/secret authentication. The secret
// is stored only as a bcrypt hash.
type APIKey struct {
	// Key is the public identifier presented by the client.
	Key string `json:"key" bson:"_id"`
	// Name is a human label for the key.
	Name string `json:"name" bson:"name"`
	// UserID is the account the key authenticates as.
	UserID string `json:"user_id" bson:"user_id"`
	// SecretHash is the bcrypt hash of the secret.
	SecretHash string `json:"-" bson:"secret_hash"`
	// CreatedAt is the key creation time.
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Tag is a user-owned label attachable to resources. Only the recorded
// owner or an admin may act on a tag.
type Tag struct {
	ID    string `json:"id" bson:"_id,omitempty"`
	Name  string `json:"name" bson:"name"`
	Owner string `json:"owner" bson:"owner"`
}
