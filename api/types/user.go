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
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// ServiceUserPrefix marks the ids of machine accounts that act on behalf
// of the platform itself (schedulers, agents) rather than a person.
const ServiceUserPrefix = "svc:"

// User is an account that can authenticate to the control plane and hold
// permissions on resources.
type User struct {
	// ID is the store-assigned identifier.
	ID string `json:"id" bson:"_id,omitempty"`
	// Username is the display name, unique across the store.
	Username string `json:"username" bson:"username"`
	// Admin users bypass permission resolution entirely.
	Admin bool `json:"admin" bson:"admin"`
	// Enabled gates all authentication and streaming. Disabling a user
	// takes effect on their open connections at the next delivered event.
	Enabled bool `json:"enabled" bson:"enabled"`
	// CreatedAt is the account creation time.
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Check validates the user record.
func (u *User) Check() error {
	if u.Username == "" {
		return trace.BadParameter("missing username")
	}
	return nil
}

// IsServiceUser reports whether the id belongs to a machine account.
// Service accounts have no backing store document; their display
// username is the id itself.
func IsServiceUser(userID string) bool {
	return strings.HasPrefix(userID, ServiceUserPrefix)
}

// ServiceUser synthesizes the in-memory account for a service user id.
// Returns nil when the id does not name a service user.
func ServiceUser(userID string) *User {
	if !IsServiceUser(userID) {
		return nil
	}
	return &User{
		ID:       userID,
		Username: userID,
		Admin:    true,
		Enabled:  true,
	}
}

// UserGroup is a named set of users. Membership is many-to-many: a user
// may belong to any number of groups, and permissions granted to a group
// apply to every member.
type UserGroup struct {
	ID   string `json:"id" bson:"_id,omitempty"`
	Name string `json:"name" bson:"name"`
	// Users holds the member user ids.
	Users []string `json:"users" bson:"users"`
}

// Contains reports whether the group has the given member.
func (g *UserGroup) Contains(userID string) bool {
	for _, id := range g.Users {
		if id == userID {
			return true
		}
	}
	return false
}
