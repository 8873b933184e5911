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
	"encoding/json"
	"fmt"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// AccessLevel is the level of access a grantee holds on a resource.
// Levels are strictly ordered: None < Read < Execute < Write.
type AccessLevel int

const (
	// LevelNone grants nothing. It is the zero value and the result of
	// resolving a user with no matching permission rows.
	LevelNone AccessLevel = iota
	// LevelRead grants read access to a resource and its updates.
	LevelRead
	// LevelExecute grants read access plus the ability to run the
	// resource's operations (deploy, build, ...).
	LevelExecute
	// LevelWrite grants full access, including configuration changes.
	// It is the effective level of admin users on every resource.
	LevelWrite
)

// accessLevelNames is the wire/storage representation of each level.
var accessLevelNames = map[AccessLevel]string{
	LevelNone:    "None",
	LevelRead:    "Read",
	LevelExecute: "Execute",
	LevelWrite:   "Write",
}

func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("AccessLevel(%d)", int(l))
}

// ParseAccessLevel converts the string representation of a level back
// to its ordered value.
func ParseAccessLevel(s string) (AccessLevel, error) {
	for level, name := range accessLevelNames {
		if name == s {
			return level, nil
		}
	}
	return LevelNone, trace.BadParameter("unknown access level %q", s)
}

// MarshalJSON encodes the level as its string name.
func (l AccessLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes the level from its string name.
func (l *AccessLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return trace.Wrap(err)
	}
	level, err := ParseAccessLevel(s)
	if err != nil {
		return trace.Wrap(err)
	}
	*l = level
	return nil
}

// MarshalBSONValue stores the level as its string name so leveled store
// queries can match on names rather than ordinals.
func (l AccessLevel) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(l.String())
}

// UnmarshalBSONValue decodes the level from its stored string name.
func (l *AccessLevel) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	raw := bson.RawValue{Type: t, Value: data}
	if err := raw.Unmarshal(&s); err != nil {
		return trace.Wrap(err)
	}
	level, err := ParseAccessLevel(s)
	if err != nil {
		return trace.Wrap(err)
	}
	*l = level
	return nil
}

// LevelsAtOrAbove returns the names of every level at or above min,
// in ascending order. Used to build leveled store predicates.
func LevelsAtOrAbove(min AccessLevel) []string {
	var names []string
	for _, level := range []AccessLevel{LevelNone, LevelRead, LevelExecute, LevelWrite} {
		if level >= min {
			names = append(names, level.String())
		}
	}
	return names
}

// MaxLevel returns the greater of two access levels.
func MaxLevel(a, b AccessLevel) AccessLevel {
	if a > b {
		return a
	}
	return b
}

// ResourceKind identifies the kind of a permission-bearing resource.
type ResourceKind string

const (
	KindSystem         ResourceKind = "System"
	KindServer         ResourceKind = "Server"
	KindDeployment     ResourceKind = "Deployment"
	KindBuild          ResourceKind = "Build"
	KindRepo           ResourceKind = "Repo"
	KindProcedure      ResourceKind = "Procedure"
	KindBuilder        ResourceKind = "Builder"
	KindAlerter        ResourceKind = "Alerter"
	KindServerTemplate ResourceKind = "ServerTemplate"
	KindUser           ResourceKind = "User"
	KindUserGroup      ResourceKind = "UserGroup"
)

// resourceKinds is the closed set of valid kinds.
var resourceKinds = map[ResourceKind]struct{}{
	KindSystem:         {},
	KindServer:         {},
	KindDeployment:     {},
	KindBuild:          {},
	KindRepo:           {},
	KindProcedure:      {},
	KindBuilder:        {},
	KindAlerter:        {},
	KindServerTemplate: {},
	KindUser:           {},
	KindUserGroup:      {},
}

// Check validates that the kind is a member of the closed enumeration.
func (k ResourceKind) Check() error {
	if _, ok := resourceKinds[k]; !ok {
		return trace.BadParameter("unknown resource kind %q", string(k))
	}
	return nil
}

// ResourceTarget identifies a single permission-bearing resource as a
// (kind, id) pair. It is comparable and suitable for use as a map key;
// two targets are equal when both kind and id are equal.
type ResourceTarget struct {
	Kind ResourceKind `json:"type" bson:"type"`
	ID   string       `json:"id" bson:"id"`
}

// NewResourceTarget returns a target for the given kind and id.
func NewResourceTarget(kind ResourceKind, id string) ResourceTarget {
	return ResourceTarget{Kind: kind, ID: id}
}

func (t ResourceTarget) String() string {
	return fmt.Sprintf("%s/%s", t.Kind, t.ID)
}

// Check validates the target.
func (t ResourceTarget) Check() error {
	if err := t.Kind.Check(); err != nil {
		return trace.Wrap(err)
	}
	if t.ID == "" && t.Kind != KindSystem {
		return trace.BadParameter("missing resource id for kind %q", t.Kind)
	}
	return nil
}
