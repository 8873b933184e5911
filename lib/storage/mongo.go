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

// Package storage implements the resource store over MongoDB. The store
// is treated as an external, independently synchronized resource: every
// method is a point query or single-document write, and no state is held
// across calls.
package storage

import (
	"context"
	"errors"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/flotilla-dev/flotilla/api/types"
	"github.com/flotilla-dev/flotilla/lib/defaults"
)

// MongoStoreConfig configures the store.
type MongoStoreConfig struct {
	// URI is the mongodb connection string.
	URI string
	// Database is the database holding all collections.
	Database string
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *MongoStoreConfig) CheckAndSetDefaults() error {
	if c.URI == "" {
		return trace.BadParameter("missing mongo URI")
	}
	if c.Database == "" {
		c.Database = defaults.MongoDatabase
	}
	return nil
}

// MongoStore provides typed access to the control plane's collections.
type MongoStore struct {
	client *mongo.Client

	users       *mongo.Collection
	userGroups  *mongo.Collection
	permissions *mongo.Collection
	updates     *mongo.Collection
	apiKeys     *mongo.Collection
	tags        *mongo.Collection
}

// NewMongoStore connects to mongo and verifies the connection with a
// ping before returning the store.
func NewMongoStore(ctx context.Context, cfg MongoStoreConfig) (*MongoStore, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to connect to mongo at %v", cfg.URI)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, trace.ConnectionProblem(err, "failed to ping mongo at %v", cfg.URI)
	}
	db := client.Database(cfg.Database)
	return &MongoStore{
		client:      client,
		users:       db.Collection("users"),
		userGroups:  db.Collection("user_groups"),
		permissions: db.Collection("permissions"),
		updates:     db.Collection("updates"),
		apiKeys:     db.Collection("api_keys"),
		tags:        db.Collection("tags"),
	}, nil
}

// Close disconnects from mongo.
func (s *MongoStore) Close(ctx context.Context) error {
	return trace.Wrap(s.client.Disconnect(ctx))
}

// GetUser returns a user by id.
func (s *MongoStore) GetUser(ctx context.Context, userID string) (types.User, error) {
	var user types.User
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, trace.NotFound("no user found with id %v", userID)
		}
		return types.User{}, trace.Wrap(err, "failed to query users")
	}
	return user, nil
}

// GetUserByUsername returns a user by username.
func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	var user types.User
	err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, trace.NotFound("no user found with username %v", username)
		}
		return types.User{}, trace.Wrap(err, "failed to query users")
	}
	return user, nil
}

// CreateUser inserts a user, assigning an id when unset.
func (s *MongoStore) CreateUser(ctx context.Context, user types.User) (types.User, error) {
	if err := user.Check(); err != nil {
		return types.User{}, trace.Wrap(err)
	}
	if user.ID == "" {
		user.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return types.User{}, trace.Wrap(err, "failed to insert user")
	}
	return user, nil
}

// SetUserEnabled flips the enabled flag on a user. Takes effect on the
// user's open streaming connections at the next delivered event.
func (s *MongoStore) SetUserEnabled(ctx context.Context, userID string, enabled bool) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"enabled": enabled}})
	if err != nil {
		return trace.Wrap(err, "failed to update user")
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("no user found with id %v", userID)
	}
	return nil
}

// GetUserGroup returns a user group by id.
func (s *MongoStore) GetUserGroup(ctx context.Context, groupID string) (types.UserGroup, error) {
	var group types.UserGroup
	err := s.userGroups.FindOne(ctx, bson.M{"_id": groupID}).Decode(&group)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.UserGroup{}, trace.NotFound("no user group found with id %v", groupID)
		}
		return types.UserGroup{}, trace.Wrap(err, "failed to query user groups")
	}
	return group, nil
}

// CreateUserGroup inserts a user group, assigning an id when unset.
func (s *MongoStore) CreateUserGroup(ctx context.Context, group types.UserGroup) (types.UserGroup, error) {
	if group.ID == "" {
		group.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.userGroups.InsertOne(ctx, group); err != nil {
		return types.UserGroup{}, trace.Wrap(err, "failed to insert user group")
	}
	return group, nil
}

// GroupsWithMember returns every user group containing the given user.
func (s *MongoStore) GroupsWithMember(ctx context.Context, userID string) ([]types.UserGroup, error) {
	cursor, err := s.userGroups.Find(ctx, bson.M{"users": userID})
	if err != nil {
		return nil, trace.Wrap(err, "failed to query user groups")
	}
	var groups []types.UserGroup
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, trace.Wrap(err, "failed to decode user groups")
	}
	return groups, nil
}

// granteeFilter builds the $or clause matching any of the grantee
// identities.
func granteeFilter(grantees []types.Grantee) bson.A {
	or := make(bson.A, 0, len(grantees))
	for _, g := range grantees {
		or = append(or, bson.M{"grantee.type": g.Kind, "grantee.id": g.ID})
	}
	return or
}

// PermissionsMatching returns every permission row whose grantee is one
// of the given identities and whose target equals the given target.
func (s *MongoStore) PermissionsMatching(ctx context.Context, grantees []types.Grantee, target types.ResourceTarget) ([]types.Permission, error) {
	if len(grantees) == 0 {
		return nil, nil
	}
	cursor, err := s.permissions.Find(ctx, bson.M{
		"$or":         granteeFilter(grantees),
		"target.type": target.Kind,
		"target.id":   target.ID,
	})
	if err != nil {
		return nil, trace.Wrap(err, "failed to query permissions")
	}
	var permissions []types.Permission
	if err := cursor.All(ctx, &permissions); err != nil {
		return nil, trace.Wrap(err, "failed to decode permissions")
	}
	return permissions, nil
}

// PermissionedResourceIDs returns the ids of every resource of the given
// kind on which any of the grantee identities holds at least minLevel.
// The result may contain duplicates when multiple grant paths exist;
// callers collapse them.
func (s *MongoStore) PermissionedResourceIDs(ctx context.Context, grantees []types.Grantee, kind types.ResourceKind, minLevel types.AccessLevel) ([]string, error) {
	if len(grantees) == 0 {
		return nil, nil
	}
	cursor, err := s.permissions.Find(ctx, bson.M{
		"$or":         granteeFilter(grantees),
		"target.type": kind,
		"level":       bson.M{"$in": types.LevelsAtOrAbove(minLevel)},
	})
	if err != nil {
		return nil, trace.Wrap(err, "failed to query permissions")
	}
	var permissions []types.Permission
	if err := cursor.All(ctx, &permissions); err != nil {
		return nil, trace.Wrap(err, "failed to decode permissions")
	}
	ids := make([]string, 0, len(permissions))
	for _, p := range permissions {
		ids = append(ids, p.Target.ID)
	}
	return ids, nil
}

// CreatePermission inserts a permission row, assigning an id when unset.
func (s *MongoStore) CreatePermission(ctx context.Context, permission types.Permission) (types.Permission, error) {
	if err := permission.Check(); err != nil {
		return types.Permission{}, trace.Wrap(err)
	}
	if permission.ID == "" {
		permission.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.permissions.InsertOne(ctx, permission); err != nil {
		return types.Permission{}, trace.Wrap(err, "failed to insert permission")
	}
	return permission, nil
}

// updateDoc pairs the mongo-assigned object id with the update record.
type updateDoc struct {
	ID     primitive.ObjectID `bson:"_id,omitempty"`
	Update types.Update       `bson:",inline"`
}

// InsertUpdate inserts a new update record and returns the store-assigned
// id. Any id already set on the record is ignored.
func (s *MongoStore) InsertUpdate(ctx context.Context, update types.Update) (string, error) {
	if err := update.Check(); err != nil {
		return "", trace.Wrap(err)
	}
	update.ID = ""
	res, err := s.updates.InsertOne(ctx, updateDoc{Update: update})
	if err != nil {
		return "", trace.Wrap(err, "failed to insert update")
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", trace.BadParameter("inserted update id is not an object id")
	}
	return oid.Hex(), nil
}

// ReplaceUpdate fully replaces the update record under its id. There is
// no partial patching; the caller supplies the complete record.
func (s *MongoStore) ReplaceUpdate(ctx context.Context, update types.Update) error {
	oid, err := primitive.ObjectIDFromHex(update.ID)
	if err != nil {
		return trace.BadParameter("invalid update id %q", update.ID)
	}
	doc := updateDoc{ID: oid, Update: update}
	doc.Update.ID = ""
	res, err := s.updates.ReplaceOne(ctx, bson.M{"_id": oid}, doc)
	if err != nil {
		return trace.Wrap(err, "failed to replace update")
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("no update found with id %v", update.ID)
	}
	return nil
}

// GetUpdate returns an update record by id.
func (s *MongoStore) GetUpdate(ctx context.Context, updateID string) (types.Update, error) {
	oid, err := primitive.ObjectIDFromHex(updateID)
	if err != nil {
		return types.Update{}, trace.BadParameter("invalid update id %q", updateID)
	}
	var doc updateDoc
	if err := s.updates.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Update{}, trace.NotFound("no update found with id %v", updateID)
		}
		return types.Update{}, trace.Wrap(err, "failed to query updates")
	}
	doc.Update.ID = doc.ID.Hex()
	return doc.Update, nil
}

// GetAPIKey returns an api key record by its public key identifier.
func (s *MongoStore) GetAPIKey(ctx context.Context, key string) (types.APIKey, error) {
	var apiKey types.APIKey
	err := s.apiKeys.FindOne(ctx, bson.M{"_id": key}).Decode(&apiKey)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.APIKey{}, trace.NotFound("no api key found")
		}
		return types.APIKey{}, trace.Wrap(err, "failed to query api keys")
	}
	return apiKey, nil
}

// CreateAPIKey inserts an api key record.
func (s *MongoStore) CreateAPIKey(ctx context.Context, apiKey types.APIKey) error {
	if apiKey.Key == "" || apiKey.UserID == "" {
		return trace.BadParameter("api key requires key and user id")
	}
	if _, err := s.apiKeys.InsertOne(ctx, apiKey); err != nil {
		return trace.Wrap(err, "failed to insert api key")
	}
	return nil
}

// GetTag returns a tag by id.
func (s *MongoStore) GetTag(ctx context.Context, tagID string) (types.Tag, error) {
	var tag types.Tag
	err := s.tags.FindOne(ctx, bson.M{"_id": tagID}).Decode(&tag)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Tag{}, trace.NotFound("no tag found with id %v", tagID)
		}
		return types.Tag{}, trace.Wrap(err, "failed to query tags")
	}
	return tag, nil
}

// CreateTag inserts a tag, assigning an id when unset.
func (s *MongoStore) CreateTag(ctx context.Context, tag types.Tag) (types.Tag, error) {
	if tag.ID == "" {
		tag.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.tags.InsertOne(ctx, tag); err != nil {
		return types.Tag{}, trace.Wrap(err, "failed to insert tag")
	}
	return tag, nil
}
