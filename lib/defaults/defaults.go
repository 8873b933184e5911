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

// Package defaults holds the default values shared between the server
// configuration and the individual services.
package defaults

import "time"

const (
	// ListenAddr is the default address the gateway binds to.
	ListenAddr = "0.0.0.0:9120"

	// MongoDatabase is the default database name.
	MongoDatabase = "flotilla"

	// FanoutCapacity bounds the per-subscriber update queue. A subscriber
	// lagging by more than this many items starts losing its oldest
	// unread items.
	FanoutCapacity = 128

	// WebsocketLoginTimeout bounds the login handshake. The socket read
	// deadline is cleared once the client authenticates.
	WebsocketLoginTimeout = 30 * time.Second

	// TokenTTL is the default lifetime of issued bearer tokens.
	TokenTTL = 12 * time.Hour

	// HTTPReadHeaderTimeout bounds header reads on the gateway listener.
	HTTPReadHeaderTimeout = 10 * time.Second

	// ShutdownTimeout bounds graceful shutdown of the gateway.
	ShutdownTimeout = 15 * time.Second
)
