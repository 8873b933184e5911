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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/lib/defaults"
)

func TestReadConfigDefaults(t *testing.T) {
	fc, err := ReadConfig([]byte(`
mongo:
  uri: mongodb://localhost:27017
jwt:
  secret: super-secret
`))
	require.NoError(t, err)
	require.Equal(t, defaults.ListenAddr, fc.ListenAddr)
	require.Equal(t, defaults.MongoDatabase, fc.Mongo.Database)
	require.Equal(t, defaults.TokenTTL, fc.JWT.TTL)
	require.Equal(t, defaults.WebsocketLoginTimeout, fc.Websocket.LoginTimeout)
	require.Equal(t, defaults.FanoutCapacity, fc.Websocket.FanoutCapacity)
}

func TestReadConfigFull(t *testing.T) {
	fc, err := ReadConfig([]byte(`
listen_addr: 127.0.0.1:8080
mongo:
  uri: mongodb://db.internal:27017
  database: flotilla_test
jwt:
  secret: super-secret
  issuer: flotilla-test
  ttl: 1h
websocket:
  login_timeout: 10s
  fanout_capacity: 64
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", fc.ListenAddr)
	require.Equal(t, "flotilla_test", fc.Mongo.Database)
	require.Equal(t, "flotilla-test", fc.JWT.Issuer)
	require.Equal(t, time.Hour, fc.JWT.TTL)
	require.Equal(t, 10*time.Second, fc.Websocket.LoginTimeout)
	require.Equal(t, 64, fc.Websocket.FanoutCapacity)
}

func TestReadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "not yaml", yaml: `{{{`},
		{name: "missing mongo uri", yaml: "jwt:\n  secret: s\n"},
		{name: "missing jwt secret", yaml: "mongo:\n  uri: mongodb://x\n"},
		{name: "negative ttl", yaml: "mongo:\n  uri: mongodb://x\njwt:\n  secret: s\n  ttl: -1h\n"},
		{name: "negative capacity", yaml: "mongo:\n  uri: mongodb://x\njwt:\n  secret: s\nwebsocket:\n  fanout_capacity: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadConfig([]byte(tt.yaml))
			require.Error(t, err)
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flotilla.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mongo:\n  uri: mongodb://x\njwt:\n  secret: s\n"), 0o600))

	fc, err := ReadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "mongodb://x", fc.Mongo.URI)

	_, err = ReadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
}
