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

// Package config loads the flotilla server configuration from a YAML
// file and fills in defaults for everything the file leaves out.
package config

import (
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/flotilla-dev/flotilla/lib/defaults"
)

// FileConfig is the on-disk YAML configuration.
type FileConfig struct {
	// ListenAddr is the address the HTTP/websocket server binds to.
	ListenAddr string `yaml:"listen_addr"`

	Mongo     Mongo     `yaml:"mongo"`
	JWT       JWT       `yaml:"jwt"`
	Websocket Websocket `yaml:"websocket"`
}

// Mongo configures the backing document store.
type Mongo struct {
	// URI is the mongodb connection string.
	URI string `yaml:"uri"`
	// Database is the database name, "flotilla" when empty.
	Database string `yaml:"database"`
}

// JWT configures bearer token signing and verification.
type JWT struct {
	// Secret is the HMAC signing key. Required.
	Secret string `yaml:"secret"`
	// Issuer is the iss claim stamped on issued tokens.
	Issuer string `yaml:"issuer"`
	// TTL is the lifetime of issued tokens.
	TTL time.Duration `yaml:"ttl"`
}

// Websocket configures the live update stream.
type Websocket struct {
	// LoginTimeout bounds how long a fresh connection may take to
	// present credentials.
	LoginTimeout time.Duration `yaml:"login_timeout"`
	// FanoutCapacity is the per-subscriber event queue depth.
	FanoutCapacity int `yaml:"fanout_capacity"`
}

// ReadConfigFile loads and validates the configuration at path.
func ReadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	fc, err := ReadConfig(data)
	if err != nil {
		return nil, trace.Wrap(err, "failed parsing config file %v", path)
	}
	return fc, nil
}

// ReadConfig parses raw YAML configuration bytes.
func ReadConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	if err := fc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &fc, nil
}

// CheckAndSetDefaults validates the configuration and fills in defaults.
func (fc *FileConfig) CheckAndSetDefaults() error {
	if fc.ListenAddr == "" {
		fc.ListenAddr = defaults.ListenAddr
	}
	if fc.Mongo.URI == "" {
		return trace.BadParameter("missing required parameter mongo.uri")
	}
	if fc.Mongo.Database == "" {
		fc.Mongo.Database = defaults.MongoDatabase
	}
	if fc.JWT.Secret == "" {
		return trace.BadParameter("missing required parameter jwt.secret")
	}
	if fc.JWT.TTL == 0 {
		fc.JWT.TTL = defaults.TokenTTL
	}
	if fc.JWT.TTL < 0 {
		return trace.BadParameter("jwt.ttl must be positive, got %v", fc.JWT.TTL)
	}
	if fc.Websocket.LoginTimeout == 0 {
		fc.Websocket.LoginTimeout = defaults.WebsocketLoginTimeout
	}
	if fc.Websocket.LoginTimeout < 0 {
		return trace.BadParameter("websocket.login_timeout must be positive, got %v", fc.Websocket.LoginTimeout)
	}
	if fc.Websocket.FanoutCapacity == 0 {
		fc.Websocket.FanoutCapacity = defaults.FanoutCapacity
	}
	if fc.Websocket.FanoutCapacity < 0 {
		return trace.BadParameter("websocket.fanout_capacity must be positive, got %v", fc.Websocket.FanoutCapacity)
	}
	return nil
}
