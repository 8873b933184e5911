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

// Command flotilla runs the update distribution gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flotilla-dev/flotilla"
	"github.com/flotilla-dev/flotilla/lib/auth"
	"github.com/flotilla-dev/flotilla/lib/authz"
	"github.com/flotilla-dev/flotilla/lib/config"
	"github.com/flotilla-dev/flotilla/lib/defaults"
	"github.com/flotilla-dev/flotilla/lib/events"
	"github.com/flotilla-dev/flotilla/lib/storage"
	"github.com/flotilla-dev/flotilla/lib/updates"
	"github.com/flotilla-dev/flotilla/lib/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("flotilla", "Flotilla update distribution gateway.")
	app.HelpFlag.Short('h')

	start := app.Command("start", "Start the gateway.")
	configPath := start.Flag("config", "Path to the YAML configuration file.").
		Short('c').Required().String()

	ver := app.Command("version", "Print the version and exit.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	switch command {
	case start.FullCommand():
		fc, err := config.ReadConfigFile(*configPath)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(serve(fc))
	case ver.FullCommand():
		fmt.Println(flotilla.Version)
		return nil
	}
	return nil
}

// process holds the wired subsystems of a running gateway. Updates is
// the producer-side entry point handed to control plane operations.
type process struct {
	Store   *storage.MongoStore
	Fanout  *events.Fanout
	Authz   *authz.Authorizer
	Updates *updates.Service
	Auth    *auth.Authenticator
	Web     *web.Handler
}

func newProcess(ctx context.Context, fc *config.FileConfig) (*process, error) {
	store, err := storage.NewMongoStore(ctx, storage.MongoStoreConfig{
		URI:      fc.Mongo.URI,
		Database: fc.Mongo.Database,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	fanout := events.NewFanout(events.FanoutConfig{
		Capacity: fc.Websocket.FanoutCapacity,
	})

	authorizer, err := authz.NewAuthorizer(store)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	updatesSvc, err := updates.NewService(updates.ServiceConfig{
		Store:  store,
		Fanout: fanout,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Store:           store,
		TokenSigningKey: []byte(fc.JWT.Secret),
		Issuer:          fc.JWT.Issuer,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.HandlerConfig{
		AccessPoint:  authorizer,
		Verifier:     authenticator,
		Fanout:       fanout,
		LoginTimeout: fc.Websocket.LoginTimeout,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &process{
		Store:   store,
		Fanout:  fanout,
		Authz:   authorizer,
		Updates: updatesSvc,
		Auth:    authenticator,
		Web:     handler,
	}, nil
}

func serve(fc *config.FileConfig) error {
	logger := slog.With(flotilla.ComponentKey, flotilla.ComponentWeb)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proc, err := newProcess(ctx, fc)
	if err != nil {
		return trace.Wrap(err)
	}
	defer proc.Store.Close(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", proc.Web)

	srv := &http.Server{
		Addr:              fc.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: defaults.HTTPReadHeaderTimeout,
	}

	errC := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "Gateway is listening.", "addr", fc.ListenAddr)
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	logger.InfoContext(context.Background(), "Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
	defer cancel()

	// Closing the fanout terminates every streaming session, letting
	// Shutdown drain the websocket handlers.
	proc.Fanout.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return trace.Wrap(err)
	}
	return nil
}
