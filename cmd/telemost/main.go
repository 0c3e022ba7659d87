// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command telemost is a two-way relay between chat platforms. It mirrors
// messages of one Telegram chat, Mattermost channel or Matrix room into its
// counterpart on the other platform, keeps a correlation store so replies
// thread correctly in both directions, and rebuilds sprite-sheet stickers
// into animated GIFs on the way through.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	_ "go.mau.fi/util/dbutil/litestream"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aiku/telemost/pkg/bridge"
	"github.com/aiku/telemost/pkg/config"
	"github.com/aiku/telemost/pkg/matrix"
	"github.com/aiku/telemost/pkg/mattermost"
	"github.com/aiku/telemost/pkg/store"
	"github.com/aiku/telemost/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "path to the config file")
	writeExample := flag.Bool("e", false, "write the example config to stdout and exit")
	version := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("telemost %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}
	if *writeExample {
		fmt.Print(config.ExampleConfig)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "telemost: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting telemost")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := dbutil.NewWithDialect(cfg.Database.URI, cfg.Database.Type)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	db.Log = dbutil.ZeroLogger(log.With().Str("component", "database").Logger())

	st := store.New(db)
	if err := st.Upgrade(ctx); err != nil {
		return fmt.Errorf("upgrading database schema: %w", err)
	}

	a, err := newEndpoint(cfg, cfg.Bridge.PlatformA, *log)
	if err != nil {
		return err
	}
	b, err := newEndpoint(cfg, cfg.Bridge.PlatformB, *log)
	if err != nil {
		return err
	}

	br := bridge.New(*log, st, a, b, cfg.Bridge.Command)
	if err := br.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Bridge stopped")
	return nil
}

func newEndpoint(cfg *config.Config, platform string, log zerolog.Logger) (bridge.Endpoint, error) {
	var (
		adapter bridge.Adapter
		err     error
	)
	switch platform {
	case "telegram":
		adapter, err = telegram.New(log, cfg.Telegram)
	case "mattermost":
		adapter = mattermost.New(log, cfg.Mattermost)
	case "matrix":
		adapter, err = matrix.New(log, cfg.Matrix)
	default:
		err = fmt.Errorf("unknown platform %q", platform)
	}
	if err != nil {
		return bridge.Endpoint{}, fmt.Errorf("creating %s adapter: %w", platform, err)
	}
	return bridge.Endpoint{Adapter: adapter, MasterID: cfg.MasterID(platform)}, nil
}
