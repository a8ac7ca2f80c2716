// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command caronted runs caronte's capture pipeline and HTTP/JSON API:
// it ingests PCAPs (live upload or on-disk), reassembles and scans TCP
// flows, persists connections and streams, and serves the query API
// described in the external interfaces.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/caronte-ctf/caronte/internal/api"
	"github.com/caronte-ctf/caronte/internal/assembler"
	"github.com/caronte-ctf/caronte/internal/config"
	"github.com/caronte-ctf/caronte/internal/finalizer"
	"github.com/caronte-ctf/caronte/internal/logging"
	"github.com/caronte-ctf/caronte/internal/metrics"
	"github.com/caronte-ctf/caronte/internal/pcapsession"
	"github.com/caronte-ctf/caronte/internal/rescan"
	"github.com/caronte-ctf/caronte/internal/rules"
	"github.com/caronte-ctf/caronte/internal/store"
	"github.com/caronte-ctf/caronte/internal/streamreader"
	"github.com/caronte-ctf/caronte/internal/tsnet"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config file")
	dbPath := flag.String("db", "caronte.db", "Path to the SQLite document store")
	storageDir := flag.String("storage", "captures", "Directory uploaded/processed PCAPs are stored under")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config server_address)")
	flag.Parse()

	log := logging.Default("caronted")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load config", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Error("failed to open store", "path", *dbPath, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := rules.Open(ctx, st)
	if err != nil {
		log.Error("failed to open rule registry", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		log.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}

	final := finalizer.New(st, registry, cfg.MaxChunkBytes)
	asm := assembler.New(8, cfg, final)

	rescanQueue := rescan.New(st, registry, m, 2, 256)
	go rescanQueue.Run(ctx)

	sessions := pcapsession.New(st, asm, *storageDir)
	reader := streamreader.New(st)

	addr := cfg.ServerAddress
	if *listenAddr != "" {
		addr = *listenAddr
	}

	srv, err := api.NewServer(api.ServerOptions{
		Store:      st,
		Registry:   registry,
		Reader:     reader,
		Sessions:   sessions,
		Logger:     logging.Default("api"),
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Error("failed to build API server", "err", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	log.Info("caronted starting", "addr", addr)
	if cfg.Tailnet != nil && cfg.Tailnet.Enabled {
		node := tsnet.New(cfg.Tailnet, *storageDir, logging.Default("tsnet"))
		ln, err := node.Listen(ctx, addr)
		if err != nil {
			log.Error("failed to bring up tailnet listener", "err", err)
			os.Exit(1)
		}
		defer node.Close()
		if err := srv.Serve(ctx, ln); err != nil {
			log.Error("API server stopped with error", "err", err)
		}
	} else if err := srv.Start(ctx, addr); err != nil {
		log.Error("API server stopped with error", "err", err)
	}

	// Graceful shutdown: force every in-memory flow to completion so
	// nothing captured before the signal is silently lost, then drain
	// the rescan queue and close the store.
	log.Info("flushing in-flight flows")
	asm.FlushAll()
	rescanQueue.Close()
}
