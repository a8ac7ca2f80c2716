// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tsnet lets caronted serve its API over an embedded Tailscale
// node instead of a bare TCP listener, so a competition's box can reach
// it over the team's tailnet without a public port.
package tsnet

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"tailscale.com/tsnet"

	"github.com/caronte-ctf/caronte/internal/config"
	"github.com/caronte-ctf/caronte/internal/logging"
)

// Node wraps a tsnet.Server configured from a config.TailnetConfig.
type Node struct {
	cfg    *config.TailnetConfig
	server *tsnet.Server
	logger *logging.Logger
}

// New builds a Node. stateDir holds the tailnet identity state across
// restarts; it is created under it if missing.
func New(cfg *config.TailnetConfig, stateDir string, logger *logging.Logger) *Node {
	if logger == nil {
		logger = logging.Default("tsnet")
	}
	return &Node{cfg: cfg, logger: logger, server: &tsnet.Server{
		Dir:       filepath.Join(stateDir, "tsnet"),
		Hostname:  hostnameOrDefault(cfg.Hostname),
		AuthKey:   string(cfg.AuthKey),
		Ephemeral: cfg.Ephemeral,
		Logf:      nil,
	}}
}

func hostnameOrDefault(h string) string {
	if h == "" {
		return "caronte"
	}
	return h
}

// Listen brings the tailnet node up and returns a listener for addr (a
// bare port, e.g. ":3333") on the tailnet rather than on the host's
// network interfaces. The auth URL, if login is required, is logged at
// info level so an operator without a GUI still sees it.
func (n *Node) Listen(ctx context.Context, addr string) (net.Listener, error) {
	n.server.Logf = func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if strings.Contains(msg, "To authenticate, visit") {
			n.logger.Info("tailnet login required", "url", msg)
			return
		}
		n.logger.Debug(msg)
	}

	if err := n.server.Start(); err != nil {
		return nil, fmt.Errorf("tsnet: start: %w", err)
	}

	ln, err := n.server.Listen("tcp", addr)
	if err != nil {
		n.server.Close()
		return nil, fmt.Errorf("tsnet: listen %s: %w", addr, err)
	}
	return ln, nil
}

// Close tears down the tailnet node.
func (n *Node) Close() error { return n.server.Close() }
