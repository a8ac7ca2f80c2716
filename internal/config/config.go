// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config is the immutable startup configuration of caronte (spec
// §9 Design Notes). A Config is loaded once, validated, and then passed
// by value to every component that needs it; nothing mutates it in place.
package config

import (
	"encoding/json"
	"os"
	"time"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
)

// Config holds the keys named in spec.md's Design Notes plus the optional
// Tailnet block for the embedded Tailscale listener. Adding a field here
// is a deliberate, reviewed decision, not a place to stash incidental
// settings.
type Config struct {
	ServerAddress     string                  `json:"server_address"`
	FlagRegex         string                  `json:"flag_regex"`
	AuthRequired      bool                    `json:"auth_required"`
	Accounts          map[string]SecureString `json:"accounts"`
	BlockGapMS        int                     `json:"block_gap_ms"`
	IdleFlowS         int                     `json:"idle_flow_s"`
	MaxChunkBytes     int                     `json:"max_chunk_bytes"`
	DefaultQueryLimit int                     `json:"default_query_limit"`
	Tailnet           *TailnetConfig          `json:"tailnet,omitempty"`
}

// Default returns the baseline configuration applied before a /setup call
// or a config file overrides individual fields.
func Default() Config {
	return Config{
		ServerAddress:     "0.0.0.0:3333",
		AuthRequired:      true,
		Accounts:          map[string]SecureString{},
		BlockGapMS:        100,
		IdleFlowS:         300,
		MaxChunkBytes:     64 * 1024,
		DefaultQueryLimit: 8024,
	}
}

// BlockGap is the wall-clock gap (spec §4.3) after which a new packet
// starts a new block instead of joining the current one.
func (c Config) BlockGap() time.Duration { return time.Duration(c.BlockGapMS) * time.Millisecond }

// IdleFlowTimeout is T_idle_flow (spec §4.3): a flow with no packet on
// either side for this long is terminated.
func (c Config) IdleFlowTimeout() time.Duration { return time.Duration(c.IdleFlowS) * time.Second }

// Load reads and validates a JSON config file.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, cerrors.Wrap(err, cerrors.KindInvalidInput, "config: read")
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, cerrors.Wrap(err, cerrors.KindInvalidInput, "config: parse")
	}
	if errs := cfg.Validate(); errs.HasErrors() {
		return Config{}, cerrors.Wrap(errs, cerrors.KindInvalidInput, "config: invalid")
	}
	return cfg, nil
}
