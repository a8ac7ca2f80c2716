// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger and optional remote
// syslog forwarding used throughout caronte.
package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig controls forwarding of log records to a remote syslog daemon.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility syslog.Priority
}

// DefaultSyslogConfig returns remote forwarding disabled, with the
// conventional UDP/514 defaults applied once a caller enables it.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "caronte",
		Facility: syslog.LOG_DAEMON,
	}
}

// NewSyslogWriter dials a remote syslog daemon and returns a writer that
// forwards every Write call as a single syslog message. Missing fields on
// cfg are defaulted the same way DefaultSyslogConfig sets them.
func NewSyslogWriter(cfg SyslogConfig) (*syslog.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "caronte"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return syslog.Dial(cfg.Protocol, addr, cfg.Facility|syslog.LOG_INFO, cfg.Tag)
}
