// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError is one field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// ValidationErrors aggregates every failure found in one Validate() pass,
// so a caller sees all problems at once instead of one at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) HasErrors() bool { return len(e) > 0 }

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}){1,2}$`)

// Validate checks every Config field against spec §6's validation rules.
//
// The address check fixes the open question spec.md §9 flags: the
// original source's validator was a stub that always returned true. This
// one actually parses the host and rejects anything that isn't a valid
// IPv4/IPv6 literal, with an optional numeric port.
func (c Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if !isValidServerAddress(c.ServerAddress) {
		errs = append(errs, ValidationError{"server_address", "must be a valid IPv4/IPv6 address, optionally with a port"})
	}
	if len(c.FlagRegex) > 0 && len(c.FlagRegex) < 8 {
		errs = append(errs, ValidationError{"flag_regex", "must be at least 8 characters"})
	}
	if c.FlagRegex != "" {
		if _, err := regexp.Compile(c.FlagRegex); err != nil {
			errs = append(errs, ValidationError{"flag_regex", "must be a valid regular expression: " + err.Error()})
		}
	}
	if c.AuthRequired && len(c.Accounts) == 0 {
		errs = append(errs, ValidationError{"accounts", "at least one account is required when auth_required is true"})
	}
	for user, pass := range c.Accounts {
		if strings.TrimSpace(user) == "" {
			errs = append(errs, ValidationError{"accounts", "username must not be blank"})
		}
		if len(pass) == 0 {
			errs = append(errs, ValidationError{"accounts[" + user + "]", "password must not be empty"})
		}
	}
	if c.BlockGapMS <= 0 {
		errs = append(errs, ValidationError{"block_gap_ms", "must be positive"})
	}
	if c.IdleFlowS <= 0 {
		errs = append(errs, ValidationError{"idle_flow_s", "must be positive"})
	}
	if c.MaxChunkBytes <= 0 {
		errs = append(errs, ValidationError{"max_chunk_bytes", "must be positive"})
	}
	if c.DefaultQueryLimit <= 0 {
		errs = append(errs, ValidationError{"default_query_limit", "must be positive"})
	}

	return errs
}

// isValidServerAddress parses host[:port], requiring host to be a literal
// IPv4 or IPv6 address (spec §6: "server_address must be a valid IP").
func isValidServerAddress(addr string) bool {
	if addr == "" {
		return false
	}
	host := addr
	if h, port, err := net.SplitHostPort(addr); err == nil {
		host = h
		if !isValidPort(port) {
			return false
		}
	}
	return net.ParseIP(host) != nil
}

func isValidPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1 && n <= 65535
}

// IsValidHexColor reports whether s matches spec §6's color pattern.
func IsValidHexColor(s string) bool { return hexColor.MatchString(s) }

// IsValidPort reports whether n is in the valid TCP/UDP port range.
func IsValidPort(n int) bool { return n >= 1 && n <= 65535 }
