// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rules is the Rule Registry (spec §4.1): it owns the current
// compiled multi-pattern database and versions it on every mutation. The
// compiler is grounded directly on the original Caronte project's
// rules_manager.go, which used github.com/flier/gohs/hyperscan the same
// way this package does: one hyperscan.Pattern per model.Pattern, a
// stable per-database pattern-id, and a pattern-id -> rule-id map so scan
// output can be translated back to a Rule.
package rules

import (
	"fmt"

	"github.com/flier/gohs/hyperscan"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/model"
)

// buildHyperscanPattern compiles one model.Pattern into a *hyperscan.Pattern
// with the requested id. Of Pattern.Flags, Caseless and DotAll are
// translated to hyperscan flags; MinLen and MaxLen are not applied.
func buildHyperscanPattern(p model.Pattern, id int) (*hyperscan.Pattern, error) {
	hp, err := hyperscan.ParsePattern(fmt.Sprintf("/%s/", p.Regex))
	if err != nil {
		return nil, cerrors.Wrapf(err, cerrors.KindInvalidInput, "rules: invalid pattern %q", p.Regex)
	}

	if p.Flags.Caseless {
		hp.Flags |= hyperscan.Caseless
	}
	if p.Flags.DotAll {
		hp.Flags |= hyperscan.DotAll
	}
	// SomLeftMost lets the match handler report the true start offset of a
	// match instead of only its end, which spec §4.2's (start,end) ranges
	// require.
	hp.Flags |= hyperscan.SomLeftMost

	hp.Id = id

	if !hp.IsValid() {
		return nil, cerrors.Errorf(cerrors.KindInvalidInput, "rules: pattern %q failed validation", p.Regex)
	}

	return hp, nil
}

// appliesToClient reports whether a pattern with the given direction
// should be included in the client->server sub-database.
func appliesToClient(d model.Direction) bool { return d == model.DirectionClient || d == model.DirectionBoth }

// appliesToServer reports whether a pattern with the given direction
// should be included in the server->client sub-database.
func appliesToServer(d model.Direction) bool { return d == model.DirectionServer || d == model.DirectionBoth }
