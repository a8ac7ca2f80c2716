// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rules

import (
	"github.com/flier/gohs/hyperscan"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/model"
)

// Database is one immutable, fully-compiled snapshot of the enabled rule
// set (spec §4.1: "every mutation produces a new, immutably versioned
// database; scans in flight keep using the database they started with").
// It is never mutated after compile returns it; a new mutation builds a
// brand new Database and the Registry swaps the pointer that future scans
// observe.
type Database struct {
	Version uint64

	clientDB hyperscan.StreamDatabase
	serverDB hyperscan.StreamDatabase

	// clientOwner/serverOwner map a sub-database's local hyperscan pattern
	// id back to the RowID of the Rule that pattern belongs to, and to the
	// Pattern's position within that rule (for reporting InternalID).
	clientOwner map[int]PatternOwner
	serverOwner map[int]PatternOwner
}

type PatternOwner struct {
	RuleID     model.RowID
	PatternIdx int
}

// ClientDatabase returns the compiled sub-database that scans client->server
// traffic. It may be nil if no enabled pattern applies in that direction.
func (d *Database) ClientDatabase() hyperscan.StreamDatabase { return d.clientDB }

// ServerDatabase returns the compiled sub-database that scans server->client
// traffic. It may be nil if no enabled pattern applies in that direction.
func (d *Database) ServerDatabase() hyperscan.StreamDatabase { return d.serverDB }

// ResolveClient translates a match id reported against the client
// sub-database back into the owning rule and pattern index.
func (d *Database) ResolveClient(patternID int) (PatternOwner, bool) {
	o, ok := d.clientOwner[patternID]
	return o, ok
}

// ResolveServer is ResolveClient for the server sub-database.
func (d *Database) ResolveServer(patternID int) (PatternOwner, bool) {
	o, ok := d.serverOwner[patternID]
	return o, ok
}

// compile builds a new Database from the given enabled rules. An empty
// direction's sub-database is left nil rather than compiled from zero
// patterns, since hyperscan rejects empty pattern sets.
func compile(version uint64, enabled []model.Rule) (*Database, error) {
	var clientPatterns, serverPatterns []*hyperscan.Pattern
	clientOwner := map[int]PatternOwner{}
	serverOwner := map[int]PatternOwner{}

	for _, rule := range enabled {
		for pIdx, pattern := range rule.Patterns {
			if appliesToClient(pattern.Direction) {
				id := len(clientPatterns)
				hp, err := buildHyperscanPattern(pattern, id)
				if err != nil {
					return nil, cerrors.Wrapf(err, cerrors.KindInvalidInput, "rules: rule %s pattern %d", rule.Name, pIdx)
				}
				clientPatterns = append(clientPatterns, hp)
				clientOwner[id] = PatternOwner{RuleID: rule.ID, PatternIdx: pIdx}
			}
			if appliesToServer(pattern.Direction) {
				id := len(serverPatterns)
				hp, err := buildHyperscanPattern(pattern, id)
				if err != nil {
					return nil, cerrors.Wrapf(err, cerrors.KindInvalidInput, "rules: rule %s pattern %d", rule.Name, pIdx)
				}
				serverPatterns = append(serverPatterns, hp)
				serverOwner[id] = PatternOwner{RuleID: rule.ID, PatternIdx: pIdx}
			}
		}
	}

	db := &Database{Version: version, clientOwner: clientOwner, serverOwner: serverOwner}

	if len(clientPatterns) > 0 {
		cdb, err := hyperscan.NewStreamDatabase(clientPatterns...)
		if err != nil {
			return nil, cerrors.Wrap(err, cerrors.KindInvalidInput, "rules: compile client database")
		}
		db.clientDB = cdb
	}
	if len(serverPatterns) > 0 {
		sdb, err := hyperscan.NewStreamDatabase(serverPatterns...)
		if err != nil {
			return nil, cerrors.Wrap(err, cerrors.KindInvalidInput, "rules: compile server database")
		}
		db.serverDB = sdb
	}

	return db, nil
}
