// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rules

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"

	cerrors "github.com/caronte-ctf/caronte/internal/errors"
	"github.com/caronte-ctf/caronte/internal/model"
	"github.com/caronte-ctf/caronte/internal/store"
)

// Registry is the Rule Registry (spec §4.1). It is the single writer of
// rule documents and the single source of the current compiled Database;
// every rule mutation recompiles and atomically publishes a new one.
type Registry struct {
	st       *store.Store
	validate *validator.Validate

	mu    sync.RWMutex
	rules map[model.RowID]model.Rule
	db    *Database

	// updates fans out every newly published Database so a background
	// rescan worker can pick up the delta without polling.
	updates chan *Database
}

// Open loads every persisted rule and compiles the initial database.
func Open(ctx context.Context, st *store.Store) (*Registry, error) {
	r := &Registry{
		st:       st,
		validate: validator.New(),
		rules:    map[model.RowID]model.Rule{},
		updates:  make(chan *Database, 1),
	}

	rules, err := st.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		r.rules[rule.ID] = rule
	}
	if err := r.recompile(0); err != nil {
		return nil, err
	}
	return r, nil
}

// CurrentDatabase returns the database in effect right now. The returned
// pointer remains valid and immutable even after a later mutation swaps
// in a new one; a scan in flight is never invalidated mid-flight.
func (r *Registry) CurrentDatabase() *Database {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

// Updates returns a channel that receives every newly published Database.
// The background rescan worker (internal/rescan) is the sole consumer.
func (r *Registry) Updates() <-chan *Database { return r.updates }

// AddRule validates, persists, and compiles rule into the registry,
// returning its assigned id.
func (r *Registry) AddRule(ctx context.Context, rule model.Rule) (model.RowID, error) {
	if err := r.validateRule(rule); err != nil {
		return model.RowID(0), err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.st.InsertRule(ctx, rule)
	if err != nil {
		return model.RowID(0), err
	}
	rule.ID = id
	rule.Version = r.nextVersionLocked()

	prev := r.rules[id]
	r.rules[id] = rule
	if err := r.recompileLocked(rule.Version); err != nil {
		// Compilation failed: the database stays on the previous version,
		// but the row is already persisted. Roll the in-memory copy back
		// so ListRules and the persisted row agree.
		if prev.ID.IsEmpty() {
			delete(r.rules, id)
		} else {
			r.rules[id] = prev
		}
		return model.RowID(0), err
	}
	return id, nil
}

// UpdateRule replaces the rule at id with patch (keeping patch.ID) and
// recompiles. Returns NotFound if id does not exist.
func (r *Registry) UpdateRule(ctx context.Context, id model.RowID, patch model.Rule) error {
	patch.ID = id
	if err := r.validateRule(patch); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.rules[id]
	if !ok {
		return cerrors.Errorf(cerrors.KindNotFound, "rule %v not found", id)
	}
	if patch.Version != 0 && patch.Version != prev.Version {
		return cerrors.Errorf(cerrors.KindPreconditionFailed, "rule %v: stale version %d, current is %d", id, patch.Version, prev.Version)
	}

	patch.Version = r.nextVersionLocked()
	if err := r.st.UpdateRule(ctx, id, patch); err != nil {
		return err
	}
	r.rules[id] = patch
	if err := r.recompileLocked(patch.Version); err != nil {
		r.rules[id] = prev
		return err
	}
	return nil
}

// GetRule returns a copy of the rule at id.
func (r *Registry) GetRule(id model.RowID) (model.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	return rule, ok
}

// ListRules returns every known rule, in ascending id order.
func (r *Registry) ListRules() []model.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sortRulesByID(out)
	return out
}

// sortRulesByID orders rules ascending by id with a plain insertion sort;
// the rule count is small enough that this never shows up in a profile.
func sortRulesByID(rules []model.Rule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j].ID.Less(rules[j-1].ID); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

func (r *Registry) validateRule(rule model.Rule) error {
	if err := r.validate.Struct(rule); err != nil {
		return cerrors.Wrap(err, cerrors.KindInvalidInput, "rules: validation failed")
	}
	return nil
}

// nextVersionLocked assigns the next database version. Callers hold r.mu.
func (r *Registry) nextVersionLocked() uint64 {
	if r.db == nil {
		return 1
	}
	return r.db.Version + 1
}

func (r *Registry) recompile(version uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recompileLocked(version)
}

// recompileLocked rebuilds the Database from every currently enabled rule
// and swaps it in. Callers hold r.mu for writing.
func (r *Registry) recompileLocked(version uint64) error {
	enabled := make([]model.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	sortRulesByID(enabled)

	db, err := compile(version, enabled)
	if err != nil {
		return err
	}
	r.db = db

	select {
	case r.updates <- db:
	default:
		// Drop the stale pending notification and push the latest.
		select {
		case <-r.updates:
		default:
		}
		r.updates <- db
	}
	return nil
}
