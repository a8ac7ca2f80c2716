// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rowid defines the globally ordered identifier used as the
// primary key of every persisted entity in caronte.
package rowid

import "strconv"

// RowID is an opaque, comparable, globally ordered identifier. The zero
// value means "not yet assigned". Ordering and allocation are delegated to
// the store (an autoincrementing SQLite rowid), so RowID itself carries no
// allocation logic.
type RowID int64

// Empty is the zero value of RowID, meaning "no row assigned yet".
const Empty RowID = 0

// IsEmpty reports whether id has not been assigned by the store.
func (id RowID) IsEmpty() bool { return id == Empty }

// String renders the id in decimal, the same representation used in
// JSON (RowID marshals as a plain number) and in API pagination cursors.
func (id RowID) String() string { return strconv.FormatInt(int64(id), 10) }

// Parse parses a decimal RowID, as found in an API `from`/`to` query param.
func Parse(s string) (RowID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Empty, err
	}
	return RowID(n), nil
}

// Less reports whether id sorts strictly before other. RowIDs are totally
// ordered by their underlying integer, which is what gives "from"/"to"
// pagination its meaning.
func (id RowID) Less(other RowID) bool { return id < other }
