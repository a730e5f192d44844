// Package schema provides the table descriptor used to configure mirroring.
package schema

import (
	"fmt"
	"regexp"
	"time"
)

// identRe matches valid SQLite identifiers for tables and columns.
// Restricting to alphanumerics and underscores prevents SQL injection
// through identifiers, which cannot be bound as query parameters.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name is a safe SQL identifier.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

// TableSpec describes one mirrored table. It is captured once at engine
// construction and is immutable for the engine's lifetime; columns are
// listed explicitly rather than re-derived from the store on each pass.
type TableSpec struct {
	// Name is the table kept consistent between the two stores.
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// PrimaryKey is the column that identifies a row across both stores.
	PrimaryKey string `json:"primary_key" yaml:"primary_key" mapstructure:"primary_key"`

	// Columns are the tracked non-key columns, in any order. Fingerprints
	// are computed over the sorted column set, so ordering here does not
	// affect change detection.
	Columns []string `json:"columns" yaml:"columns" mapstructure:"columns"`

	// PollInterval is how long the sync worker sleeps between passes.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// PropagateDeletes controls whether a row that disappears from one
	// store is deleted from the other. Disabled by default: a missing row
	// is then simply re-filled from the surviving side on the next pass.
	PropagateDeletes bool `json:"propagate_deletes" yaml:"propagate_deletes" mapstructure:"propagate_deletes"`
}

// DefaultPollInterval is used when a TableSpec leaves PollInterval zero.
const DefaultPollInterval = 500 * time.Millisecond

// Validate checks that the spec names a table, a primary key, and at least
// one tracked column, and that every identifier is safe to interpolate.
func (s *TableSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if !ValidIdent(s.Name) {
		return fmt.Errorf("invalid table name: %q", s.Name)
	}
	if s.PrimaryKey == "" {
		return fmt.Errorf("primary key column is required")
	}
	if !ValidIdent(s.PrimaryKey) {
		return fmt.Errorf("invalid primary key column: %q", s.PrimaryKey)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("at least one tracked column is required")
	}
	for _, col := range s.Columns {
		if !ValidIdent(col) {
			return fmt.Errorf("invalid column name: %q", col)
		}
		if col == s.PrimaryKey {
			return fmt.Errorf("primary key %q must not be listed in columns", col)
		}
	}
	return nil
}

// Interval returns the configured poll interval, falling back to
// DefaultPollInterval when unset.
func (s *TableSpec) Interval() time.Duration {
	if s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return s.PollInterval
}
