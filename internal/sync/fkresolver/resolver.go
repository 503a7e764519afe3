// Package fkresolver maps foreign-key constraint names to the synchronizer that
// produces the referenced rows.
//
// When a batch is rejected for an unmet foreign key, the processor loop looks
// the violated constraint up here. A known constraint means the referenced row
// has not been synchronized yet and the loop waits for the producer to make
// progress. An unknown constraint is a schema or wiring error and is fatal.
package fkresolver

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/jackc/pgx/v5"

	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

// Mapping maps a constraint name to the producing synchronizer
type Mapping map[string]pkgsync.ServiceID

// Resolver resolves constraint names. It is immutable after construction.
type Resolver struct {
	mapping Mapping
}

// New creates a resolver from mapping
func New(mapping Mapping) *Resolver {
	return &Resolver{mapping: maps.Clone(mapping)}
}

// Resolve returns the producer of the rows referenced by constraint
func (r *Resolver) Resolve(constraint string) (pkgsync.ServiceID, bool) {
	id, ok := r.mapping[constraint]
	return id, ok
}

// Constraints returns the mapped constraint names in sorted order
func (r *Resolver) Constraints() []string {
	return slices.Sorted(maps.Keys(r.mapping))
}

// ForeignKey describes a foreign-key constraint found in the schema
type ForeignKey struct {
	TableName       string `db:"table_name"`
	ConstraintName  string `db:"constraint_name"`
	ReferencedTable string `db:"referenced_table"`
}

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const listForeignKeysQuery = `
	SELECT DISTINCT
		tc.table_name::text AS table_name,
		tc.constraint_name::text AS constraint_name,
		ccu.table_name::text AS referenced_table
	FROM information_schema.table_constraints tc
	JOIN information_schema.constraint_column_usage ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.constraint_schema = tc.constraint_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema = current_schema()
		AND tc.table_name::text = ANY(@tables::text[])
	ORDER BY tc.table_name, tc.constraint_name`

// Verify lists the foreign keys on tables and returns those with no mapping.
// Unmapped constraints are logged as warnings: a violation of one of them
// would be fatal at runtime.
func (r *Resolver) Verify(ctx context.Context, q Querier, tables []string) ([]ForeignKey, error) {
	rows, err := q.Query(ctx, listForeignKeysQuery, pgx.NamedArgs{"tables": tables})
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}

	fks, err := pgx.CollectRows(rows, pgx.RowToStructByName[ForeignKey])
	if err != nil {
		return nil, fmt.Errorf("failed to collect foreign key rows: %w", err)
	}

	var unmapped []ForeignKey
	for _, fk := range fks {
		if _, ok := r.mapping[fk.ConstraintName]; ok {
			continue
		}
		unmapped = append(unmapped, fk)
		slog.Warn("Foreign key constraint has no producing synchronizer",
			"constraint", fk.ConstraintName,
			"table", fk.TableName,
			"referenced_table", fk.ReferencedTable)
	}

	slog.Info("Verified foreign key mapping",
		"constraints", len(fks),
		"unmapped", len(unmapped))
	return unmapped, nil
}
