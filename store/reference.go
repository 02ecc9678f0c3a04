package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// Reference is one column pointing at a person or a user.
type Reference struct {
	Table  string
	Column string
	// UniqueWith is the other column of a composite unique index on Column.
	// Rows that would collide after the rewrite are dropped instead.
	UniqueWith string
	// Dependents point at the id of this table. Their rows go with dropped rows.
	Dependents []Reference
}

func (r Reference) String() string {
	return r.Table + "." + r.Column
}

// RewriteReferences points every reference to oldID at newID with one set
// based statement per column, and returns the number of rewritten rows.
func (s *Store) RewriteReferences(ctx context.Context, refs []Reference, oldID, newID uint) (int64, error) {
	ctx, span := tracer.Start(ctx, "Store.RewriteReferences")
	defer span.End()

	var total int64
	for _, ref := range refs {
		table, column := pq.QuoteIdentifier(ref.Table), pq.QuoteIdentifier(ref.Column)

		if ref.UniqueWith != "" {
			other := pq.QuoteIdentifier(ref.UniqueWith)
			colliding := fmt.Sprintf(
				"SELECT id FROM %s WHERE %s = ? AND %s IN (SELECT %s FROM %s WHERE %s = ?)",
				table, column, other, other, table, column,
			)
			for _, dep := range ref.Dependents {
				stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
					pq.QuoteIdentifier(dep.Table), pq.QuoteIdentifier(dep.Column), colliding)
				if err := s.db.WithContext(ctx).Exec(stmt, oldID, newID).Error; err != nil {
					span.RecordError(err)
					return total, errors.Wrapf(err, "failed to drop %s of colliding %s", dep, ref)
				}
			}

			stmt := fmt.Sprintf(
				"DELETE FROM %s WHERE %s = ? AND %s IN (SELECT %s FROM %s WHERE %s = ?)",
				table, column, other, other, table, column,
			)
			if err := s.db.WithContext(ctx).Exec(stmt, oldID, newID).Error; err != nil {
				span.RecordError(err)
				return total, errors.Wrapf(err, "failed to drop colliding %s", ref)
			}
		}

		result := s.db.WithContext(ctx).Table(ref.Table).Where(column+" = ?", oldID).Update(ref.Column, newID)
		if result.Error != nil {
			span.RecordError(result.Error)
			return total, errors.Wrapf(result.Error, "failed to rewrite %s", ref)
		}
		total += result.RowsAffected
	}
	return total, nil
}

// CountReferences counts the rows referencing id.
func (s *Store) CountReferences(ctx context.Context, refs []Reference, id uint) (int64, error) {
	ctx, span := tracer.Start(ctx, "Store.CountReferences")
	defer span.End()

	var total int64
	for _, ref := range refs {
		var count int64
		err := s.db.WithContext(ctx).Table(ref.Table).Where(pq.QuoteIdentifier(ref.Column)+" = ?", id).Count(&count).Error
		if err != nil {
			return total, errors.Wrapf(err, "failed to count %s", ref)
		}
		total += count
	}
	return total, nil
}

// Columns lists the column names of a table.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	types, err := s.db.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(types))
	for _, t := range types {
		columns = append(columns, t.Name())
	}
	return columns, nil
}
