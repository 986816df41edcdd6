package parent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/averbadrop/internal/model"
)

// Execer runs a single statement. Strategies must be given a pool or a plain
// connection, never a transaction: a failed statement would abort every
// strategy after it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Strategy is one schema-specific way of linking an upload to a parent row.
// Both methods return the number of rows they changed.
type Strategy interface {
	Name() string
	Table() Table
	Attach(ctx context.Context, db Execer, parentID int64, ref model.Reference) (int64, error)
	Detach(ctx context.Context, db Execer, parentID int64, ref model.Reference) (int64, error)
}

// Strategies derives the ordered strategy list from tables: for every table,
// the structured pointer first and the legacy columns second.
func Strategies(tables []Table) []Strategy {
	var out []Strategy
	for _, t := range tables {
		if t.Pointer != nil {
			out = append(out, pointerStrategy{table: t})
		}
		if t.Legacy != nil {
			out = append(out, legacyStrategy{table: t})
		}
	}
	return out
}

type pointerStrategy struct {
	table Table
}

func (s pointerStrategy) Name() string { return "pointer:" + s.table.Name }
func (s pointerStrategy) Table() Table { return s.table }

func (s pointerStrategy) Attach(ctx context.Context, db Execer, parentID int64, ref model.Reference) (int64, error) {
	data, err := json.Marshal(ref)
	if err != nil {
		return 0, fmt.Errorf("encode reference: %w", err)
	}
	col := quoteColumn(s.table.Pointer.Column)
	tag, err := db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $2::jsonb WHERE id = $1`, quoteTable(s.table.Name), col),
		parentID, string(data))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Detach clears the pointer only when it still points at this object.
func (s pointerStrategy) Detach(ctx context.Context, db Execer, parentID int64, ref model.Reference) (int64, error) {
	col := quoteColumn(s.table.Pointer.Column)
	tag, err := db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE id = $1 AND (%s->>'key' = $2 OR %s->>'url' = $3)`,
			quoteTable(s.table.Name), col, col, col),
		parentID, ref.Key, ref.URL)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type legacyStrategy struct {
	table Table
}

func (s legacyStrategy) Name() string { return "legacy:" + s.table.Name }
func (s legacyStrategy) Table() Table { return s.table }

func (s legacyStrategy) Attach(ctx context.Context, db Execer, parentID int64, ref model.Reference) (int64, error) {
	cols := s.table.Legacy
	set := fmt.Sprintf(`%s = $2, %s = $3`, quoteColumn(cols.URL), quoteColumn(cols.Filename))
	args := []any{parentID, ref.URL, ref.StoredName}
	if cols.Metadata != "" {
		data, err := json.Marshal(ref)
		if err != nil {
			return 0, fmt.Errorf("encode reference: %w", err)
		}
		set += fmt.Sprintf(`, %s = $4::jsonb`, quoteColumn(cols.Metadata))
		args = append(args, string(data))
	}
	tag, err := db.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, quoteTable(s.table.Name), set), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Detach clears the scalar columns when either the url or the stored file
// name still refers to this object.
func (s legacyStrategy) Detach(ctx context.Context, db Execer, parentID int64, ref model.Reference) (int64, error) {
	cols := s.table.Legacy
	url, name := quoteColumn(cols.URL), quoteColumn(cols.Filename)
	set := fmt.Sprintf(`%s = NULL, %s = NULL`, url, name)
	if cols.Metadata != "" {
		set += fmt.Sprintf(`, %s = NULL`, quoteColumn(cols.Metadata))
	}
	tag, err := db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 AND (%s = $2 OR %s = $3)`, quoteTable(s.table.Name), set, url, name),
		parentID, ref.URL, ref.StoredName)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
