package parent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/model"
)

// DBTX is what the linker needs from a pgx pool.
type DBTX interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AttachResult reports which strategy linked the upload, if any.
type AttachResult struct {
	ParentID   *int64
	ParentType string
	Strategy   string
}

// Linker attaches and detaches upload references across the known parent
// tables. Every strategy runs on its own; a failing one is logged and the
// next is tried.
type Linker struct {
	db         DBTX
	tables     []Table
	strategies []Strategy
	logger     *zap.Logger
}

// NewLinker builds the strategy list from tables, preserving their order.
func NewLinker(db DBTX, tables []Table, logger *zap.Logger) *Linker {
	return &Linker{
		db:         db,
		tables:     tables,
		strategies: Strategies(tables),
		logger:     logger.Named("parent"),
	}
}

// Tables returns the table shapes the linker was built with.
func (l *Linker) Tables() []Table {
	return l.tables
}

// Attach stops at the first strategy that changes a row.
func (l *Linker) Attach(ctx context.Context, parent model.ParentRef, ref model.Reference) AttachResult {
	for _, s := range l.applicable(parent) {
		n, err := s.Attach(ctx, l.db, parent.ID, ref)
		if err != nil {
			l.logFailure("attach", s, parent, err)
			continue
		}
		if n > 0 {
			id := parent.ID
			l.logger.Debug("upload attached",
				zap.String("strategy", s.Name()), zap.Int64("parent_id", id), zap.String("key", ref.Key))
			return AttachResult{ParentID: &id, ParentType: s.Table().Type, Strategy: s.Name()}
		}
	}
	l.logger.Warn("no parent row accepted the upload",
		zap.Int64("parent_id", parent.ID), zap.String("parent_type", parent.Type), zap.String("key", ref.Key))
	return AttachResult{}
}

// Detach runs every applicable strategy and returns the total number of rows
// cleared. Each strategy only matches rows that still reference this object.
func (l *Linker) Detach(ctx context.Context, parent model.ParentRef, ref model.Reference) int64 {
	var total int64
	for _, s := range l.applicable(parent) {
		n, err := s.Detach(ctx, l.db, parent.ID, ref)
		if err != nil {
			l.logFailure("detach", s, parent, err)
			continue
		}
		total += n
	}
	return total
}

// Fetch returns the parent row as a generic map, searching the applicable
// tables in order.
func (l *Linker) Fetch(ctx context.Context, parent model.ParentRef) (map[string]any, error) {
	for _, t := range l.tablesFor(parent) {
		var raw []byte
		err := l.db.QueryRow(ctx,
			fmt.Sprintf(`SELECT row_to_json(t) FROM %s t WHERE t.id = $1`, quoteTable(t.Name)), parent.ID).Scan(&raw)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				l.logger.Warn("fetch parent failed", zap.String("table", t.Name), zap.Error(err))
			}
			continue
		}
		row := map[string]any{}
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode parent row: %w", err)
		}
		return row, nil
	}
	return nil, apperr.NotFound("parent %d", parent.ID)
}

func (l *Linker) applicable(parent model.ParentRef) []Strategy {
	if parent.Type == "" {
		if len(l.tables) > 1 {
			l.logger.Warn("parent type not given, matching by id across all parent tables", zap.Int64("parent_id", parent.ID))
		}
		return l.strategies
	}
	var out []Strategy
	for _, s := range l.strategies {
		if s.Table().Type == parent.Type {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		l.logger.Warn("unknown parent type", zap.String("parent_type", parent.Type))
	}
	return out
}

func (l *Linker) tablesFor(parent model.ParentRef) []Table {
	if parent.Type == "" {
		return l.tables
	}
	var out []Table
	for _, t := range l.tables {
		if t.Type == parent.Type {
			out = append(out, t)
		}
	}
	return out
}

func (l *Linker) logFailure(op string, s Strategy, parent model.ParentRef, err error) {
	fields := []zap.Field{zap.String("strategy", s.Name()), zap.Int64("parent_id", parent.ID)}
	if isSchemaMismatch(err) {
		l.logger.Info(op+" strategy skipped", append(fields, zap.Error(apperr.SchemaMismatch(s.Name(), err)))...)
		return
	}
	l.logger.Warn(op+" strategy failed", append(fields, zap.Error(err))...)
}

// isSchemaMismatch matches errors caused by the deployed schema lacking the
// column, table or type a statement assumed.
func isSchemaMismatch(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42703", // undefined_column
		"42P01", // undefined_table
		"42804", // datatype_mismatch
		"42883": // undefined_function
		return true
	}
	return false
}
