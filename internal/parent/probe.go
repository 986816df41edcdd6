package parent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Probe narrows each table's capabilities to the columns the deployed schema
// actually has. Tables that do not exist are dropped.
func Probe(ctx context.Context, db DBTX, tables []Table, logger *zap.Logger) ([]Table, error) {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, bareName(t.Name))
	}
	rows, err := db.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = ANY(current_schemas(false)) AND table_name = ANY($1)
	`, names)
	if err != nil {
		return nil, fmt.Errorf("probe parent tables: %w", err)
	}
	defer rows.Close()

	columns := map[string]map[string]bool{}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, fmt.Errorf("scan parent column: %w", err)
		}
		if columns[table] == nil {
			columns[table] = map[string]bool{}
		}
		columns[table][column] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("probe parent tables: %w", err)
	}

	var out []Table
	for _, t := range tables {
		cols, ok := columns[bareName(t.Name)]
		if !ok {
			logger.Warn("parent table not found, skipping", zap.String("table", t.Name))
			continue
		}
		out = append(out, narrow(t, cols, logger))
	}
	return out, nil
}

func narrow(t Table, cols map[string]bool, logger *zap.Logger) Table {
	if t.Pointer != nil && !cols[t.Pointer.Column] {
		logger.Info("parent table has no pointer column", zap.String("table", t.Name), zap.String("column", t.Pointer.Column))
		t.Pointer = nil
	}
	if t.Legacy != nil {
		legacy := *t.Legacy
		if !cols[legacy.URL] || !cols[legacy.Filename] {
			logger.Info("parent table has no legacy columns", zap.String("table", t.Name))
			t.Legacy = nil
		} else {
			if legacy.Metadata != "" && !cols[legacy.Metadata] {
				legacy.Metadata = ""
			}
			t.Legacy = &legacy
		}
	}
	return t
}

func bareName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
