// Package parent links uploads to the business records that own them. Parent
// rows live in tables whose shape differs between deployments, so each table
// is described by the capabilities it has and only matching updates are
// attempted against it.
package parent

import (
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/averbadrop/internal/config"
)

// Parent types of the default tables.
const (
	TypeAverbacao       = "averbacao"
	TypeAverbacaoLegacy = "averbacao_legacy"
)

// PointerColumns describes a JSONB column holding a structured model.Reference.
type PointerColumns struct {
	Column string
}

// LegacyColumns describes the scalar url/filename columns older tables use.
// Metadata is optional.
type LegacyColumns struct {
	URL      string
	Filename string
	Metadata string
}

// Table is one known parent table shape. A nil capability means the table
// does not have those columns.
type Table struct {
	Type    string
	Name    string
	Pointer *PointerColumns
	Legacy  *LegacyColumns
}

// DefaultTables returns the two parent shapes the records application ships:
// the current table with both pointer and legacy columns, and the legacy
// table with scalar columns only.
func DefaultTables(cfg config.ParentsConfig) []Table {
	var tables []Table
	if cfg.PrimaryTable != "" {
		tables = append(tables, Table{
			Type:    TypeAverbacao,
			Name:    cfg.PrimaryTable,
			Pointer: &PointerColumns{Column: "upload"},
			Legacy:  &LegacyColumns{URL: "pdf_url", Filename: "pdf_filename", Metadata: "pdf_metadata"},
		})
	}
	if cfg.LegacyTable != "" {
		tables = append(tables, Table{
			Type:   TypeAverbacaoLegacy,
			Name:   cfg.LegacyTable,
			Legacy: &LegacyColumns{URL: "pdf_url", Filename: "pdf_filename"},
		})
	}
	return tables
}

func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func quoteColumn(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
