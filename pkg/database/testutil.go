package database

import (
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var _ DBTX = (pgxmock.PgxPoolIface)(nil)

// NewMockPool returns a pgxmock pool usable wherever a DBTX is expected.
// Expectations match in order, with SQL compared as regular expressions.
func NewMockPool() (pgxmock.PgxPoolIface, error) {
	return pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
}
