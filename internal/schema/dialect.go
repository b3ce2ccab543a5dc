package schema

import (
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour emitted by the builders in this package.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	default:
		return "postgres"
	}
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// TypeName maps an allowed type name to the dialect's column type.
func (d Dialect) TypeName(t string) string {
	if d != SQLite {
		return t
	}
	switch Category(t) {
	case "Numeric":
		if strings.Contains(t, "int") {
			return "INTEGER"
		}
		return "REAL"
	case "Boolean":
		return "INTEGER"
	case "Date/Time":
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// TextCast renders expr cast to text in the dialect.
func (d Dialect) TextCast(expr string) string {
	if d == SQLite {
		return "CAST(" + expr + " AS TEXT)"
	}
	return expr + "::text"
}
