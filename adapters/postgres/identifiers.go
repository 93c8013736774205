package postgres

import (
	"fmt"
	"regexp"
)

// schemaNamePattern matches valid PostgreSQL identifiers.
var schemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateIdentifier checks if a name is a valid PostgreSQL identifier.
// This helps prevent SQL injection when using identifiers in queries.
func validateIdentifier(name, kind string) error {
	if name == "" {
		return fmt.Errorf("loanmaster/postgres: %s name cannot be empty", kind)
	}
	if len(name) > 63 {
		return fmt.Errorf("loanmaster/postgres: %s name exceeds 63 characters", kind)
	}
	if !schemaNamePattern.MatchString(name) {
		return fmt.Errorf("loanmaster/postgres: %s name contains invalid characters", kind)
	}
	return nil
}

// quoteIdentifier quotes a PostgreSQL identifier.
func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

// quoteQualifiedTable returns a quoted schema.table reference.
func quoteQualifiedTable(schema, table string) string {
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}
