package translate

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// VerifyDDL parses generated DDL with the PostgreSQL parser. A parse failure
// here means the translator produced SQL the target would reject.
func VerifyDDL(ddl string) error {
	if _, err := pg_query.Parse(ddl); err != nil {
		return fmt.Errorf("generated DDL does not parse: %w", err)
	}
	return nil
}
