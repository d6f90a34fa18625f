package catalog

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// catalogSchema is the JSON Schema every catalog file must satisfy.
// Structural errors are caught here; cross-table consistency is checked
// in resolve(). Table and column names are restricted to identifier
// characters because they are interpolated into generated SQL.
const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["tables"],
  "additionalProperties": false,
  "properties": {
    "tables": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "primary_key", "columns"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1, "pattern": "^[a-z_][a-z0-9_]*$"},
          "primary_key": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1, "pattern": "^[a-z_][a-z0-9_]*$"}
          },
          "columns": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "additionalProperties": false,
              "properties": {
                "name": {"type": "string", "minLength": 1, "pattern": "^[a-z_][a-z0-9_]*$"},
                "type": {"enum": ["text", "integer", "decimal", "boolean", "timestamp", "json"]},
                "json_shape": {"enum": ["object", "array", "any"]},
                "schema": {"type": "object"},
                "rules": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["kind"],
                    "additionalProperties": false,
                    "properties": {
                      "kind": {"enum": ["range", "enum", "le_column"]},
                      "min": {"type": "number"},
                      "max": {"type": "number"},
                      "values": {"type": "array", "items": {"type": "string"}},
                      "le_column": {"type": "string", "pattern": "^[a-z_][a-z0-9_]*$"}
                    }
                  }
                }
              }
            }
          },
          "foreign_keys": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["column", "ref_table", "ref_column"],
              "additionalProperties": false,
              "properties": {
                "column": {"type": "string", "minLength": 1, "pattern": "^[a-z_][a-z0-9_]*$"},
                "ref_table": {"type": "string", "minLength": 1, "pattern": "^[a-z_][a-z0-9_]*$"},
                "ref_column": {"type": "string", "minLength": 1, "pattern": "^[a-z_][a-z0-9_]*$"}
              }
            }
          }
        }
      }
    }
  }
}`

func validateCatalogJSON(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(catalogSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate catalog: %w", err)
	}

	if !result.Valid() {
		var sb strings.Builder
		sb.WriteString("catalog is not valid:")
		for _, desc := range result.Errors() {
			sb.WriteString(fmt.Sprintf("\n  - %s: %s", desc.Field(), desc.Description()))
		}
		return fmt.Errorf("%s", sb.String())
	}
	return nil
}
