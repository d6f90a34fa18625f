package catalog

import (
	"strings"
	"testing"
)

const testCatalog = `{
	"tables": [
		{
			"name": "companies",
			"primary_key": ["id"],
			"columns": [
				{"name": "id", "type": "text"},
				{"name": "name", "type": "text"},
				{"name": "settings", "type": "json", "json_shape": "object"}
			]
		},
		{
			"name": "contacts",
			"primary_key": ["id"],
			"columns": [
				{"name": "id", "type": "text"},
				{"name": "company_id", "type": "text"},
				{"name": "score", "type": "integer", "rules": [{"kind": "range", "min": 0, "max": 100}]},
				{"name": "created_at", "type": "timestamp"}
			],
			"foreign_keys": [
				{"column": "company_id", "ref_table": "companies", "ref_column": "id"}
			]
		},
		{
			"name": "deals",
			"primary_key": ["id"],
			"columns": [
				{"name": "id", "type": "text"},
				{"name": "contact_id", "type": "text"},
				{"name": "amount", "type": "decimal"},
				{"name": "stage", "type": "text", "rules": [{"kind": "enum", "values": ["open", "won", "lost"]}]}
			],
			"foreign_keys": [
				{"column": "contact_id", "ref_table": "contacts", "ref_column": "id"}
			]
		}
	]
}`

func TestParse_Valid(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(c.Tables) != 3 {
		t.Fatalf("Expected 3 tables, got %d", len(c.Tables))
	}

	contacts, err := c.Table("contacts")
	if err != nil {
		t.Fatalf("Table lookup failed: %v", err)
	}
	if !contacts.IsPrimaryKey("id") {
		t.Error("Expected id to be primary key of contacts")
	}
	if contacts.Column("score") == nil {
		t.Error("Expected score column on contacts")
	}
	if contacts.Column("missing") != nil {
		t.Error("Expected nil for unknown column")
	}
}

func TestParse_UnknownTableLookup(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := c.Table("invoices"); err == nil {
		t.Error("Expected error for unknown table")
	}
}

func TestParse_RejectsBadType(t *testing.T) {
	bad := `{"tables": [{"name": "t", "primary_key": ["id"], "columns": [{"name": "id", "type": "varchar"}]}]}`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("Expected schema validation error for unknown column type")
	}
}

func TestParse_RejectsNonIdentifierName(t *testing.T) {
	bad := `{"tables": [{"name": "bad table; drop", "primary_key": ["id"], "columns": [{"name": "id", "type": "text"}]}]}`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("Expected schema validation error for a non-identifier table name")
	}
}

func TestParse_RejectsExtraFields(t *testing.T) {
	bad := `{"tables": [{"name": "t", "primary_key": ["id"], "columns": [{"name": "id", "type": "text"}], "comment": "nope"}]}`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("Expected schema validation error for extra field")
	}
}

func TestParse_RejectsUnknownFKTable(t *testing.T) {
	bad := `{"tables": [{
		"name": "contacts",
		"primary_key": ["id"],
		"columns": [{"name": "id", "type": "text"}, {"name": "company_id", "type": "text"}],
		"foreign_keys": [{"column": "company_id", "ref_table": "companies", "ref_column": "id"}]
	}]}`
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("Expected error for FK to unknown table")
	}
	if !strings.Contains(err.Error(), "companies") {
		t.Errorf("Expected error to name the unknown table, got: %v", err)
	}
}

func TestParse_RejectsJSONColumnWithoutShape(t *testing.T) {
	bad := `{"tables": [{"name": "t", "primary_key": ["id"], "columns": [{"name": "id", "type": "text"}, {"name": "meta", "type": "json"}]}]}`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("Expected error for json column without json_shape")
	}
}

func TestCopyOrder_ParentsFirst(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	waves, err := c.CopyOrder()
	if err != nil {
		t.Fatalf("CopyOrder failed: %v", err)
	}

	if len(waves) != 3 {
		t.Fatalf("Expected 3 waves, got %d: %v", len(waves), waves)
	}
	if waves[0][0] != "companies" || waves[1][0] != "contacts" || waves[2][0] != "deals" {
		t.Errorf("Expected companies, contacts, deals order, got %v", waves)
	}
}

func TestCopyOrder_CycleDetected(t *testing.T) {
	cyclic := `{"tables": [
		{
			"name": "a", "primary_key": ["id"],
			"columns": [{"name": "id", "type": "text"}, {"name": "b_id", "type": "text"}],
			"foreign_keys": [{"column": "b_id", "ref_table": "b", "ref_column": "id"}]
		},
		{
			"name": "b", "primary_key": ["id"],
			"columns": [{"name": "id", "type": "text"}, {"name": "a_id", "type": "text"}],
			"foreign_keys": [{"column": "a_id", "ref_table": "a", "ref_column": "id"}]
		}
	]}`
	if _, err := Parse([]byte(cyclic)); err == nil {
		t.Fatal("Expected cycle detection error")
	}
}

func TestCopyOrder_SelfReferenceAllowed(t *testing.T) {
	selfRef := `{"tables": [{
		"name": "categories", "primary_key": ["id"],
		"columns": [{"name": "id", "type": "text"}, {"name": "parent_id", "type": "text"}],
		"foreign_keys": [{"column": "parent_id", "ref_table": "categories", "ref_column": "id"}]
	}]}`
	c, err := Parse([]byte(selfRef))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	waves, err := c.CopyOrder()
	if err != nil {
		t.Fatalf("CopyOrder failed: %v", err)
	}
	if len(waves) != 1 || waves[0][0] != "categories" {
		t.Errorf("Expected single wave with categories, got %v", waves)
	}
}
