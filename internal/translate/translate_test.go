package translate

import (
	"strings"
	"testing"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
)

func contactsSpec(t *testing.T) *catalog.TableSpec {
	t.Helper()
	c, err := catalog.Parse([]byte(`{"tables": [{
		"name": "contacts",
		"primary_key": ["id"],
		"columns": [
			{"name": "id", "type": "text"},
			{"name": "email", "type": "text"},
			{"name": "score", "type": "integer"},
			{"name": "balance", "type": "decimal"},
			{"name": "active", "type": "boolean"},
			{"name": "created_at", "type": "timestamp"},
			{"name": "tags", "type": "json", "json_shape": "array"}
		]
	}]}`))
	if err != nil {
		t.Fatalf("Failed to parse test catalog: %v", err)
	}
	spec, err := c.Table("contacts")
	if err != nil {
		t.Fatalf("Table lookup failed: %v", err)
	}
	return spec
}

func TestTranslate_AssignsFunctionTags(t *testing.T) {
	m, err := Translate(contactsSpec(t))
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if !m.SurrogateKey {
		t.Error("Expected surrogate key for text primary key")
	}

	want := map[string]TranslateFn{
		"id":         FnSurrogateKey,
		"email":      FnIdentity,
		"score":      FnIdentity,
		"balance":    FnDecimalCast,
		"active":     FnIdentity,
		"created_at": FnTimestampNormalize,
		"tags":       FnJSONParse,
	}
	if len(m.Columns) != len(want) {
		t.Fatalf("Expected %d mapped columns, got %d", len(want), len(m.Columns))
	}
	for origin, fn := range want {
		cm := m.ByOrigin(origin)
		if cm == nil {
			t.Fatalf("Origin column %q is unmapped", origin)
		}
		if cm.Fn != fn {
			t.Errorf("Column %q: expected fn %s, got %s", origin, fn, cm.Fn)
		}
	}

	if m.ByOrigin("id").Target != "legacy_id" {
		t.Errorf("Expected text key to map to legacy_id, got %s", m.ByOrigin("id").Target)
	}
}

func TestConflictKey_UsesLegacyColumn(t *testing.T) {
	spec := contactsSpec(t)
	m, err := Translate(spec)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	keys := ConflictKey(spec, m)
	if len(keys) != 1 || keys[0] != "legacy_id" {
		t.Errorf("Expected conflict key [legacy_id], got %v", keys)
	}
}

func TestTargetDDL(t *testing.T) {
	spec := contactsSpec(t)
	m, err := Translate(spec)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	ddl := TargetDDL(spec, m)

	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS contacts",
		"id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY",
		"legacy_id text NOT NULL UNIQUE",
		"balance numeric(14,2)",
		"created_at timestamptz",
		"tags jsonb",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("Expected DDL to contain %q, got:\n%s", want, ddl)
		}
	}
}

func TestTargetDDL_Parses(t *testing.T) {
	spec := contactsSpec(t)
	m, err := Translate(spec)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if err := VerifyDDL(TargetDDL(spec, m)); err != nil {
		t.Fatalf("Generated DDL failed to parse: %v", err)
	}
}

func TestTargetDDL_IntegerPrimaryKey(t *testing.T) {
	c, err := catalog.Parse([]byte(`{"tables": [{
		"name": "events",
		"primary_key": ["seq"],
		"columns": [{"name": "seq", "type": "integer"}, {"name": "kind", "type": "text"}]
	}]}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	spec, _ := c.Table("events")
	m, err := Translate(spec)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if m.SurrogateKey {
		t.Error("Integer primary key should not get a surrogate")
	}
	ddl := TargetDDL(spec, m)
	if !strings.Contains(ddl, "seq bigint PRIMARY KEY") {
		t.Errorf("Expected natural integer primary key, got:\n%s", ddl)
	}
}

func TestApply_DecimalCast(t *testing.T) {
	got, err := Apply(FnDecimalCast, float64(4250000.004))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "4250000.00" {
		t.Errorf("Expected 4250000.00, got %v", got)
	}

	got, err = Apply(FnDecimalCast, "99.999")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "100.00" {
		t.Errorf("Expected 100.00, got %v", got)
	}

	if _, err := Apply(FnDecimalCast, "not-a-number"); err == nil {
		t.Error("Expected error for non-numeric string")
	}
}

func TestApply_TimestampNormalize(t *testing.T) {
	got, err := Apply(FnTimestampNormalize, "2024-03-01 12:30:00")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "2024-03-01T12:30:00Z" {
		t.Errorf("Expected 2024-03-01T12:30:00Z, got %v", got)
	}

	got, err = Apply(FnTimestampNormalize, int64(0))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != "1970-01-01T00:00:00Z" {
		t.Errorf("Expected epoch, got %v", got)
	}

	if _, err := Apply(FnTimestampNormalize, "yesterday"); err == nil {
		t.Error("Expected error for unrecognized timestamp")
	}
}

func TestApply_JSONParse(t *testing.T) {
	got, err := Apply(FnJSONParse, `{"a": 1}`)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got != `{"a": 1}` {
		t.Errorf("Unexpected value: %v", got)
	}

	if _, err := Apply(FnJSONParse, `{"a": `); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestApply_NilPassesThrough(t *testing.T) {
	for _, fn := range []TranslateFn{FnIdentity, FnJSONParse, FnDecimalCast, FnTimestampNormalize} {
		got, err := Apply(fn, nil)
		if err != nil {
			t.Errorf("Apply(%s, nil) failed: %v", fn, err)
		}
		if got != nil {
			t.Errorf("Apply(%s, nil) = %v, want nil", fn, got)
		}
	}
}

func TestTranslateRow(t *testing.T) {
	spec := contactsSpec(t)
	m, err := Translate(spec)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	row := map[string]any{
		"id":         "c_001",
		"email":      "ada@example.com",
		"score":      int64(88),
		"balance":    float64(12.5),
		"active":     int64(1),
		"created_at": "2024-03-01 12:30:00",
		"tags":       `["vip"]`,
	}
	out, err := TranslateRow(m, row)
	if err != nil {
		t.Fatalf("TranslateRow failed: %v", err)
	}

	if out["legacy_id"] != "c_001" {
		t.Errorf("Expected legacy_id c_001, got %v", out["legacy_id"])
	}
	if out["balance"] != "12.50" {
		t.Errorf("Expected balance 12.50, got %v", out["balance"])
	}

	delete(row, "email")
	if _, err := TranslateRow(m, row); err == nil {
		t.Error("Expected error for row missing an origin column")
	}
}
