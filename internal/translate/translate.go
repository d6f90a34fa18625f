package translate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
)

// TranslateFn tags how an origin value becomes a target value. Resolved once
// per column at translation time so the copier and dual-writer never sniff
// types at runtime.
type TranslateFn string

const (
	FnIdentity           TranslateFn = "identity"
	FnJSONParse          TranslateFn = "json-parse"
	FnDecimalCast        TranslateFn = "decimal-cast"
	FnTimestampNormalize TranslateFn = "timestamp-normalize"
	FnSurrogateKey       TranslateFn = "surrogate-key-generate"
)

// ColumnMapping maps one origin column to its target column.
type ColumnMapping struct {
	Origin string      `json:"origin"`
	Target string      `json:"target"`
	Fn     TranslateFn `json:"fn"`
}

// Mapping is the full origin→target column map for one table.
type Mapping struct {
	Table   string          `json:"table"`
	Columns []ColumnMapping `json:"columns"`

	// SurrogateKey is true when the target table generates its own bigint
	// identity primary key and retains the origin text key as a unique
	// natural-key column.
	SurrogateKey bool `json:"surrogate_key"`
}

// ByOrigin returns the mapping for an origin column, or nil.
func (m *Mapping) ByOrigin(name string) *ColumnMapping {
	for i := range m.Columns {
		if m.Columns[i].Origin == name {
			return &m.Columns[i]
		}
	}
	return nil
}

// TargetColumns returns target column names in mapping order.
func (m *Mapping) TargetColumns() []string {
	cols := make([]string, len(m.Columns))
	for i, cm := range m.Columns {
		cols[i] = cm.Target
	}
	return cols
}

// Translate builds the column mapping for one table. Every origin column maps
// to exactly one target column; a column with no viable mapping fails the
// whole translation.
func Translate(spec *catalog.TableSpec) (*Mapping, error) {
	m := &Mapping{Table: spec.Name}

	// A single text primary key becomes a surrogate bigint identity on the
	// target; the origin key survives as legacy_<name> for joins and upserts.
	if len(spec.PrimaryKey) == 1 {
		if pk := spec.Column(spec.PrimaryKey[0]); pk != nil && pk.Type == catalog.TypeText {
			m.SurrogateKey = true
		}
	}

	for _, col := range spec.Columns {
		cm := ColumnMapping{Origin: col.Name, Target: col.Name}

		switch {
		case m.SurrogateKey && spec.IsPrimaryKey(col.Name):
			cm.Target = "legacy_" + col.Name
			cm.Fn = FnSurrogateKey
		case col.Type == catalog.TypeJSON:
			cm.Fn = FnJSONParse
		case col.Type == catalog.TypeDecimal:
			cm.Fn = FnDecimalCast
		case col.Type == catalog.TypeTimestamp:
			cm.Fn = FnTimestampNormalize
		case col.Type == catalog.TypeText, col.Type == catalog.TypeInteger, col.Type == catalog.TypeBoolean:
			cm.Fn = FnIdentity
		default:
			return nil, fmt.Errorf("table %s: column %q has no translation for type %q", spec.Name, col.Name, col.Type)
		}

		m.Columns = append(m.Columns, cm)
	}
	return m, nil
}

// ConflictKey returns the target columns the copier and dual-writer upsert on.
func ConflictKey(spec *catalog.TableSpec, m *Mapping) []string {
	keys := make([]string, 0, len(spec.PrimaryKey))
	for _, pk := range spec.PrimaryKey {
		if cm := m.ByOrigin(pk); cm != nil {
			keys = append(keys, cm.Target)
		}
	}
	return keys
}

// targetColumnType maps a semantic origin type to the target DDL type.
func targetColumnType(t catalog.ColumnType) string {
	switch t {
	case catalog.TypeText:
		return "text"
	case catalog.TypeInteger:
		return "bigint"
	case catalog.TypeDecimal:
		return "numeric(14,2)"
	case catalog.TypeBoolean:
		return "boolean"
	case catalog.TypeTimestamp:
		return "timestamptz"
	case catalog.TypeJSON:
		return "jsonb"
	default:
		return "text"
	}
}

// TargetDDL generates the CREATE TABLE statement for the target store.
func TargetDDL(spec *catalog.TableSpec, m *Mapping) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", spec.Name))

	var defs []string
	if m.SurrogateKey {
		defs = append(defs, "  id bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY")
	}

	for _, col := range spec.Columns {
		cm := m.ByOrigin(col.Name)
		def := fmt.Sprintf("  %s %s", cm.Target, targetColumnType(col.Type))
		if cm.Fn == FnSurrogateKey {
			def += " NOT NULL UNIQUE"
		} else if !m.SurrogateKey && len(spec.PrimaryKey) == 1 && spec.IsPrimaryKey(col.Name) {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}

	if len(spec.PrimaryKey) > 1 {
		keys := make([]string, len(spec.PrimaryKey))
		for i, pk := range spec.PrimaryKey {
			keys[i] = m.ByOrigin(pk).Target
		}
		defs = append(defs, fmt.Sprintf("  PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}

	sb.WriteString(strings.Join(defs, ",\n"))
	sb.WriteString("\n)")
	return sb.String()
}

// Apply converts one origin value through the mapping's translation function.
func Apply(fn TranslateFn, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch fn {
	case FnIdentity, FnSurrogateKey:
		return value, nil

	case FnJSONParse:
		var raw []byte
		switch v := value.(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			return nil, fmt.Errorf("json value has unexpected type %T", value)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("value is not valid JSON: %.60s", raw)
		}
		return string(raw), nil

	case FnDecimalCast:
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', 2, 64), nil
		case int64:
			return strconv.FormatFloat(float64(v), 'f', 2, 64), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not numeric: %w", v, err)
			}
			return strconv.FormatFloat(f, 'f', 2, 64), nil
		case []byte:
			return Apply(fn, string(v))
		default:
			return nil, fmt.Errorf("decimal value has unexpected type %T", value)
		}

	case FnTimestampNormalize:
		ts, err := parseTimestamp(value)
		if err != nil {
			return nil, err
		}
		return ts.UTC().Format(time.RFC3339Nano), nil

	default:
		return nil, fmt.Errorf("unknown translation function %q", fn)
	}
}

// timestampLayouts are the loose formats the origin store is known to hold.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0), nil
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), nil
	case []byte:
		return parseTimestamp(string(v))
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, nil
			}
		}
		// Unix epoch stored as text.
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(sec, 0), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("timestamp value has unexpected type %T", value)
	}
}

// TranslateRow converts a full origin row (keyed by origin column) into a
// target row (keyed by target column).
func TranslateRow(m *Mapping, row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m.Columns))
	for _, cm := range m.Columns {
		v, ok := row[cm.Origin]
		if !ok {
			return nil, fmt.Errorf("table %s: row is missing origin column %q", m.Table, cm.Origin)
		}
		translated, err := Apply(cm.Fn, v)
		if err != nil {
			return nil, fmt.Errorf("table %s: column %q: %w", m.Table, cm.Origin, err)
		}
		out[cm.Target] = translated
	}
	return out, nil
}
