package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// ColumnType is the semantic type of an origin column. Target types are
// derived from it by the translator.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeDecimal   ColumnType = "decimal"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeJSON      ColumnType = "json"
)

// JSONShape declares the expected top-level shape of a JSON column.
type JSONShape string

const (
	ShapeObject JSONShape = "object"
	ShapeArray  JSONShape = "array"
	ShapeAny    JSONShape = "any"
)

// Rule is a declarative business-rule predicate attached to a column.
// Exactly one of the kind-specific fields is populated per kind.
type Rule struct {
	Kind     string   `json:"kind"` // range, enum, le_column
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Values   []string `json:"values,omitempty"`
	LeColumn string   `json:"le_column,omitempty"`
}

// Column describes one origin column.
type Column struct {
	Name      string          `json:"name"`
	Type      ColumnType      `json:"type"`
	JSONShape JSONShape       `json:"json_shape,omitempty"`
	Schema    json.RawMessage `json:"schema,omitempty"` // optional JSON Schema for json columns
	Rules     []Rule          `json:"rules,omitempty"`
}

// ForeignKey is an edge from a child column to a parent table column.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableSpec describes one table to migrate. Immutable once loaded.
type TableSpec struct {
	Name        string       `json:"name"`
	PrimaryKey  []string     `json:"primary_key"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Column returns the column with the given name, or nil.
func (t *TableSpec) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// IsPrimaryKey reports whether name is part of the primary key.
func (t *TableSpec) IsPrimaryKey(name string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return false
}

// Catalog is the full set of tables under migration.
type Catalog struct {
	Tables []TableSpec `json:"tables"`

	byName map[string]*TableSpec
}

// Table returns the spec for name, or an error if the table is unknown.
func (c *Catalog) Table(name string) (*TableSpec, error) {
	if t, ok := c.byName[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("table %q is not in the catalog", name)
}

// TableNames returns all table names in catalog order.
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i := range c.Tables {
		names[i] = c.Tables[i].Name
	}
	return names
}

// Load reads and validates a catalog JSON file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse validates catalog JSON against the embedded schema and resolves it.
func Parse(data []byte) (*Catalog, error) {
	if err := validateCatalogJSON(data); err != nil {
		return nil, err
	}

	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if err := c.resolve(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve builds the lookup index and checks cross-table consistency that
// the JSON schema cannot express.
func (c *Catalog) resolve() error {
	c.byName = make(map[string]*TableSpec, len(c.Tables))
	for i := range c.Tables {
		t := &c.Tables[i]
		if _, dup := c.byName[t.Name]; dup {
			return fmt.Errorf("duplicate table %q in catalog", t.Name)
		}
		c.byName[t.Name] = t

		seen := make(map[string]bool, len(t.Columns))
		for _, col := range t.Columns {
			if seen[col.Name] {
				return fmt.Errorf("table %s: duplicate column %q", t.Name, col.Name)
			}
			seen[col.Name] = true

			if col.Type == TypeJSON && col.JSONShape == "" {
				return fmt.Errorf("table %s: json column %q must declare json_shape", t.Name, col.Name)
			}
			for _, r := range col.Rules {
				if r.Kind == "le_column" && t.Column(r.LeColumn) == nil {
					return fmt.Errorf("table %s: rule on %q references unknown column %q", t.Name, col.Name, r.LeColumn)
				}
			}
		}

		for _, pk := range t.PrimaryKey {
			if !seen[pk] {
				return fmt.Errorf("table %s: primary key column %q does not exist", t.Name, pk)
			}
		}
	}

	for _, t := range c.Tables {
		for _, fk := range t.ForeignKeys {
			if t.Column(fk.Column) == nil {
				return fmt.Errorf("table %s: foreign key column %q does not exist", t.Name, fk.Column)
			}
			parent, ok := c.byName[fk.RefTable]
			if !ok {
				return fmt.Errorf("table %s: foreign key references unknown table %q", t.Name, fk.RefTable)
			}
			if parent.Column(fk.RefColumn) == nil {
				return fmt.Errorf("table %s: foreign key references unknown column %s.%s", t.Name, fk.RefTable, fk.RefColumn)
			}
		}
	}

	if _, err := c.CopyOrder(); err != nil {
		return err
	}
	return nil
}

// CopyOrder returns tables grouped into waves: every table in wave N depends
// only on tables in waves < N. Parents are always copied before children.
func (c *Catalog) CopyOrder() ([][]string, error) {
	remaining := make(map[string][]string, len(c.Tables)) // table -> unresolved parents
	for _, t := range c.Tables {
		var parents []string
		for _, fk := range t.ForeignKeys {
			if fk.RefTable != t.Name { // self-references resolve within the table
				parents = append(parents, fk.RefTable)
			}
		}
		remaining[t.Name] = parents
	}

	var waves [][]string
	done := make(map[string]bool, len(c.Tables))
	for len(done) < len(c.Tables) {
		var wave []string
		for _, t := range c.Tables {
			if done[t.Name] {
				continue
			}
			ready := true
			for _, p := range remaining[t.Name] {
				if !done[p] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, t.Name)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("foreign key cycle detected among remaining tables")
		}
		for _, name := range wave {
			done[name] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}
