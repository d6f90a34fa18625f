package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
	"github.com/hotmigrate/hotmigrate/internal/database"
	"github.com/hotmigrate/hotmigrate/internal/translate"
)

// sampleCheck compares a deterministic random sample of rows field by field.
type sampleCheck struct {
	env  *Env
	spec *catalog.TableSpec
}

func (c *sampleCheck) Name() string       { return c.spec.Name + "_sample_equality" }
func (c *sampleCheck) Category() Category { return CategorySample }

func (c *sampleCheck) Run(ctx context.Context) ([]CheckResult, error) {
	keys, err := c.originKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []CheckResult{result(c.Name(), c.Category(), StatusWarn, 0, 0, "no rows to sample")}, nil
	}

	size := c.env.SampleSize
	if size <= 0 {
		size = 5
	}
	if size > len(keys) {
		size = len(keys)
	}

	// Seeded permutation keeps the sample reproducible across runs on the
	// same data snapshot.
	rng := rand.New(rand.NewSource(c.env.SampleSeed))
	perm := rng.Perm(len(keys))

	var mismatches []string
	for _, idx := range perm[:size] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		diff, err := c.compareRow(ctx, keys[idx])
		if err != nil {
			return nil, err
		}
		if diff != "" {
			mismatches = append(mismatches, diff)
		}
	}

	status := StatusPass
	detail := ""
	if len(mismatches) > 0 {
		status = StatusFail
		detail = fmt.Sprintf("%d of %d sampled rows differ:\n%s",
			len(mismatches), size, strings.Join(mismatches, "\n"))
	}
	return []CheckResult{result(c.Name(), c.Category(), status, size, size-len(mismatches), detail)}, nil
}

// originKeys returns all primary-key tuples in key order.
func (c *sampleCheck) originKeys(ctx context.Context) ([][]any, error) {
	cols := strings.Join(c.spec.PrimaryKey, ", ")
	rows, err := c.env.Origin.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s", cols, c.spec.Name, cols))
	if err != nil {
		return nil, fmt.Errorf("failed to read keys for %s: %w", c.spec.Name, err)
	}
	defer rows.Close()

	var keys [][]any
	for rows.Next() {
		vals := make([]any, len(c.spec.PrimaryKey))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		keys = append(keys, vals)
	}
	return keys, rows.Err()
}

// compareRow fetches one row from each store and compares every column with
// type-aware equality. Returns a unified diff when the rows differ.
func (c *sampleCheck) compareRow(ctx context.Context, key []any) (string, error) {
	originRow, err := c.fetchRow(ctx, true, key)
	if err != nil {
		return "", err
	}
	targetRow, err := c.fetchRow(ctx, false, key)
	if err != nil {
		return "", err
	}

	if targetRow == nil {
		return fmt.Sprintf("row %v is missing from the target", key), nil
	}

	var originLines, targetLines []string
	equal := true
	for _, col := range c.spec.Columns {
		mp := c.env.mapping(c.spec.Name)
		ov := originRow[col.Name]
		tv := targetRow[mp.ByOrigin(col.Name).Target]

		same, oStr, tStr := compareColumn(col, ov, tv, c.env.Tolerance)
		if !same {
			equal = false
		}
		originLines = append(originLines, fmt.Sprintf("%s: %s\n", col.Name, oStr))
		targetLines = append(targetLines, fmt.Sprintf("%s: %s\n", col.Name, tStr))
	}
	if equal {
		return "", nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        originLines,
		B:        targetLines,
		FromFile: fmt.Sprintf("origin %v", key),
		ToFile:   fmt.Sprintf("target %v", key),
		Context:  1,
	})
	if err != nil {
		return fmt.Sprintf("row %v differs (diff unavailable: %v)", key, err), nil
	}
	return strings.TrimRight(diff, "\n"), nil
}

// fetchRow reads one row by primary key. Target lookups go through the column
// mapping, translating key values first (a text key may live in legacy_<col>).
func (c *sampleCheck) fetchRow(ctx context.Context, origin bool, key []any) (map[string]any, error) {
	mp := c.env.mapping(c.spec.Name)

	table := c.spec.Name
	var driver string
	var cols []string
	var where []string
	args := make([]any, 0, len(key))

	if origin {
		driver = c.env.OriginDriver
		for _, col := range c.spec.Columns {
			cols = append(cols, col.Name)
		}
		for i, pk := range c.spec.PrimaryKey {
			where = append(where, fmt.Sprintf("%s = %s", pk, database.Placeholder(driver, i+1)))
			args = append(args, key[i])
		}
	} else {
		driver = c.env.TargetDriver
		for _, col := range c.spec.Columns {
			cols = append(cols, mp.ByOrigin(col.Name).Target)
		}
		for i, pk := range c.spec.PrimaryKey {
			cm := mp.ByOrigin(pk)
			translated, err := translate.Apply(cm.Fn, key[i])
			if err != nil {
				return nil, fmt.Errorf("failed to translate key %v: %w", key[i], err)
			}
			where = append(where, fmt.Sprintf("%s = %s", cm.Target, database.Placeholder(driver, i+1)))
			args = append(args, translated)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(cols, ", "), table, strings.Join(where, " AND "))

	store := c.env.Origin
	if !origin {
		store = c.env.Target
	}
	rows, err := store.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sample row from %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(cols))
	for i, name := range cols {
		row[name] = vals[i]
	}
	return row, nil
}

// compareColumn applies type-aware equality: numerics within tolerance, JSON
// structurally, timestamps as instants, everything else exact.
func compareColumn(col catalog.Column, originVal, targetVal any, tol float64) (bool, string, string) {
	oStr := renderValue(originVal)
	tStr := renderValue(targetVal)

	if originVal == nil || targetVal == nil {
		return originVal == nil && targetVal == nil, oStr, tStr
	}

	switch col.Type {
	case catalog.TypeDecimal:
		of, oErr := toFloat(originVal)
		tf, tErr := toFloat(targetVal)
		if oErr != nil || tErr != nil {
			return false, oStr, tStr
		}
		diff := of - tf
		if diff < 0 {
			diff = -diff
		}
		return diff <= tol, oStr, tStr

	case catalog.TypeInteger:
		of, oErr := toFloat(originVal)
		tf, tErr := toFloat(targetVal)
		return oErr == nil && tErr == nil && of == tf, oStr, tStr

	case catalog.TypeBoolean:
		ob, oErr := toBool(originVal)
		tb, tErr := toBool(targetVal)
		return oErr == nil && tErr == nil && ob == tb, oStr, tStr

	case catalog.TypeTimestamp:
		ot, oErr := translate.Apply(translate.FnTimestampNormalize, originVal)
		tt, tErr := translate.Apply(translate.FnTimestampNormalize, targetVal)
		return oErr == nil && tErr == nil && ot == tt, oStr, tStr

	case catalog.TypeJSON:
		// Malformed values are the structure check's finding; here they
		// only fail when the raw text differs.
		var oDoc, tDoc any
		if json.Unmarshal([]byte(oStr), &oDoc) != nil || json.Unmarshal([]byte(tStr), &tDoc) != nil {
			return oStr == tStr, oStr, tStr
		}
		return reflect.DeepEqual(oDoc, tDoc), oStr, tStr

	default:
		return oStr == tStr, oStr, tStr
	}
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int64:
		return float64(val), nil
	case []byte:
		return strconv.ParseFloat(string(val), 64)
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case []byte:
		return toBool(string(val))
	case string:
		switch strings.ToLower(val) {
		case "1", "true", "t":
			return true, nil
		case "0", "false", "f":
			return false, nil
		}
		return false, fmt.Errorf("not boolean: %q", val)
	default:
		return false, fmt.Errorf("not boolean: %T", v)
	}
}
