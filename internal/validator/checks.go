package validator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/hotmigrate/hotmigrate/internal/catalog"
	"github.com/hotmigrate/hotmigrate/internal/translate"
)

// Check is one validation unit. Run returns data-integrity findings as
// results; the error return is reserved for operational failures (connection
// refused, missing table), which abort the whole validation.
type Check interface {
	Name() string
	Category() Category
	Run(ctx context.Context) ([]CheckResult, error)
}

// Env carries everything a check needs. Checks are read-only on both stores.
type Env struct {
	Origin       *sql.DB
	Target       *sql.DB
	OriginDriver string
	TargetDriver string
	Catalog      *catalog.Catalog
	Mappings     map[string]*translate.Mapping

	Tolerance  float64 // absolute numeric tolerance, default 0.01
	SampleSize int
	SampleSeed int64
	Log        zerolog.Logger
}

func (e *Env) mapping(table string) *translate.Mapping {
	return e.Mappings[table]
}

// result stamps a CheckResult with the current time.
func result(name string, cat Category, status Status, origin, target any, detail string) CheckResult {
	return CheckResult{
		CheckName:   name,
		Category:    cat,
		Status:      status,
		OriginValue: origin,
		TargetValue: target,
		Detail:      detail,
		Timestamp:   time.Now().UTC(),
	}
}

// --- row-count check ---

type rowCountCheck struct {
	env  *Env
	spec *catalog.TableSpec
}

func (c *rowCountCheck) Name() string       { return c.spec.Name + "_row_count" }
func (c *rowCountCheck) Category() Category { return CategoryRowCount }

func (c *rowCountCheck) Run(ctx context.Context) ([]CheckResult, error) {
	var originCount, targetCount int64
	if err := c.env.Origin.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", c.spec.Name)).Scan(&originCount); err != nil {
		return nil, fmt.Errorf("failed to count origin rows for %s: %w", c.spec.Name, err)
	}
	if err := c.env.Target.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", c.spec.Name)).Scan(&targetCount); err != nil {
		return nil, fmt.Errorf("failed to count target rows for %s: %w", c.spec.Name, err)
	}

	status := StatusPass
	detail := ""
	if originCount != targetCount {
		status = StatusFail
		detail = fmt.Sprintf("row counts diverge by %d", originCount-targetCount)
	}
	return []CheckResult{result(c.Name(), c.Category(), status, originCount, targetCount, detail)}, nil
}

// --- referential-integrity check ---

type referentialCheck struct {
	env  *Env
	spec *catalog.TableSpec
}

func (c *referentialCheck) Name() string       { return c.spec.Name + "_referential" }
func (c *referentialCheck) Category() Category { return CategoryReferential }

// Run counts target child rows whose foreign key has no parent. Constraints
// are deliberately not enforced by the target schema during migration, so
// this check is the integrity guarantee.
func (c *referentialCheck) Run(ctx context.Context) ([]CheckResult, error) {
	var results []CheckResult
	for _, fk := range c.spec.ForeignKeys {
		childCol := c.env.mapping(c.spec.Name).ByOrigin(fk.Column).Target
		parentCol := c.env.mapping(fk.RefTable).ByOrigin(fk.RefColumn).Target

		query := fmt.Sprintf(`
			SELECT COUNT(*) FROM %s c
			LEFT JOIN %s p ON c.%s = p.%s
			WHERE c.%s IS NOT NULL AND p.%s IS NULL`,
			c.spec.Name, fk.RefTable, childCol, parentCol, childCol, parentCol)

		var orphans int64
		if err := c.env.Target.QueryRowContext(ctx, query).Scan(&orphans); err != nil {
			return nil, fmt.Errorf("failed to count orphans for %s.%s: %w", c.spec.Name, fk.Column, err)
		}

		name := fmt.Sprintf("%s_%s_referential", c.spec.Name, fk.Column)
		status := StatusPass
		detail := ""
		if orphans > 0 {
			status = StatusFail
			detail = fmt.Sprintf("%d orphaned records", orphans)
		}
		results = append(results, result(name, c.Category(), status, int64(0), orphans, detail))
	}
	return results, nil
}

// --- JSON-structure check ---

type jsonShapeCheck struct {
	env  *Env
	spec *catalog.TableSpec
}

func (c *jsonShapeCheck) Name() string       { return c.spec.Name + "_json_structure" }
func (c *jsonShapeCheck) Category() Category { return CategoryJSON }

func (c *jsonShapeCheck) Run(ctx context.Context) ([]CheckResult, error) {
	var results []CheckResult
	for _, col := range c.spec.Columns {
		if col.Type != catalog.TypeJSON {
			continue
		}
		res, err := c.checkColumn(ctx, col)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *jsonShapeCheck) checkColumn(ctx context.Context, col catalog.Column) (CheckResult, error) {
	targetCol := c.env.mapping(c.spec.Name).ByOrigin(col.Name).Target
	name := fmt.Sprintf("%s_%s_json_structure", c.spec.Name, col.Name)

	var schema *gojsonschema.Schema
	if len(col.Schema) > 0 {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(col.Schema))
		if err != nil {
			return CheckResult{}, fmt.Errorf("column %s.%s has an invalid JSON schema: %w", c.spec.Name, col.Name, err)
		}
	}

	rows, err := c.env.Target.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s IS NOT NULL", targetCol, c.spec.Name, targetCol))
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to read %s.%s: %w", c.spec.Name, targetCol, err)
	}
	defer rows.Close()

	var checked, bad int64
	var sampleProblems []string
	for rows.Next() {
		var raw sql.RawBytes
		if err := rows.Scan(&raw); err != nil {
			return CheckResult{}, fmt.Errorf("failed to scan %s.%s: %w", c.spec.Name, targetCol, err)
		}
		checked++

		problem := validateJSONValue(raw, col.JSONShape, schema)
		if problem != "" {
			bad++
			if len(sampleProblems) < 5 {
				sampleProblems = append(sampleProblems, problem)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return CheckResult{}, err
	}

	status := StatusPass
	detail := ""
	if bad > 0 {
		status = StatusFail
		detail = fmt.Sprintf("%d of %d values violate the declared shape; examples: %s",
			bad, checked, strings.Join(sampleProblems, "; "))
	}
	return result(name, CategoryJSON, status, string(col.JSONShape), bad, detail), nil
}

func validateJSONValue(raw []byte, shape catalog.JSONShape, schema *gojsonschema.Schema) string {
	trimmed := strings.TrimSpace(string(raw))
	if !json.Valid([]byte(trimmed)) {
		return fmt.Sprintf("not valid JSON: %.40s", trimmed)
	}

	switch shape {
	case catalog.ShapeObject:
		if !strings.HasPrefix(trimmed, "{") {
			return fmt.Sprintf("expected object, got %.40s", trimmed)
		}
	case catalog.ShapeArray:
		if !strings.HasPrefix(trimmed, "[") {
			return fmt.Sprintf("expected array, got %.40s", trimmed)
		}
	}

	if schema != nil {
		res, err := schema.Validate(gojsonschema.NewStringLoader(trimmed))
		if err != nil {
			return fmt.Sprintf("schema validation error: %v", err)
		}
		if !res.Valid() {
			return fmt.Sprintf("schema violation: %s", res.Errors()[0].String())
		}
	}
	return ""
}

// --- numeric-precision check ---

type numericCheck struct {
	env  *Env
	spec *catalog.TableSpec
}

func (c *numericCheck) Name() string       { return c.spec.Name + "_numeric_precision" }
func (c *numericCheck) Category() Category { return CategoryNumeric }

// Run compares aggregate sums of every decimal column within an absolute
// tolerance, guarding against float to fixed-point rounding loss.
func (c *numericCheck) Run(ctx context.Context) ([]CheckResult, error) {
	var results []CheckResult
	for _, col := range c.spec.Columns {
		if col.Type != catalog.TypeDecimal {
			continue
		}
		targetCol := c.env.mapping(c.spec.Name).ByOrigin(col.Name).Target
		name := fmt.Sprintf("%s_%s_sum", c.spec.Name, col.Name)

		var originSum, targetSum float64
		if err := c.env.Origin.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COALESCE(SUM(%s), 0) FROM %s", col.Name, c.spec.Name)).Scan(&originSum); err != nil {
			return nil, fmt.Errorf("failed to sum origin %s.%s: %w", c.spec.Name, col.Name, err)
		}
		if err := c.env.Target.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COALESCE(SUM(%s), 0) FROM %s", targetCol, c.spec.Name)).Scan(&targetSum); err != nil {
			return nil, fmt.Errorf("failed to sum target %s.%s: %w", c.spec.Name, targetCol, err)
		}

		diff := originSum - targetSum
		if diff < 0 {
			diff = -diff
		}
		status := StatusPass
		detail := ""
		if diff > c.env.Tolerance {
			status = StatusFail
			detail = fmt.Sprintf("sums differ by %.4f, tolerance %.2f", diff, c.env.Tolerance)
		}
		results = append(results, result(name, CategoryNumeric, status,
			fmt.Sprintf("%.2f", originSum), fmt.Sprintf("%.2f", targetSum), detail))
	}
	return results, nil
}

// --- business-rule check ---

type ruleCheck struct {
	env  *Env
	spec *catalog.TableSpec
}

func (c *ruleCheck) Name() string       { return c.spec.Name + "_business_rules" }
func (c *ruleCheck) Category() Category { return CategoryRule }

// Run evaluates declarative predicates against the target; every row must
// satisfy every rule.
func (c *ruleCheck) Run(ctx context.Context) ([]CheckResult, error) {
	var results []CheckResult
	for _, col := range c.spec.Columns {
		for i, rule := range col.Rules {
			predicate, desc, err := c.violationPredicate(col, rule)
			if err != nil {
				return nil, err
			}

			var violations int64
			query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", c.spec.Name, predicate)
			if err := c.env.Target.QueryRowContext(ctx, query).Scan(&violations); err != nil {
				return nil, fmt.Errorf("failed to evaluate rule on %s.%s: %w", c.spec.Name, col.Name, err)
			}

			name := fmt.Sprintf("%s_%s_rule_%d", c.spec.Name, col.Name, i)
			status := StatusPass
			detail := ""
			if violations > 0 {
				status = StatusFail
				detail = fmt.Sprintf("%d rows violate %s", violations, desc)
			}
			results = append(results, result(name, CategoryRule, status, desc, violations, detail))
		}
	}
	return results, nil
}

func (c *ruleCheck) violationPredicate(col catalog.Column, rule catalog.Rule) (string, string, error) {
	mp := c.env.mapping(c.spec.Name)
	target := mp.ByOrigin(col.Name).Target

	switch rule.Kind {
	case "range":
		var parts []string
		var desc []string
		if rule.Min != nil {
			parts = append(parts, fmt.Sprintf("%s < %g", target, *rule.Min))
			desc = append(desc, fmt.Sprintf(">= %g", *rule.Min))
		}
		if rule.Max != nil {
			parts = append(parts, fmt.Sprintf("%s > %g", target, *rule.Max))
			desc = append(desc, fmt.Sprintf("<= %g", *rule.Max))
		}
		if len(parts) == 0 {
			return "", "", fmt.Errorf("range rule on %s.%s has neither min nor max", c.spec.Name, col.Name)
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, " OR ")),
			fmt.Sprintf("%s %s", col.Name, strings.Join(desc, " and ")), nil

	case "enum":
		quoted := make([]string, len(rule.Values))
		for i, v := range rule.Values {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return fmt.Sprintf("%s NOT IN (%s)", target, strings.Join(quoted, ", ")),
			fmt.Sprintf("%s in {%s}", col.Name, strings.Join(rule.Values, ", ")), nil

	case "le_column":
		other := mp.ByOrigin(rule.LeColumn).Target
		return fmt.Sprintf("%s > %s", target, other),
			fmt.Sprintf("%s <= %s", col.Name, rule.LeColumn), nil

	default:
		return "", "", fmt.Errorf("unknown rule kind %q on %s.%s", rule.Kind, c.spec.Name, col.Name)
	}
}
