package migration

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/schemaplane/schemaplane-backend/pkg/sqlident"
)

// Rewriter transforms generically generated migration SQL so it targets a
// tenant schema unknown at generation time. The transforms are deliberately
// narrow text substitutions, not SQL parsing: they match the exact statement
// shapes the generator emits and nothing else. The contract tests in
// rewrite_test.go fail loudly if the generated script format changes shape.
type Rewriter struct {
	placeholder  string
	historyTable string

	createSchemaRe *regexp.Regexp
	historyRefRe   *regexp.Regexp
	qualifiedRefRe *regexp.Regexp
}

// NewRewriter builds a rewriter for scripts generated against the placeholder
// schema, with the given history table name.
func NewRewriter(placeholder, historyTable string) (*Rewriter, error) {
	if err := sqlident.Validate(placeholder, sqlident.KindSchema); err != nil {
		return nil, err
	}
	if err := sqlident.Validate(historyTable, sqlident.KindTable); err != nil {
		return nil, err
	}

	ph := regexp.QuoteMeta(placeholder)
	ht := regexp.QuoteMeta(historyTable)

	return &Rewriter{
		placeholder:  placeholder,
		historyTable: historyTable,

		// Whole CREATE SCHEMA statements that target the placeholder schema.
		// The runner creates the tenant schema itself, once, before rewriting.
		createSchemaRe: regexp.MustCompile(
			`(?im)^\s*CREATE\s+SCHEMA\s+(?:IF\s+NOT\s+EXISTS\s+)?"?` + ph + `"?\s*;\s*$[\r\n]*`),

		// History table references, bare or placeholder-qualified.
		historyRefRe: regexp.MustCompile(
			`(?i)(?:"?` + ph + `"?\.)?"` + ht + `"`),

		// Any other object reference qualified with the placeholder schema.
		qualifiedRefRe: regexp.MustCompile(`(?i)"` + ph + `"\.`),
	}, nil
}

// Rewrite transforms script so it executes against targetSchema:
// embedded CREATE SCHEMA side effects are stripped, history table references
// are qualified with the tenant schema, placeholder-qualified references are
// retargeted, and a SET search_path preamble makes unqualified references
// resolve into the tenant schema.
func (r *Rewriter) Rewrite(script, targetSchema string) (string, error) {
	if err := sqlident.Validate(targetSchema, sqlident.KindSchema); err != nil {
		return "", err
	}
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("empty migration script")
	}

	out := r.createSchemaRe.ReplaceAllString(script, "")

	qualifiedHistory := sqlident.Quote(targetSchema) + "." + sqlident.Quote(r.historyTable)
	out = r.historyRefRe.ReplaceAllString(out, qualifiedHistory)

	out = r.qualifiedRefRe.ReplaceAllString(out, sqlident.Quote(targetSchema)+".")

	// SET LOCAL: the runner executes scripts inside a transaction, and the
	// search path must not outlive it on the pooled connection.
	preamble := fmt.Sprintf("SET LOCAL search_path TO %s;\n", sqlident.Quote(targetSchema))
	return preamble + out, nil
}

// HistoryTable returns the configured history table name.
func (r *Rewriter) HistoryTable() string {
	return r.historyTable
}
