// Package wiql builds Work Item Query Language statements from structured
// filters. All string literals are quoted with doubled single quotes and
// field references are restricted to a safe character set.
package wiql

import (
	"fmt"
	"sort"
	"strings"
)

// Options carries the configuration side of a query.
type Options struct {
	// Team scopes [System.TeamProject]; empty disables the clause.
	Team                  string
	WorkItemTypes         []string
	DaysBack              int
	DefaultExcludedStates []string
	DefaultAreaPaths      []string
	AreaPathMode          AreaPathMode
}

// Build returns params.Query unchanged when set, otherwise a SELECT over the
// sorted allowed fields filtered by params and opts.
func Build(params Params, opts Options) string {
	if strings.TrimSpace(params.Query) != "" {
		return params.Query
	}

	conditions := []string{}
	if opts.Team != "" {
		conditions = append(conditions, fmt.Sprintf("[System.TeamProject] = %s", quote(opts.Team)))
	}
	if types := nonEmpty(opts.WorkItemTypes); len(types) > 0 {
		conditions = append(conditions, fmt.Sprintf("[System.WorkItemType] IN (%s)", joinValues(types)))
	}
	if opts.DaysBack > 0 {
		conditions = append(conditions, fmt.Sprintf("[System.CreatedDate] >= @Today - %d", opts.DaysBack))
	}

	conditions = append(conditions, StateClause(excludedStates(params, opts)))

	filters := append(valueClauses(params.ValueFilters), keywordClauses(params.KeywordFilters)...)
	if !(opts.AreaPathMode == AreaPathExclusive && len(filters) > 0) {
		areaPaths := nonEmpty(params.AreaPaths)
		if len(areaPaths) == 0 {
			areaPaths = nonEmpty(opts.DefaultAreaPaths)
		}
		if clause := AreaPathClause(areaPaths); clause != "" {
			conditions = append(conditions, clause)
		}
	}
	conditions = append(conditions, filters...)

	return fmt.Sprintf("SELECT %s FROM WorkItems WHERE %s ORDER BY [System.ChangedDate] DESC",
		SelectList(params.AllowedFields.SortedKeys()),
		strings.Join(conditions, " AND "))
}

func excludedStates(params Params, opts Options) []string {
	if states := nonEmpty(params.ExcludedStates); len(states) > 0 {
		return states
	}
	if states := nonEmpty(opts.DefaultExcludedStates); len(states) > 0 {
		return states
	}
	return DefaultExcludedStates
}

func StateClause(states []string) string {
	return fmt.Sprintf("[System.State] NOT IN (%s)", joinValues(states))
}

// AreaPathClause yields a single UNDER condition for one path and an
// OR-joined group for several. No paths yields "".
func AreaPathClause(paths []string) string {
	switch len(paths) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("[System.AreaPath] UNDER %s", quote(paths[0]))
	}
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, fmt.Sprintf("[System.AreaPath] UNDER %s", quote(p)))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func valueClauses(filters map[string][]string) []string {
	clauses := []string{}
	for _, field := range sortedKeys(filters) {
		values := nonEmpty(filters[field])
		if len(values) == 0 || !ValidFieldRef(field) {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("[%s] IN (%s)", field, joinValues(values)))
	}
	return clauses
}

func keywordClauses(filters map[string]string) []string {
	clauses := []string{}
	for _, field := range sortedKeys(filters) {
		keyword := strings.TrimSpace(filters[field])
		if keyword == "" || !ValidFieldRef(field) {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("[%s] CONTAINS %s", field, quote(keyword)))
	}
	return clauses
}

// SelectList brackets and comma-joins field references, skipping unsafe ones.
// An empty list selects [System.Id].
func SelectList(fields []string) string {
	refs := make([]string, 0, len(fields))
	for _, f := range fields {
		if ValidFieldRef(f) {
			refs = append(refs, "["+f+"]")
		}
	}
	if len(refs) == 0 {
		return "[System.Id]"
	}
	return strings.Join(refs, ", ")
}

func Escape(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

func quote(value string) string {
	return "'" + Escape(value) + "'"
}

func joinValues(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, quote(v))
	}
	return strings.Join(quoted, ", ")
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
