package wiql

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var literalGen = rapid.StringMatching(`[A-Za-z0-9 '\\\-]{1,12}`)

func TestStateClauseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		states := rapid.SliceOfN(literalGen, 1, 6).Draw(t, "states")

		q := Build(Params{ExcludedStates: states}, Options{})

		quoted := make([]string, 0, len(states))
		for _, s := range nonEmpty(states) {
			quoted = append(quoted, "'"+strings.ReplaceAll(s, "'", "''")+"'")
		}
		if len(quoted) == 0 {
			quoted = []string{"'Completed'", "'Canceled'", "'Done'", "'Closed'", "'Resolved'"}
		}
		want := "[System.State] NOT IN (" + strings.Join(quoted, ", ") + ")"
		if !strings.Contains(q, want) {
			t.Fatalf("query %q missing %q", q, want)
		}
	})
}

func TestAreaPathClauseShapeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		paths := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z]{1,8}(\\[A-Za-z]{1,8}){0,3}`), 0, 5).Draw(t, "paths")
		clause := AreaPathClause(paths)

		switch len(paths) {
		case 0:
			if clause != "" {
				t.Fatalf("expected empty clause, got %q", clause)
			}
		case 1:
			if strings.Contains(clause, " OR ") || strings.HasPrefix(clause, "(") {
				t.Fatalf("single path produced group: %q", clause)
			}
		default:
			if !strings.HasPrefix(clause, "(") || strings.Count(clause, " OR ") != len(paths)-1 {
				t.Fatalf("expected OR group of %d, got %q", len(paths), clause)
			}
		}
		if strings.Count(clause, "UNDER") != len(paths) {
			t.Fatalf("expected %d UNDER conditions in %q", len(paths), clause)
		}
	})
}

func TestRawOverrideProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`SELECT \[System\.Id\] FROM WorkItems[ A-Za-z0-9=\[\]\.']{0,40}`).Draw(t, "raw")
		params := Params{
			Query:          raw,
			ExcludedStates: rapid.SliceOf(literalGen).Draw(t, "states"),
			AreaPaths:      rapid.SliceOf(literalGen).Draw(t, "paths"),
		}
		if got := Build(params, Options{Team: "Elo", DaysBack: 30}); got != raw {
			t.Fatalf("override rewritten: %q -> %q", raw, got)
		}
	})
}

func TestLiteralsNeverUnbalanceQuotes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		params := Params{
			ExcludedStates: rapid.SliceOfN(literalGen, 1, 3).Draw(t, "states"),
			AreaPaths:      rapid.SliceOfN(literalGen, 0, 3).Draw(t, "paths"),
			ValueFilters:   map[string][]string{"System.Tags": rapid.SliceOfN(literalGen, 1, 3).Draw(t, "values")},
			KeywordFilters: map[string]string{"System.Title": literalGen.Draw(t, "keyword")},
		}
		q := Build(params, Options{Team: literalGen.Draw(t, "team")})
		if strings.Count(q, "'")%2 != 0 {
			t.Fatalf("odd number of quotes in %q", q)
		}
	})
}
