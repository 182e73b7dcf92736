package wiql

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boards-wiql/internal/errs"
)

func fields(refs ...string) Catalog {
	c := Catalog{}
	for _, r := range refs {
		c[r] = Field{Name: r}
	}
	return c
}

func TestBuildRawOverride(t *testing.T) {
	raw := "SELECT [System.Id] FROM WorkItems WHERE [System.Id] = 7"
	params := Params{
		Query:          raw,
		ExcludedStates: []string{"Done"},
		AreaPaths:      []string{`A\B`},
		KeywordFilters: map[string]string{"System.Title": "x"},
	}
	assert.Equal(t, raw, Build(params, Options{Team: "Elo"}))
}

func TestBuildMinimal(t *testing.T) {
	got := Build(Params{AllowedFields: fields("System.Title", "System.Id")}, Options{})
	expected := "SELECT [System.Id], [System.Title] FROM WorkItems WHERE [System.State] NOT IN ('Completed', 'Canceled', 'Done', 'Closed', 'Resolved') ORDER BY [System.ChangedDate] DESC"
	assert.Equal(t, expected, got)
}

func TestBuildFullClauseOrder(t *testing.T) {
	params := Params{
		ExcludedStates: []string{"Done"},
		AreaPaths:      []string{`Elo\Pagamentos`},
		ValueFilters:   map[string][]string{"System.State": {"Active", "New"}},
		KeywordFilters: map[string]string{"System.Title": "fraude"},
		AllowedFields:  fields("System.Id"),
	}
	opts := Options{Team: "Elo", WorkItemTypes: []string{"Iniciativa E2E"}, DaysBack: 60}

	expected := "SELECT [System.Id] FROM WorkItems WHERE " +
		"[System.TeamProject] = 'Elo' AND " +
		"[System.WorkItemType] IN ('Iniciativa E2E') AND " +
		"[System.CreatedDate] >= @Today - 60 AND " +
		"[System.State] NOT IN ('Done') AND " +
		`[System.AreaPath] UNDER 'Elo\Pagamentos' AND ` +
		"[System.State] IN ('Active', 'New') AND " +
		"[System.Title] CONTAINS 'fraude' " +
		"ORDER BY [System.ChangedDate] DESC"
	assert.Equal(t, expected, Build(params, opts))
}

func TestBuildExcludedStatesFallback(t *testing.T) {
	q := Build(Params{}, Options{DefaultExcludedStates: []string{"Removed"}})
	assert.Contains(t, q, "[System.State] NOT IN ('Removed')")

	q = Build(Params{ExcludedStates: []string{" ", ""}}, Options{})
	assert.Contains(t, q, "[System.State] NOT IN ('Completed', 'Canceled', 'Done', 'Closed', 'Resolved')")
}

func TestAreaPathClause(t *testing.T) {
	assert.Equal(t, "", AreaPathClause(nil))
	assert.Equal(t, `[System.AreaPath] UNDER 'A\B'`, AreaPathClause([]string{`A\B`}))
	assert.Equal(t, `([System.AreaPath] UNDER 'A' OR [System.AreaPath] UNDER 'B')`, AreaPathClause([]string{"A", "B"}))
}

func TestBuildDefaultAreaPaths(t *testing.T) {
	q := Build(Params{}, Options{DefaultAreaPaths: []string{"X", "Y"}})
	assert.Contains(t, q, "([System.AreaPath] UNDER 'X' OR [System.AreaPath] UNDER 'Y')")

	q = Build(Params{AreaPaths: []string{"Z"}}, Options{DefaultAreaPaths: []string{"X", "Y"}})
	assert.Contains(t, q, "[System.AreaPath] UNDER 'Z'")
	assert.NotContains(t, q, "'X'")
}

func TestBuildAreaPathMode(t *testing.T) {
	params := Params{
		AreaPaths:    []string{"Elo"},
		ValueFilters: map[string][]string{"System.State": {"Active"}},
	}

	combined := Build(params, Options{AreaPathMode: AreaPathCombine})
	assert.Contains(t, combined, "[System.AreaPath] UNDER 'Elo' AND [System.State] IN ('Active')")

	exclusive := Build(params, Options{AreaPathMode: AreaPathExclusive})
	assert.NotContains(t, exclusive, "UNDER")
	assert.Contains(t, exclusive, "[System.State] IN ('Active')")

	noFilters := Build(Params{AreaPaths: []string{"Elo"}}, Options{AreaPathMode: AreaPathExclusive})
	assert.Contains(t, noFilters, "[System.AreaPath] UNDER 'Elo'")
}

func TestBuildEscapesAllLiterals(t *testing.T) {
	params := Params{
		ExcludedStates: []string{"Won't Fix"},
		AreaPaths:      []string{`Elo\D'Avila`},
		ValueFilters:   map[string][]string{"System.Tags": {"it's"}},
		KeywordFilters: map[string]string{"System.Title": "' OR 1=1 --"},
	}
	q := Build(params, Options{Team: "O'Brien"})

	assert.Contains(t, q, "[System.TeamProject] = 'O''Brien'")
	assert.Contains(t, q, "NOT IN ('Won''t Fix')")
	assert.Contains(t, q, `UNDER 'Elo\D''Avila'`)
	assert.Contains(t, q, "[System.Tags] IN ('it''s')")
	assert.Contains(t, q, "[System.Title] CONTAINS ''' OR 1=1 --'")
}

func TestBuildSkipsUnsafeFieldRefs(t *testing.T) {
	params := Params{
		ValueFilters:   map[string][]string{"System.State] = 'x' OR [System.Id": {"a"}},
		KeywordFilters: map[string]string{"System.Title": "ok"},
		AllowedFields:  fields("System.Id", "bad field"),
	}
	q := Build(params, Options{})
	assert.NotContains(t, q, "OR [System.Id")
	assert.Contains(t, q, "SELECT [System.Id] FROM")
	assert.Contains(t, q, "[System.Title] CONTAINS 'ok'")
}

func TestBuildFilterOrderIsStable(t *testing.T) {
	params := Params{
		ValueFilters: map[string][]string{
			"System.WorkItemType": {"Bug"},
			"System.State":        {"Active"},
			"Custom.Area":         {"X"},
		},
	}
	first := Build(params, Options{})
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Build(params, Options{}))
	}
	assert.Less(t, strings.Index(first, "[Custom.Area]"), strings.Index(first, "[System.State] IN"))
}

func TestParamsValidate(t *testing.T) {
	ok := Params{
		ValueFilters:  map[string][]string{"System.State": {"Active"}},
		AllowedFields: DefaultCatalog(),
	}
	assert.NoError(t, ok.Validate())

	bad := Params{KeywordFilters: map[string]string{"System.Title]": "x"}}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidArgs))
}

func TestParseAreaPathMode(t *testing.T) {
	mode, err := ParseAreaPathMode("")
	require.NoError(t, err)
	assert.Equal(t, AreaPathCombine, mode)

	mode, err = ParseAreaPathMode("exclusive")
	require.NoError(t, err)
	assert.Equal(t, AreaPathExclusive, mode)

	_, err = ParseAreaPathMode("replace")
	assert.Error(t, err)
}

func TestCatalogHeaders(t *testing.T) {
	c := Catalog{
		"System.Title": {Name: "System.Title", Title: "Title"},
		"System.Id":    {Name: "System.Id"},
	}
	keys := c.SortedKeys()
	assert.Equal(t, []string{"System.Id", "System.Title"}, keys)
	assert.Equal(t, []string{"System.Id", "Title"}, c.Headers(keys))
}

func TestLoadCatalog(t *testing.T) {
	def, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, def, 15)

	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
System.Id:
  name: System.Id
  title: ID
System.Title:
  name: System.Title
  title: Titulo
`), 0o600))
	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "Titulo", c["System.Title"].Title)

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("'bad ref':\n  title: x\n"), 0o600))
	_, err = LoadCatalog(badPath)
	assert.Error(t, err)
}
