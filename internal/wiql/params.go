package wiql

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"boards-wiql/internal/errs"
)

// DefaultExcludedStates are the closed-like states filtered out when neither
// the request nor the configuration names any.
var DefaultExcludedStates = []string{"Completed", "Canceled", "Done", "Closed", "Resolved"}

type AreaPathMode string

const (
	// AreaPathCombine ANDs the area path clause with value and keyword filters.
	AreaPathCombine AreaPathMode = "combine"
	// AreaPathExclusive drops the area path clause when any value or keyword
	// filter is present.
	AreaPathExclusive AreaPathMode = "exclusive"
)

func ParseAreaPathMode(s string) (AreaPathMode, error) {
	switch AreaPathMode(s) {
	case "", AreaPathCombine:
		return AreaPathCombine, nil
	case AreaPathExclusive:
		return AreaPathExclusive, nil
	default:
		return "", errs.New(errs.CodeInvalidArgs, "area path mode must be combine or exclusive", s)
	}
}

type Field struct {
	Name  string `json:"name" yaml:"name"`
	Title string `json:"title" yaml:"title"`
}

// Catalog maps a field reference name to its display metadata.
type Catalog map[string]Field

func (c Catalog) SortedKeys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Headers returns the display titles aligned with keys.
func (c Catalog) Headers(keys []string) []string {
	headers := make([]string, 0, len(keys))
	for _, k := range keys {
		title := c[k].Title
		if title == "" {
			title = k
		}
		headers = append(headers, title)
	}
	return headers
}

func DefaultCatalog() Catalog {
	return Catalog{
		"System.Id":                                   {Name: "System.Id", Title: "ID"},
		"System.WorkItemType":                         {Name: "System.WorkItemType", Title: "Work Item Type"},
		"System.Title":                                {Name: "System.Title", Title: "Title"},
		"System.State":                                {Name: "System.State", Title: "State"},
		"Microsoft.VSTS.Scheduling.Effort":            {Name: "Microsoft.VSTS.Scheduling.Effort", Title: "Effort"},
		"Microsoft.VSTS.Common.BusinessValue":         {Name: "Microsoft.VSTS.Common.BusinessValue", Title: "Business Value"},
		"Microsoft.VSTS.Common.ValueArea":             {Name: "Microsoft.VSTS.Common.ValueArea", Title: "Qual o problema ou dor do cliente a ser resolvido"},
		"System.Tags":                                 {Name: "System.Tags", Title: "Tags"},
		"System.Description":                          {Name: "System.Description", Title: "Description"},
		"Custom.TipodeIniciativa":                     {Name: "Custom.TipodeIniciativa", Title: "Tipo de Iniciativa"},
		"Custom.05912272-678c-4f26-8aa7-72eba9b2a56a": {Name: "Custom.05912272-678c-4f26-8aa7-72eba9b2a56a", Title: "Projeto Estratégico"},
		"Custom.MetaEloassociada":                     {Name: "Custom.MetaEloassociada", Title: "Meta Elo associada"},
		"Custom.MetaEloAssociada2":                    {Name: "Custom.MetaEloAssociada2", Title: "Meta Elo Associada 2"},
		"Custom.Metadiretoriaassociada":               {Name: "Custom.Metadiretoriaassociada", Title: "Meta diretoria associada"},
		"Custom.GanhoQuantitativo":                    {Name: "Custom.GanhoQuantitativo", Title: "Ganho Quantitativo"},
	}
}

// LoadCatalog reads a YAML field catalog. An empty path yields the default catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing field catalog %s: %w", path, err)
	}
	if len(catalog) == 0 {
		return nil, errs.New(errs.CodeInvalidArgs, "field catalog is empty", path)
	}
	if err := validateRefs(catalog.SortedKeys()); err != nil {
		return nil, err
	}
	return catalog, nil
}

type Params struct {
	ExcludedStates []string            `json:"excluded_states,omitempty"`
	AreaPaths      []string            `json:"area_paths,omitempty"`
	ValueFilters   map[string][]string `json:"value_filters,omitempty"`
	KeywordFilters map[string]string   `json:"keyword_filters,omitempty"`
	Query          string              `json:"query,omitempty"`
	AllowedFields  Catalog             `json:"allowed_fields,omitempty"`
}

var fieldRefPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

func ValidFieldRef(ref string) bool {
	return fieldRefPattern.MatchString(ref)
}

// Validate rejects field references that cannot be safely placed inside [brackets].
func (p Params) Validate() error {
	refs := make([]string, 0, len(p.ValueFilters)+len(p.KeywordFilters)+len(p.AllowedFields))
	for ref := range p.ValueFilters {
		refs = append(refs, ref)
	}
	for ref := range p.KeywordFilters {
		refs = append(refs, ref)
	}
	for ref := range p.AllowedFields {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return validateRefs(refs)
}

func validateRefs(refs []string) error {
	bad := []string{}
	for _, ref := range refs {
		if !ValidFieldRef(ref) {
			bad = append(bad, ref)
		}
	}
	if len(bad) > 0 {
		return errs.New(errs.CodeInvalidArgs, "invalid field reference", bad)
	}
	return nil
}
