package api

import "strings"

type WorkItem struct {
	ID        int                    `json:"id"`
	Rev       int                    `json:"rev,omitempty"`
	Fields    map[string]interface{} `json:"fields"`
	Relations []interface{}          `json:"relations,omitempty"`
	URL       string                 `json:"url"`
}

type WorkItemReference struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

type WorkItemLink struct {
	Rel    string             `json:"rel"`
	Source *WorkItemReference `json:"source"`
	Target *WorkItemReference `json:"target"`
}

type WiqlRequest struct {
	Query string `json:"query"`
}

type WiqlResponse struct {
	QueryType       string              `json:"queryType"`
	QueryResultType string              `json:"queryResultType"`
	WorkItems       []WorkItemReference `json:"workItems"`
	WorkItemLinks   []WorkItemLink      `json:"workItemRelations"`
}

type WorkItemsBatchRequest struct {
	IDs    []int    `json:"ids"`
	Fields []string `json:"fields,omitempty"`
	Expand string   `json:"$expand,omitempty"`
}

type WorkItemsBatchResponse struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// PatchOperation is one JSON-Patch entry of a work item create or update.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// Connection identifies one organization/project and the credential used
// against it. Team only scopes queries.
type Connection struct {
	BaseURL      string
	Organization string
	Team         string
	Project      string
	PAT          string
	Top          int
}

// OrganizationURL joins the base URL and organization,
// e.g. https://dev.azure.com/contoso.
func (c Connection) OrganizationURL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.Organization == "" {
		return base
	}
	return base + "/" + strings.Trim(c.Organization, "/")
}
