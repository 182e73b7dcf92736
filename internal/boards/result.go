// Package boards runs work item queries and creates work items against Azure
// DevOps, turning remote records into flat rows.
package boards

// Status tells apart an empty query from one that failed remotely. Both
// carry no rows.
type Status string

const (
	StatusOK       Status = "ok"
	StatusEmpty    Status = "empty"
	StatusDegraded Status = "degraded"
)

type QueryResult struct {
	Header []string
	Rows   [][]string
	Texts  []string
	Status Status
	// Err is the swallowed cause of a degraded result.
	Err error
}

func degraded(err error) QueryResult {
	return QueryResult{Rows: [][]string{}, Texts: []string{}, Status: StatusDegraded, Err: err}
}

func empty() QueryResult {
	return QueryResult{Rows: [][]string{}, Texts: []string{}, Status: StatusEmpty}
}

type Created struct {
	ID      int    `json:"id"`
	URL     string `json:"url"`
	Indexed bool   `json:"indexed"`
}
