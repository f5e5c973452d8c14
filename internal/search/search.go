package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultTask    ResultType = "task"
	ResultVendor  ResultType = "vendor"
)

// ParseResultType accepts the public type names; anything else means all types.
func ParseResultType(value string) ResultType {
	switch ResultType(value) {
	case ResultProject, ResultTask, ResultVendor:
		return ResultType(value)
	default:
		return ""
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId,omitempty"`
}

// Query describes a search request. CompanyID is always applied.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	CompanyID  string
	ProjectID  string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexTask(t TaskRecord) error
	IndexVendor(v VendorRecord) error
	DeleteProject(id string) error
	DeleteTask(id string) error
	DeleteVendor(id string) error
}

type ProjectRecord struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Status    string `json:"status"`
}

type TaskRecord struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

type VendorRecord struct {
	ID            string `json:"id"`
	CompanyID     string `json:"companyId"`
	Name          string `json:"name"`
	TradeCategory string `json:"tradeCategory"`
	ContactName   string `json:"contactName"`
}
