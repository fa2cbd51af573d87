// Package tracker fetches raw work items from a Jira-style REST API and
// normalizes them into canonical Tickets.
package tracker

// Ticket is the canonical form of one tracked work item. It is built once
// by Normalize and treated as immutable afterwards.
type Ticket struct {
	Key                string        `json:"key"`
	Title              string        `json:"title"`
	Kind               string        `json:"kind"` // Epic, Story, Task, Bug, ...
	Status             string        `json:"status"`
	Priority           string        `json:"priority"`
	Labels             []string      `json:"labels"`
	Components         []string      `json:"components"`
	Description        string        `json:"description"`
	AcceptanceCriteria string        `json:"acceptance_criteria"`
	Comments           []Comment     `json:"comments"`
	LinkedIssues       []LinkedIssue `json:"linked_issues"`
	Subtasks           []Subtask     `json:"subtasks"`
	FixVersions        []string      `json:"fix_versions"`
	Sprint             string        `json:"sprint"`
	// ParentKey is the resolved parent/epic link, empty when unknown.
	ParentKey string `json:"parent_key"`
}

type Comment struct {
	Author string `json:"author"`
	Body   string `json:"body"`
	Date   string `json:"date"`
}

type LinkedIssue struct {
	Relation string `json:"relation"`
	Key      string `json:"key"`
	Title    string `json:"title"`
}

type Subtask struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// FieldMap injects deployment-specific custom field identifiers.
type FieldMap struct {
	// AcceptanceCriteria is the custom field holding acceptance criteria,
	// e.g. "customfield_10016" on Jira Cloud defaults.
	AcceptanceCriteria string
	// Sprint is the custom field holding sprint assignment.
	Sprint string
	// EpicLink is the classic epic-link custom field.
	EpicLink string
}

// DefaultFieldMap matches common Jira Cloud deployments.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		AcceptanceCriteria: "customfield_10016",
		Sprint:             "customfield_10020",
		EpicLink:           "customfield_10014",
	}
}

// Priority order: Critical > High > Medium > Low. Unknown sorts lowest.
var priorityRank = map[string]int{
	"Highest":  5,
	"Critical": 5,
	"High":     4,
	"Medium":   3,
	"Low":      2,
	"Lowest":   1,
}

// PriorityRank maps a priority name to its rank; higher is more urgent.
func PriorityRank(p string) int { return priorityRank[p] }
