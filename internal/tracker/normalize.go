package tracker

import (
	"encoding/json"

	"strategist/internal/richtext"
)

// rawIssue mirrors the tracker's per-issue payload. Fields stays raw so
// deployment-specific custom fields can be decoded by name.
type rawIssue struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type namedField struct {
	Name string `json:"name"`
}

type rawComment struct {
	Author struct {
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
}

type rawIssueRef struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string     `json:"summary"`
		Status  namedField `json:"status"`
	} `json:"fields"`
}

type rawIssueLink struct {
	Type         namedField   `json:"type"`
	InwardIssue  *rawIssueRef `json:"inwardIssue"`
	OutwardIssue *rawIssueRef `json:"outwardIssue"`
}

const (
	maxComments       = 5
	maxCommentBodyLen = 500
)

// Normalize maps one raw fetched record to a canonical Ticket. It is
// lenient: absent or malformed fields become zero values, never errors —
// error classification happens at the transport layer.
func Normalize(data []byte, fm FieldMap) (Ticket, error) {
	var raw rawIssue
	if err := json.Unmarshal(data, &raw); err != nil {
		return Ticket{}, err
	}
	return normalizeIssue(raw, fm), nil
}

func normalizeIssue(raw rawIssue, fm FieldMap) Ticket {
	f := raw.Fields
	t := Ticket{
		Key:         raw.Key,
		Title:       decodeString(f["summary"]),
		Kind:        decodeNamed(f["issuetype"]),
		Status:      decodeNamed(f["status"]),
		Priority:    decodeNamed(f["priority"]),
		Description: richtext.FlattenJSON(f["description"]),
	}

	_ = json.Unmarshal(f["labels"], &t.Labels)

	var comps []namedField
	if json.Unmarshal(f["components"], &comps) == nil {
		for _, c := range comps {
			if c.Name != "" {
				t.Components = append(t.Components, c.Name)
			}
		}
	}

	if acField := fm.AcceptanceCriteria; acField != "" {
		t.AcceptanceCriteria = richtext.FlattenJSON(f[acField])
	}

	t.Comments = normalizeComments(f["comment"])
	t.LinkedIssues = normalizeLinks(f["issuelinks"])

	var subs []rawIssueRef
	if json.Unmarshal(f["subtasks"], &subs) == nil {
		for _, s := range subs {
			t.Subtasks = append(t.Subtasks, Subtask{
				Key:    s.Key,
				Title:  s.Fields.Summary,
				Status: s.Fields.Status.Name,
			})
		}
	}

	var versions []namedField
	if json.Unmarshal(f["fixVersions"], &versions) == nil {
		for _, v := range versions {
			if v.Name != "" {
				t.FixVersions = append(t.FixVersions, v.Name)
			}
		}
	}

	t.Sprint = decodeSprint(f[fm.Sprint])
	t.ParentKey = decodeParent(f, fm)
	return t
}

func normalizeComments(raw json.RawMessage) []Comment {
	var wrap struct {
		Comments []rawComment `json:"comments"`
	}
	if json.Unmarshal(raw, &wrap) != nil || len(wrap.Comments) == 0 {
		return nil
	}
	list := wrap.Comments
	if len(list) > maxComments {
		list = list[len(list)-maxComments:]
	}
	out := make([]Comment, 0, len(list))
	for _, c := range list {
		body := richtext.FlattenJSON(c.Body)
		if len(body) > maxCommentBodyLen {
			body = body[:maxCommentBodyLen]
		}
		author := c.Author.DisplayName
		if author == "" {
			author = "Unknown"
		}
		date := c.Created
		if len(date) > 10 {
			date = date[:10]
		}
		out = append(out, Comment{Author: author, Body: body, Date: date})
	}
	return out
}

func normalizeLinks(raw json.RawMessage) []LinkedIssue {
	var links []rawIssueLink
	if json.Unmarshal(raw, &links) != nil {
		return nil
	}
	var out []LinkedIssue
	for _, l := range links {
		if l.InwardIssue != nil {
			out = append(out, LinkedIssue{
				Relation: l.Type.Name + " (inward)",
				Key:      l.InwardIssue.Key,
				Title:    l.InwardIssue.Fields.Summary,
			})
		}
		if l.OutwardIssue != nil {
			out = append(out, LinkedIssue{
				Relation: l.Type.Name + " (outward)",
				Key:      l.OutwardIssue.Key,
				Title:    l.OutwardIssue.Fields.Summary,
			})
		}
	}
	return out
}

// decodeSprint handles both the object form and the legacy string form.
func decodeSprint(raw json.RawMessage) string {
	var objs []struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &objs) == nil && len(objs) > 0 {
		return objs[0].Name
	}
	var strs []string
	if json.Unmarshal(raw, &strs) == nil && len(strs) > 0 {
		return strs[0]
	}
	return ""
}

// decodeParent prefers the next-gen parent field, then the classic epic link.
func decodeParent(f map[string]json.RawMessage, fm FieldMap) string {
	var parent rawIssueRef
	if json.Unmarshal(f["parent"], &parent) == nil && parent.Key != "" {
		return parent.Key
	}
	var epic string
	if json.Unmarshal(f[fm.EpicLink], &epic) == nil {
		return epic
	}
	return ""
}

func decodeString(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func decodeNamed(raw json.RawMessage) string {
	var n namedField
	_ = json.Unmarshal(raw, &n)
	return n.Name
}
