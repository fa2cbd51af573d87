package richtext

import "encoding/json"

// FlattenJSON flattens a raw description field. Tracker deployments return
// either a plain string or a rich-document object; both are accepted.
// Malformed input degrades to the empty string rather than an error.
func FlattenJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return Flatten(n)
}
