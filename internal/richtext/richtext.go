// Package richtext flattens the tracker's nested rich-document format
// (Atlassian Document Format) into plain text suitable for prompts.
package richtext

import "strings"

// Node is one node of a rich-document tree. Non-leaf nodes own their
// children in document order. The tree is finite and acyclic by
// construction of the source format, so no cycle detection is done.
type Node struct {
	Type    string         `json:"type,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
}

type Mark struct {
	Type string `json:"type"`
}

// Flatten linearizes a rich-document node to plain text. It is total:
// unknown node types degrade to flattening their children, and missing
// fields default to empty output. It never fails.
func Flatten(n Node) string {
	switch n.Type {
	case "text":
		return applyMarks(n.Text, n.Marks)
	case "hardBreak":
		return "\n"
	case "mention":
		return attrString(n.Attrs, "text")
	case "emoji":
		return attrString(n.Attrs, "shortName")
	case "inlineCard", "blockCard":
		if url := attrString(n.Attrs, "url"); url != "" {
			return " [" + url + "] "
		}
		return ""
	}

	var b strings.Builder
	for _, child := range n.Content {
		b.WriteString(Flatten(child))
	}
	body := b.String()

	switch n.Type {
	case "paragraph":
		return body + "\n"
	case "heading":
		level := attrInt(n.Attrs, "level", 1)
		return strings.Repeat("#", level) + " " + body + "\n"
	case "listItem":
		return "• " + body + "\n"
	case "codeBlock":
		lang := attrString(n.Attrs, "language")
		return "```" + lang + "\n" + body + "\n```\n"
	case "blockquote":
		return "> " + body + "\n"
	case "panel":
		kind := attrString(n.Attrs, "panelType")
		if kind == "" {
			kind = "info"
		}
		return "[" + strings.ToUpper(kind) + "] " + body + "\n"
	case "table":
		return body + "\n"
	case "tableRow":
		return "| " + body + "\n"
	case "tableCell", "tableHeader":
		return body + " | "
	}
	// bulletList, orderedList, doc and anything unrecognized: children only.
	return body
}

func applyMarks(text string, marks []Mark) string {
	for _, m := range marks {
		switch m.Type {
		case "strong":
			text = "**" + text + "**"
		case "em":
			text = "*" + text + "*"
		case "code":
			text = "`" + text + "`"
		}
	}
	return text
}

func attrString(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	s, _ := attrs[key].(string)
	return s
}

func attrInt(attrs map[string]any, key string, def int) int {
	if attrs == nil {
		return def
	}
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
