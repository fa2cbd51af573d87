package aggregate

import (
	"sort"
	"strings"

	"strategist/internal/tracker"
)

// riskLexicon is a fixed keyword list, a cheap signal rather than a
// classifier. Matching runs over title + description + labels.
var riskLexicon = map[string]string{
	"payment":        "Payment processing involved",
	"credit card":    "Cardholder data considerations",
	"pii":            "Personal identifiable information",
	"gdpr":           "GDPR compliance required",
	"hipaa":          "HIPAA compliance required",
	"security":       "Security considerations",
	"authentication": "Authentication system",
	"authorization":  "Authorization system",
	"third-party":    "Third-party integration",
	"external api":   "External API dependency",
	"performance":    "Performance requirements",
	"scale":          "Scalability considerations",
	"concurrent":     "Concurrency handling",
	"transaction":    "Transaction handling",
	"migration":      "Data migration involved",
	"legacy":         "Legacy system integration",
}

// techLexicon maps technology-name patterns to context notes.
var techLexicon = map[string]string{
	"react":        "React frontend",
	"angular":      "Angular frontend",
	"vue":          "Vue.js frontend",
	"node.js":      "Node.js backend",
	"python":       "Python backend",
	"java":         "Java backend",
	"go ":          "Go backend",
	"spring":       "Spring framework",
	"django":       "Django framework",
	"postgresql":   "PostgreSQL database",
	"mysql":        "MySQL database",
	"mongodb":      "MongoDB database",
	"redis":        "Redis cache",
	"kafka":        "Kafka messaging",
	"docker":       "Docker containers",
	"kubernetes":   "Kubernetes orchestration",
	"aws":          "AWS cloud",
	"azure":        "Azure cloud",
	"gcp":          "Google Cloud Platform",
	"rest api":     "REST API",
	"graphql":      "GraphQL API",
	"grpc":         "gRPC API",
	"microservice": "Microservices architecture",
	"serverless":   "Serverless architecture",
}

func searchableText(t tracker.Ticket) string {
	parts := []string{t.Title, t.Description}
	parts = append(parts, t.Labels...)
	return strings.ToLower(strings.Join(parts, "\n"))
}

// riskKeywordsIn returns the lexicon keywords that trigger for a ticket.
func riskKeywordsIn(t tracker.Ticket) []string {
	text := searchableText(t)
	var out []string
	for kw := range riskLexicon {
		if strings.Contains(text, kw) {
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return out
}

// riskIndicators maps triggered keywords to their human-readable labels and
// adds a priority signal for Critical/Highest tickets.
func riskIndicators(t tracker.Ticket) []string {
	var out []string
	for _, kw := range riskKeywordsIn(t) {
		out = append(out, riskLexicon[kw])
	}
	switch t.Priority {
	case "Critical", "Highest":
		out = append(out, "Critical priority")
	case "High":
		out = append(out, "High priority")
	}
	return out
}

// technicalContext concatenates technology signals detected across the
// whole set. Empty on no match, never an error.
func technicalContext(tickets []tracker.Ticket) string {
	found := map[string]bool{}
	for _, t := range tickets {
		text := searchableText(t)
		for pattern, label := range techLexicon {
			if strings.Contains(text, pattern) {
				found[label] = true
			}
		}
	}
	if len(found) == 0 {
		return ""
	}
	return "Detected technology signals: " + strings.Join(sortedKeys(found), ", ")
}
