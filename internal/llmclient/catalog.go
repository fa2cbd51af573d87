package llmclient

import "strings"

// Limits describes a model's context window and maximum single response.
type Limits struct {
	Context int
	Output  int
}

var groqLimits = map[string]Limits{
	"llama-3.3-70b-versatile":                   {Context: 131072, Output: 32768},
	"llama-3.1-8b-instant":                      {Context: 131072, Output: 131072},
	"deepseek-r1-distill-llama-70b":             {Context: 131072, Output: 16384},
	"qwen-qwq-32b":                              {Context: 131072, Output: 16384},
	"meta-llama/llama-4-scout-17b-16e-instruct": {Context: 131072, Output: 8192},
}

var ollamaLimits = map[string]Limits{
	"llama3.1": {Context: 128000, Output: 4096},
	"mistral":  {Context: 32000, Output: 4096},
	"qwen2.5":  {Context: 128000, Output: 4096},
	"gemma2":   {Context: 8000, Output: 4096},
}

var geminiLimits = map[string]Limits{
	"gemini-2.0-flash": {Context: 1048576, Output: 8192},
	"gemini-1.5-pro":   {Context: 2097152, Output: 8192},
}

// LimitsFor resolves model limits by substring match, falling back to a
// conservative per-provider default.
func LimitsFor(provider, model string) Limits {
	lookup := func(m map[string]Limits, def Limits) Limits {
		for key, lim := range m {
			if strings.Contains(model, key) {
				return lim
			}
		}
		return def
	}
	switch strings.ToLower(provider) {
	case "groq":
		return lookup(groqLimits, Limits{Context: 131072, Output: 8192})
	case "ollama":
		return lookup(ollamaLimits, Limits{Context: 32768, Output: 4096})
	case "gemini":
		return lookup(geminiLimits, Limits{Context: 1048576, Output: 8192})
	}
	return Limits{Context: 8192, Output: 4096}
}
