package template

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Line is one text line with the typography observed for it. Plain-text
// sources carry no typography; FontSize 0 means "no signal".
type Line struct {
	Text     string
	FontSize float64
	Bold     bool
}

// minConfirmed is the threshold below which the parser falls back to the
// default hierarchy.
const minConfirmed = 5

// numberingAloneThreshold accepts numbering matches without typographic
// confirmation when a template's headings carry no distinguishing style.
const numberingAloneThreshold = 10

var numberingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`)

// matchNumbering applies the numbering detector: a dotted-decimal number
// followed by a plausible title (3-100 chars, at most 15 words, starting
// with a letter).
func matchNumbering(text string) (number, title string, ok bool) {
	m := numberingRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", false
	}
	number, title = m[1], strings.TrimSpace(m[2])
	if len(title) < 3 || len(title) > 100 {
		return "", "", false
	}
	if len(strings.Fields(title)) > 15 {
		return "", "", false
	}
	first := []rune(title)[0]
	if !unicode.IsLetter(first) {
		return "", "", false
	}
	return number, title, true
}

// modalFontSize returns the most common rounded font size, the body size
// against which headings stand out. Zero when there is no typography.
func modalFontSize(lines []Line) float64 {
	counts := map[float64]int{}
	for _, l := range lines {
		if l.FontSize > 0 {
			counts[math.Round(l.FontSize)]++
		}
	}
	var modal float64
	best := 0
	for size, n := range counts {
		if n > best || (n == best && size < modal) {
			modal, best = size, n
		}
	}
	return modal
}

// typographicHeading reports whether a line looks like a heading by style:
// larger than the modal body size, or bold weight.
func typographicHeading(l Line, bodySize float64) bool {
	if l.Bold {
		return true
	}
	return bodySize > 0 && l.FontSize > bodySize+0.5
}

// detect reconciles the two detectors over the document's lines. A match
// is confirmed when both detectors accept it, or when numbering alone
// yields enough matches to be trusted without typography.
func detect(lines []Line) []Section {
	bodySize := modalFontSize(lines)

	type candidate struct {
		sec         Section
		typographic bool
	}
	var candidates []candidate
	for _, l := range lines {
		number, title, ok := matchNumbering(l.Text)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{
			sec: Section{
				Number: number,
				Title:  title,
				Depth:  strings.Count(number, ".") + 1,
			},
			typographic: typographicHeading(l, bodySize),
		})
	}

	var confirmed []Section
	for _, c := range candidates {
		if c.typographic {
			confirmed = append(confirmed, c.sec)
		}
	}
	if len(confirmed) < len(candidates) && len(candidates) >= numberingAloneThreshold {
		confirmed = confirmed[:0]
		for _, c := range candidates {
			confirmed = append(confirmed, c.sec)
		}
	}
	return confirmed
}

// fromLines runs detection and assembles the result, falling back to the
// default hierarchy when too little structure was confirmed.
func fromLines(lines []Line, rawText string) Result {
	confirmed := detect(lines)
	if len(confirmed) < minConfirmed {
		return Result{
			Sections: Default(),
			RawText:  capRaw(rawText),
			Total:    Count(Default()),
			Fallback: true,
		}
	}
	forest := buildHierarchy(confirmed)
	return Result{
		Sections: forest,
		RawText:  capRaw(rawText),
		Total:    len(confirmed),
	}
}

// capRaw bounds the raw text carried into prompts.
func capRaw(s string) string {
	const max = 5000
	if len(s) > max {
		return s[:max]
	}
	return s
}
