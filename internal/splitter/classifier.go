package splitter

import (
	"regexp"
	"strings"
)

// SectionType labels the part of a document a piece belongs to.
type SectionType string

const (
	SectionAbstract     SectionType = "abstract"
	SectionIntroduction SectionType = "introduction"
	SectionMethodology  SectionType = "methodology"
	SectionResults      SectionType = "results"
	SectionConclusion   SectionType = "conclusion"
	SectionReferences   SectionType = "references"
	SectionFigure       SectionType = "figure"
	SectionTable        SectionType = "table"
	SectionBody         SectionType = "body"
)

// Metadata holds classification results for one piece of text. Fields are
// fixed at compile time so downstream storage stays schema-stable.
type Metadata struct {
	Section      SectionType `json:"section"`
	KeywordCount int         `json:"keyword_count"`
	HasEquations bool        `json:"has_equations"`
	HasCitations bool        `json:"has_citations"`
}

// sectionPatterns pairs a label with the markers that identify it. Order
// matters: the first label whose marker appears wins.
var sectionPatterns = []struct {
	section SectionType
	markers []string
}{
	{SectionAbstract, []string{"abstract"}},
	{SectionIntroduction, []string{"introduction", "background"}},
	{SectionMethodology, []string{"methodology", "methods", "method", "approach", "experimental setup"}},
	{SectionResults, []string{"results", "findings", "evaluation", "discussion"}},
	{SectionConclusion, []string{"conclusion", "concluding remarks", "summary"}},
	{SectionReferences, []string{"references", "bibliography", "works cited"}},
	{SectionFigure, []string{"figure", "fig."}},
	{SectionTable, []string{"table"}},
}

// analyticalKeywords are terms counted to gauge how argumentative or
// analytical a piece of text is.
var analyticalKeywords = []string{
	"therefore", "however", "significant", "analysis", "demonstrates",
	"hypothesis", "evidence", "furthermore", "moreover", "consequently",
	"indicates", "suggests", "observed", "compared", "propose",
}

var (
	equationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$[^$]+\$`),
		regexp.MustCompile(`\\(frac|sum|int|sqrt|alpha|beta|gamma|lambda|sigma|theta)\b`),
		regexp.MustCompile(`[=<>≤≥±×÷∑∫√∂∇][ ]*[-+]?[0-9a-zA-Z(]`),
	}

	citationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[\d+(,\s*\d+)*\]`),
		regexp.MustCompile(`\([A-Z][a-zA-Z-]+( et al\.?)?,?\s+(19|20)\d{2}[a-z]?\)`),
		regexp.MustCompile(`\bet al\.`),
	}
)

// Classifier derives lexical metadata for pieces of text.
type Classifier struct{}

// NewClassifier creates a new Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify inspects text and returns its section label, analytical keyword
// count, and equation/citation flags.
func (c *Classifier) Classify(text string) Metadata {
	lower := strings.ToLower(text)

	return Metadata{
		Section:      classifySection(lower),
		KeywordCount: countKeywords(lower),
		HasEquations: matchesAny(text, equationPatterns),
		HasCitations: matchesAny(text, citationPatterns),
	}
}

// classifySection matches section markers against the opening of the text.
// Only the head is inspected so a body paragraph that merely mentions
// "results" is not relabeled.
func classifySection(lower string) SectionType {
	head := lower
	if len(head) > 200 {
		head = head[:200]
	}
	for _, sp := range sectionPatterns {
		for _, marker := range sp.markers {
			if strings.Contains(head, marker) {
				return sp.section
			}
		}
	}
	return SectionBody
}

func countKeywords(lower string) int {
	count := 0
	for _, kw := range analyticalKeywords {
		count += strings.Count(lower, kw)
	}
	return count
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
