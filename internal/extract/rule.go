package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"insightgraph/internal/model"
)

// knownTerm maps a lowercase surface form to its display label and type.
type knownTerm struct {
	label string
	typ   string
}

var knownTerms = map[string]knownTerm{
	"python":       {"Python", "Tech"},
	"go":           {"Go", "Tech"},
	"fastapi":      {"FastAPI", "Tech"},
	"redis":        {"Redis", "Tech"},
	"postgres":     {"PostgreSQL", "Tech"},
	"postgresql":   {"PostgreSQL", "Tech"},
	"llm":          {"LLM", "Concept"},
	"rag":          {"RAG", "Concept"},
	"data science": {"Data Science", "Concept"},
	"datascience":  {"Data Science", "Concept"},
}

// relationPatterns are matched against the normalized text, longest-form
// patterns first.
var relationPatterns = []struct {
	re       *regexp.Regexp
	relation string
}{
	{regexp.MustCompile(`(.+?)\s+is\s+used\s+for\s+(.+)`), "used_for"},
	{regexp.MustCompile(`(.+?)\s+used\s+for\s+(.+)`), "used_for"},
	{regexp.MustCompile(`(.+?)\s+is\s+good\s+for\s+(.+)`), "good_for"},
}

var whitespace = regexp.MustCompile(`\s+`)

// RuleBased recognizes a fixed dictionary of terms and a handful of
// "X is used for Y" patterns. Deterministic, free, and instant; it is the
// dev-mode stand-in for the remote model and the fallback baseline.
type RuleBased struct{}

// NewRuleBased returns the rule-based extractor.
func NewRuleBased() *RuleBased { return &RuleBased{} }

func (r *RuleBased) Name() string { return "rule-based" }

func (r *RuleBased) Extract(ctx context.Context, text string) (*model.Graph, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Kind: KindInvalid, Message: "empty input text"}
	}
	norm := normalize(text)
	nodes := findKnownNodes(norm)
	edges := makeEdges(norm, nodes)
	return &model.Graph{Nodes: nodes, Edges: edges}, nil
}

func normalize(text string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

func findKnownNodes(norm string) []model.Node {
	// Multi-word terms first so "data science" beats "data".
	terms := make([]string, 0, len(knownTerms))
	for t := range knownTerms {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })

	seen := make(map[string]bool)
	var nodes []model.Node
	for _, term := range terms {
		if !containsTerm(norm, term) {
			continue
		}
		kt := knownTerms[term]
		id := strings.ReplaceAll(term, " ", "-")
		if seen[id] {
			continue
		}
		seen[id] = true
		confidence := 0.6
		if strings.Count(norm, term) > 1 {
			confidence = 0.9
		}
		nodes = append(nodes, model.Node{ID: id, Label: kt.label, Type: kt.typ, Confidence: confidence})
	}
	return nodes
}

// containsTerm matches term on word boundaries so "go" does not fire inside
// "good".
func containsTerm(norm, term string) bool {
	idx := 0
	for {
		i := strings.Index(norm[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		leftOK := start == 0 || !isWordChar(norm[start-1])
		rightOK := end == len(norm) || !isWordChar(norm[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func makeEdges(norm string, nodes []model.Node) []model.Edge {
	if len(nodes) < 2 {
		return nil
	}
	idToLabel := make(map[string]string, len(nodes))
	for _, n := range nodes {
		idToLabel[n.ID] = strings.ToLower(n.Label)
	}
	bestMatch := func(fragment string) string {
		frag := strings.TrimSpace(fragment)
		for id, label := range idToLabel {
			if strings.Contains(frag, label) || strings.Contains(frag, id) {
				return id
			}
		}
		return ""
	}

	seen := make(map[[3]string]bool)
	var edges []model.Edge
	for _, p := range relationPatterns {
		m := p.re.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		source := bestMatch(m[1])
		target := bestMatch(m[2])
		if source == "" || target == "" || source == target {
			continue
		}
		key := [3]string{source, target, p.relation}
		if seen[key] {
			continue
		}
		seen[key] = true
		edges = append(edges, model.Edge{Source: source, Target: target, Relation: p.relation})
	}
	return edges
}
