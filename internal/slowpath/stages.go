package slowpath

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rcliao/stream-fusion/internal/model"
)

// Stage names in pipeline order.
const (
	StageLiteral      = "literal"
	StageAbstraction  = "abstraction"
	StageMetaphor     = "metaphor"
	StageTemporal     = "temporal"
	StageCausal       = "causal"
	StageEmergent     = "emergent"
	StageTranscendent = "transcendent"
)

// Output is what a stage transformation produces. Nil Concepts inherit the
// previous stage's concepts.
type Output struct {
	Content  string
	Concepts []string
	Summary  string
}

// StageFunc transforms the previous stage's result. The first stage sees a
// result with Index -1 whose Content is the raw input.
type StageFunc func(ctx context.Context, prev model.StageResult) (Output, error)

// Stage is one named transformation.
type Stage struct {
	Name      string
	Transform StageFunc
}

// DefaultStages returns the seven stages in order.
func DefaultStages() []Stage {
	return []Stage{
		{StageLiteral, literal},
		{StageAbstraction, abstraction},
		{StageMetaphor, metaphor},
		{StageTemporal, temporal},
		{StageCausal, causal},
		{StageEmergent, emergent},
		{StageTranscendent, transcendent},
	}
}

// stageInsights is the insight line reported for each stage by position.
var stageInsights = []string{
	"Direct perception of the thought",
	"Abstract patterns recognized",
	"Metaphorical connections discovered",
	"Temporal dynamics understood",
	"Causal relationships mapped",
	"Emergent properties revealed",
	"Transcendent unity achieved",
}

func insightText(idx int) string {
	if idx >= 0 && idx < len(stageInsights) {
		return stageInsights[idx]
	}
	return fmt.Sprintf("Insight at stage %d", idx+1)
}

func literal(_ context.Context, prev model.StageResult) (Output, error) {
	content := strings.TrimSpace(prev.Content)
	return Output{
		Content: content,
		Summary: fmt.Sprintf("literal: %d tokens", len(strings.Fields(content))),
	}, nil
}

func abstraction(_ context.Context, prev model.StageResult) (Output, error) {
	concepts := extractConcepts(prev.Content)
	content := prev.Content
	if len(concepts) > 0 {
		content += "\nConcepts: " + strings.Join(concepts, ", ") + "."
	}
	return Output{
		Content:  content,
		Concepts: concepts,
		Summary:  fmt.Sprintf("abstraction: %d concepts", len(concepts)),
	}, nil
}

func metaphor(_ context.Context, prev model.StageResult) (Output, error) {
	if len(prev.Concepts) == 0 {
		return Output{Content: prev.Content, Summary: "metaphor: none"}, nil
	}
	m := prev.Concepts[0] + " is like a river flowing through understanding."
	return Output{
		Content: prev.Content + "\n" + m,
		Summary: "metaphor: " + prev.Concepts[0],
	}, nil
}

func temporal(_ context.Context, prev model.StageResult) (Output, error) {
	t := tense(prev.Content)
	return Output{
		Content: prev.Content + "\nSeen in the " + t + ".",
		Summary: "temporal: " + t,
	}, nil
}

func causal(_ context.Context, prev model.StageResult) (Output, error) {
	return Output{
		Content: prev.Content + "\nThis follows from what came before and shapes what comes next.",
		Summary: "causal: thought leads to reflection",
	}, nil
}

func emergent(_ context.Context, prev model.StageResult) (Output, error) {
	n := prev.Index + 1
	return Output{
		Content: prev.Content + fmt.Sprintf("\nEmergent understanding from %d stages of reflection.", n),
		Summary: fmt.Sprintf("emergent: %d stages", n),
	}, nil
}

func transcendent(_ context.Context, prev model.StageResult) (Output, error) {
	n := len(prev.Summaries)
	return Output{
		Content: prev.Content + fmt.Sprintf("\nWisdom distilled from %d transformations.", n),
		Summary: fmt.Sprintf("transcendent: %d transformations", n),
	}, nil
}

var conceptStopWords = map[string]bool{
	"about": true, "there": true, "their": true, "which": true, "would": true,
	"could": true, "should": true, "these": true, "those": true, "where": true,
}

// extractConcepts returns lowercase words longer than four letters, in
// order, without duplicates.
func extractConcepts(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(text) {
		w = strings.TrimFunc(strings.ToLower(w), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len(w) <= 4 || conceptStopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func tense(text string) string {
	lower := " " + strings.ToLower(text) + " "
	switch {
	case strings.Contains(lower, " will ") || strings.Contains(lower, " going to "):
		return "future"
	case strings.Contains(lower, " was ") || strings.Contains(lower, " were "):
		return "past"
	default:
		return "present"
	}
}
