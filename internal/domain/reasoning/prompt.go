package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	model "github.com/okian/fusion/internal/domain/model"
)

// Prompt is one bounded request to the text-generation dependency.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

var skillDefinitions = map[model.Skill]string{ //nolint:gochecknoglobals // static prompt content
	model.SkillEmpathy:        "recognizing and responding to the feelings and perspectives of others",
	model.SkillProblemSolving: "breaking down unfamiliar problems, trying strategies and checking results",
	model.SkillSelfRegulation: "managing attention, emotions and effort to reach a goal",
	model.SkillResilience:     "persisting and recovering after setbacks or mistakes",
	model.SkillAdaptability:   "adjusting approach when circumstances or instructions change",
	model.SkillCommunication:  "expressing ideas clearly and listening to understand",
	model.SkillCollaboration:  "working with others toward a shared goal and sharing responsibility",
}

const systemPreamble = `You write short feedback for teachers about one student's non-academic skill.
Use growth-oriented language. Never describe the student as deficient, failing or weak.
Base every statement on the evidence provided and do not invent observations.
Respond with a single JSON object and nothing else:
{"reasoning": "2 to 4 sentences", "strengths": ["up to 3 short phrases"], "growth_suggestions": ["up to 3 short phrases"]}`

type promptEvidence struct {
	Source    string  `json:"source"`
	Score     float64 `json:"score"`
	Relevance float64 `json:"relevance"`
	Content   string  `json:"content"`
}

type promptBody struct {
	Skill      string           `json:"skill"`
	Definition string           `json:"definition"`
	Score      float64          `json:"score"`
	Confidence float64          `json:"confidence"`
	Sources    []string         `json:"contributing_sources"`
	Evidence   []promptEvidence `json:"evidence"`
}

// BuildPrompt renders the skill preamble and the first n evidence items.
func BuildPrompt(res model.FusedResult, n, maxTokens int) Prompt {
	if n > len(res.Evidence) {
		n = len(res.Evidence)
	}
	if n < 0 {
		n = 0
	}
	body := promptBody{
		Skill:      res.Skill.Label(),
		Definition: skillDefinitions[res.Skill],
		Score:      round2(res.Score),
		Confidence: round2(res.Confidence),
		Evidence:   make([]promptEvidence, 0, n),
	}
	for _, src := range res.Contributing() {
		body.Sources = append(body.Sources, src.Label())
	}
	for _, it := range res.Evidence[:n] {
		body.Evidence = append(body.Evidence, promptEvidence{
			Source:    it.Source.Label(),
			Score:     round2(it.Score),
			Relevance: round2(it.Relevance),
			Content:   it.Content,
		})
	}
	raw, _ := json.MarshalIndent(body, "", "  ") //nolint:errchkjson // plain structs always marshal

	var sb strings.Builder
	fmt.Fprintf(&sb, "Skill: %s (%s).\n", body.Skill, body.Definition)
	sb.WriteString("Scores are on a 0 to 1 scale. Explain the score below using the evidence.\n\n")
	sb.Write(raw)
	return Prompt{System: systemPreamble, User: sb.String(), MaxTokens: maxTokens}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
