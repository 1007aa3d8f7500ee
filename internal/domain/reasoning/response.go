package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Output limits for explanations.
const (
	MinSentences = 2
	MaxSentences = 4
	MaxPhrases   = 3
)

type response struct {
	Reasoning         string   `json:"reasoning"`
	Strengths         []string `json:"strengths"`
	GrowthSuggestions []string `json:"growth_suggestions"`
}

// ParseResponse extracts an explanation from provider text. Markdown fences
// are ignored. Reasoning is trimmed to MaxSentences and lists to MaxPhrases.
func ParseResponse(text string) (reasoningText string, strengths, growth []string, err error) {
	body := stripFences(text)
	start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return "", nil, nil, fmt.Errorf("%w: no JSON object", ErrMalformedResponse)
	}
	var r response
	if err := json.Unmarshal([]byte(body[start:end+1]), &r); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	sentences := SplitSentences(r.Reasoning)
	if len(sentences) < MinSentences {
		return "", nil, nil, fmt.Errorf("%w: %d sentences", ErrMalformedResponse, len(sentences))
	}
	if len(sentences) > MaxSentences {
		sentences = sentences[:MaxSentences]
	}
	return strings.Join(sentences, " "), phrases(r.Strengths), phrases(r.GrowthSuggestions), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line.
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func phrases(in []string) []string {
	out := make([]string, 0, MaxPhrases)
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == MaxPhrases {
			break
		}
	}
	return out
}

// SplitSentences splits text after '.', '!' or '?' followed by whitespace or
// the end of the text.
func SplitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var out []string
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
