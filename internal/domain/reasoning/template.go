package reasoning

import (
	"fmt"
	"strings"
	"unicode"

	model "github.com/okian/fusion/internal/domain/model"
)

// Score thresholds for the fallback buckets.
const (
	ProficientThreshold = 0.75
	DevelopingThreshold = 0.50
	lowConfidence       = 0.4
	maxQuoteLen         = 120
)

// Bucket is a fallback template tier.
type Bucket string

// Fallback buckets.
const (
	BucketProficient Bucket = "proficient"
	BucketDeveloping Bucket = "developing"
	BucketEmerging   Bucket = "emerging"
)

// BucketFor selects the template tier for a fused score.
func BucketFor(score float64) Bucket {
	switch {
	case score >= ProficientThreshold:
		return BucketProficient
	case score >= DevelopingThreshold:
		return BucketDeveloping
	default:
		return BucketEmerging
	}
}

// denyList holds terms that label a student negatively.
var denyList = map[string]struct{}{ //nolint:gochecknoglobals // static vocabulary
	"fail": {}, "fails": {}, "failed": {}, "failing": {}, "failure": {},
	"bad": {}, "poor": {}, "poorly": {}, "weak": {}, "weakness": {},
	"deficient": {}, "deficit": {}, "lacks": {}, "lacking": {},
	"inadequate": {}, "incapable": {}, "unable": {}, "struggles": {}, "struggling": {},
}

// DeniedTerms returns the deny-listed words that occur in text.
func DeniedTerms(text string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		if _, bad := denyList[w]; bad {
			out = append(out, w)
		}
	}
	return out
}

type skillSteps struct {
	next    string
	stretch string
}

var steps = map[model.Skill]skillSteps{ //nolint:gochecknoglobals // static template content
	model.SkillEmpathy: {
		next:    "name how a classmate might be feeling before responding in group work",
		stretch: "mentor a peer by modelling active listening during discussions",
	},
	model.SkillProblemSolving: {
		next:    "try one new strategy before asking for help on a tricky problem",
		stretch: "explain alternative solution paths to classmates and compare them",
	},
	model.SkillSelfRegulation: {
		next:    "set one short focus goal at the start of independent work",
		stretch: "plan and track progress on a multi-step personal goal",
	},
	model.SkillResilience: {
		next:    "reflect briefly on what to try differently after a setback",
		stretch: "take on a challenge slightly beyond current comfort and share what was learned",
	},
	model.SkillAdaptability: {
		next:    "practise one alternative approach when a plan changes",
		stretch: "lead the group through a change of plan during a project",
	},
	model.SkillCommunication: {
		next:    "share one idea aloud in small-group discussion each week",
		stretch: "present a summary of group work to the class",
	},
	model.SkillCollaboration: {
		next:    "take on a defined role in the next group task",
		stretch: "help the group divide work fairly and check in on progress",
	},
}

func stepsFor(skill model.Skill) skillSteps {
	if s, ok := steps[skill]; ok {
		return s
	}
	return skillSteps{
		next:    fmt.Sprintf("practise %s in one everyday classroom task", skill.Label()),
		stretch: fmt.Sprintf("help a classmate practise %s", skill.Label()),
	}
}

// Fallback renders the deterministic explanation for res.
func Fallback(res model.FusedResult, cause string) model.Explanation {
	out := model.Explanation{GeneratedBy: model.ProvenanceFallback, FallbackCause: cause, Strengths: []string{}, GrowthSuggestions: []string{}}
	skill := res.Skill.Label()
	st := stepsFor(res.Skill)

	if res.NoEvidence {
		out.ReasoningText = fmt.Sprintf(
			"There is not yet enough evidence to describe this student's %s. Gathering a few observations from class activities or written work will make an assessment possible.",
			skill)
		out.GrowthSuggestions = []string{fmt.Sprintf("Collect observations of %s in everyday classroom tasks", skill)}
		return out
	}

	sources := sourceList(res)
	quote, quoteSource := citation(res)
	var sentences []string

	switch BucketFor(res.Score) {
	case BucketProficient:
		sentences = append(sentences, fmt.Sprintf("Evidence from %s points to consistent strength in %s.", sources, skill))
		if quote != "" {
			sentences = append(sentences, fmt.Sprintf("For example, %s noted: %q.", quoteSource, quote))
		} else {
			sentences = append(sentences, "This pattern holds across the observations gathered so far.")
		}
		sentences = append(sentences, fmt.Sprintf("To keep growing, the student could %s.", st.stretch))
		out.Strengths = strengths(res, skill, MaxPhrases)
		out.GrowthSuggestions = []string{capitalize(st.stretch)}
	case BucketDeveloping:
		sentences = append(sentences, fmt.Sprintf("The student is making steady progress in %s.", skill))
		if quote != "" {
			sentences = append(sentences, fmt.Sprintf("Recent evidence from %s shows this, for example: %q.", quoteSource, quote))
		} else {
			sentences = append(sentences, fmt.Sprintf("Evidence from %s shows this skill appearing in more situations.", sources))
		}
		sentences = append(sentences, fmt.Sprintf("A helpful next step is to %s.", st.next))
		out.Strengths = strengths(res, skill, 1)
		out.GrowthSuggestions = []string{capitalize(st.next)}
	default:
		sentences = append(sentences,
			fmt.Sprintf("The student is beginning to build %s, and early gains are visible in %s.", skill, sources),
			"Small, regular practice will help these gains add up over time.",
			fmt.Sprintf("One concrete next step is to %s.", st.next),
		)
		out.GrowthSuggestions = []string{capitalize(st.next)}
	}

	if res.Confidence < lowConfidence {
		sentences = append(sentences, "More observations will sharpen this picture.")
	}
	out.ReasoningText = strings.Join(sentences, " ")
	return out
}

func sourceList(res model.FusedResult) string {
	var labels []string
	for _, src := range res.Contributing() {
		labels = append(labels, src.Label())
	}
	switch len(labels) {
	case 0:
		return "recent observations"
	case 1:
		return labels[0]
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + " and " + labels[len(labels)-1]
	}
}

// citation picks the most relevant evidence text that is safe to quote.
func citation(res model.FusedResult) (quote, source string) {
	for _, it := range res.Evidence {
		c := strings.TrimSpace(it.Content)
		if c == "" || len(c) > maxQuoteLen || len(DeniedTerms(c)) > 0 || len(SplitSentences(c)) != 1 {
			continue
		}
		return strings.TrimRight(c, ".!?"), it.Source.Label()
	}
	return "", ""
}

func strengths(res model.FusedResult, skill string, n int) []string {
	var out []string
	seen := map[model.Source]bool{}
	for _, it := range res.Evidence {
		if seen[it.Source] || it.Score < DevelopingThreshold {
			continue
		}
		seen[it.Source] = true
		out = append(out, fmt.Sprintf("Shows %s in %s", skill, it.Source.Label()))
		if len(out) == n {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("Growing confidence with %s", skill))
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
