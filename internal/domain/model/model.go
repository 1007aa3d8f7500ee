// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Skill identifies a non-academic competency.
type Skill string

// Known skills.
const (
	SkillEmpathy        Skill = "empathy"
	SkillProblemSolving Skill = "problem_solving"
	SkillSelfRegulation Skill = "self_regulation"
	SkillResilience     Skill = "resilience"
	SkillAdaptability   Skill = "adaptability"
	SkillCommunication  Skill = "communication"
	SkillCollaboration  Skill = "collaboration"
)

var allSkills = []Skill{ //nolint:gochecknoglobals // closed enumeration
	SkillEmpathy,
	SkillProblemSolving,
	SkillSelfRegulation,
	SkillResilience,
	SkillAdaptability,
	SkillCommunication,
	SkillCollaboration,
}

// Skills returns every known skill in a stable order.
func Skills() []Skill {
	out := make([]Skill, len(allSkills))
	copy(out, allSkills)
	return out
}

// Valid reports whether s is a known skill.
func (s Skill) Valid() bool {
	for _, k := range allSkills {
		if s == k {
			return true
		}
	}
	return false
}

// Label returns a human readable name, e.g. "problem solving".
func (s Skill) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// ParseSkill converts an identifier into a Skill.
func ParseSkill(raw string) (Skill, error) {
	s := Skill(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &InputError{Field: "skill", Value: raw, Err: ErrUnknownSkill}
	}
	return s, nil
}

// Source is the origin category of a piece of evidence.
type Source string

// Evidence sources.
const (
	SourceModel        Source = "model_inference"
	SourceLinguistic   Source = "linguistic"
	SourceBehavioral   Source = "behavioral"
	SourceHumanRating  Source = "human_rating"
	SourcePeerFeedback Source = "peer_feedback"
)

var allSources = []Source{ //nolint:gochecknoglobals // closed enumeration
	SourceModel,
	SourceLinguistic,
	SourceBehavioral,
	SourceHumanRating,
	SourcePeerFeedback,
}

// Sources returns every evidence source in a stable order.
func Sources() []Source {
	out := make([]Source, len(allSources))
	copy(out, allSources)
	return out
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, k := range allSources {
		if s == k {
			return true
		}
	}
	return false
}

// Label returns a short description used in explanations.
func (s Source) Label() string {
	switch s {
	case SourceModel:
		return "model estimate"
	case SourceLinguistic:
		return "written work"
	case SourceBehavioral:
		return "classroom activity"
	case SourceHumanRating:
		return "teacher rating"
	case SourcePeerFeedback:
		return "peer feedback"
	default:
		return string(s)
	}
}

// ParseSource converts an identifier into a Source.
func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &InputError{Field: "source", Value: raw, Err: ErrUnknownSource}
	}
	return s, nil
}

// maxStudentIDLen bounds student identifiers.
const maxStudentIDLen = 128

var studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`) //nolint:gochecknoglobals // compiled once

// ValidateStudentID rejects empty, oversized or malformed identifiers.
func ValidateStudentID(id string) error {
	if id == "" || len(id) > maxStudentIDLen || !studentIDPattern.MatchString(id) {
		return &InputError{Field: "student_id", Value: id, Err: ErrInvalidStudentID}
	}
	return nil
}

// EvidenceItem is a single source-attributed datum supporting a skill score.
type EvidenceItem struct {
	Source    Source    `json:"source"`
	Score     float64   `json:"score"`
	Relevance float64   `json:"relevance"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FusedResult is the weighted combination of per-source evidence.
// When NoEvidence is true Score is meaningless and Confidence is 0.
type FusedResult struct {
	StudentID       string             `json:"student_id"`
	Skill           Skill              `json:"skill"`
	Score           float64            `json:"score"`
	NoEvidence      bool               `json:"no_evidence"`
	Confidence      float64            `json:"confidence"`
	Evidence        []EvidenceItem     `json:"evidence"`
	SourceBreakdown map[Source]float64 `json:"source_breakdown"`
	AppliedWeights  map[Source]float64 `json:"applied_weights"`
	WeightsVersion  int64              `json:"weights_version"`
}

// Contributing returns the sources that produced evidence, in stable order.
func (r FusedResult) Contributing() []Source {
	var out []Source
	for _, s := range allSources {
		if _, ok := r.SourceBreakdown[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Provenance tells consumers who wrote an explanation.
type Provenance string

// Explanation provenance values.
const (
	ProvenanceExternal Provenance = "external"
	ProvenanceFallback Provenance = "fallback"
)

// Explanation is the natural-language part of an assessment.
type Explanation struct {
	ReasoningText     string     `json:"reasoning_text"`
	Strengths         []string   `json:"strengths"`
	GrowthSuggestions []string   `json:"growth_suggestions"`
	GeneratedBy       Provenance `json:"generated_by"`
	// FallbackCause is empty for external explanations.
	FallbackCause string `json:"fallback_cause,omitempty"`
}

// Assessment is a fused result plus its explanation.
type Assessment struct {
	ID string `json:"id"`
	FusedResult
	Explanation
	AssessedAt time.Time `json:"assessed_at"`
}

func (a Assessment) String() string {
	if a.NoEvidence {
		return fmt.Sprintf("%s/%s: no evidence", a.StudentID, a.Skill)
	}
	return fmt.Sprintf("%s/%s: %.3f (confidence %.2f, %s)", a.StudentID, a.Skill, a.Score, a.Confidence, a.GeneratedBy)
}
