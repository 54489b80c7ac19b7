package domain

import "time"

// InsightRetention is how long a patient insight record is kept.
const InsightRetention = 30 * 24 * time.Hour

// ConfidenceLabel is the closed ordinal vocabulary for insight confidence.
// LLM output is coerced into this set before persistence.
type ConfidenceLabel string

const (
	ConfidenceStronglyRecommended   ConfidenceLabel = "Strongly Recommended"
	ConfidenceRecommended           ConfidenceLabel = "Recommended"
	ConfidenceModeratelyRecommended ConfidenceLabel = "Moderately Recommended"
	ConfidenceNeutral               ConfidenceLabel = "Neutral"
	ConfidenceNotRecommended        ConfidenceLabel = "Not Recommended"
)

// confidenceLabels maps lowercased label text to the canonical value.
var confidenceLabels = map[string]ConfidenceLabel{
	"strongly recommended":   ConfidenceStronglyRecommended,
	"recommended":            ConfidenceRecommended,
	"moderately recommended": ConfidenceModeratelyRecommended,
	"neutral":                ConfidenceNeutral,
	"not recommended":        ConfidenceNotRecommended,
}

// CoerceConfidenceLabel maps free-form LLM output onto the closed vocabulary.
// Unrecognized values coerce to Neutral.
func CoerceConfidenceLabel(s string) ConfidenceLabel {
	if label, ok := confidenceLabels[normalizeLabel(s)]; ok {
		return label
	}
	return ConfidenceNeutral
}

func normalizeLabel(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
			fallthrough
		case r >= 'a' && r <= 'z':
			if space && len(out) > 0 {
				out = append(out, ' ')
			}
			space = false
			out = append(out, r)
		default:
			space = true
		}
	}
	return string(out)
}

// InsightItem is one recommendation produced for a visit transcript.
type InsightItem struct {
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	SourceID        string          `json:"source_id"`
	ConfidenceLabel ConfidenceLabel `json:"confidence_label"`
	RelevanceTag    string          `json:"relevance_tag"`
}

// InsightReference is a literature citation attached to an insight record.
type InsightReference struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
}

// PatientInsight is the persisted result of one insight-generation call.
// Keyed by (PatientID, VisitID); a later call for the same key overwrites
// the prior record with no merge.
type PatientInsight struct {
	PatientID  string             `json:"patient_id"`
	VisitID    string             `json:"visit_id"`
	Transcript string             `json:"transcript"`
	Insights   []InsightItem      `json:"insights"`
	References []InsightReference `json:"references"`
	CreatedAt  time.Time          `json:"created_at"`
	ExpiresAt  time.Time          `json:"expires_at"`
}
