package risk

import (
	"time"

	"github.com/google/uuid"
)

// Incident is a recorded high-risk frame. It is immutable once written.
type Incident struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       Level     `json:"risk_level"`
	PeopleCount int       `json:"people_count"`
	Score       float64   `json:"risk_score"`
	Factors     Factors   `json:"factors"`
}

// NewIncident captures an assessment as an incident stamped at ts.
func NewIncident(sessionID string, a Assessment, peopleCount int, ts time.Time) Incident {
	return Incident{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Timestamp:   ts.UTC(),
		Level:       a.Level,
		PeopleCount: peopleCount,
		Score:       a.Score,
		Factors:     a.Factors,
	}
}

// DetectionRecord is one accepted person detection kept for the detection log.
type DetectionRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"object_label"`
	Confidence float64   `json:"confidence"`
}
