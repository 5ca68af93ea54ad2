package domain

import (
	"context"
	"time"
)

// Score bounds for every horizon assessment.
const (
	MinScore = -100.0
	MaxScore = 100.0
)

// DriverImpact classifies how a driver factor affects the market.
type DriverImpact string

const (
	ImpactPositive DriverImpact = "positive"
	ImpactNegative DriverImpact = "negative"
	ImpactNeutral  DriverImpact = "neutral"
)

// HorizonAssessment is the model's verdict for one time window.
type HorizonAssessment struct {
	Score   float64 `json:"score"`
	Label   string  `json:"label"`
	Summary string  `json:"summary"`
}

// Driver is one factor moving the market, with the model's evidence for it.
type Driver struct {
	Factor      string       `json:"factor"`
	Impact      DriverImpact `json:"impact"`
	Description string       `json:"description"`
	Evidence    string       `json:"evidence"`
}

// Citation is a source reference returned alongside the structured result.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SentimentResult is the immutable value object a single inference call
// produces: three time-horizon assessments, the driver list (the model is
// prompted for at least four but that is not enforced here), and source
// citations.
type SentimentResult struct {
	Subject    Subject           `json:"subject"`
	Context    AnalysisContext   `json:"context"`
	Historical HorizonAssessment `json:"historical"`
	Current    HorizonAssessment `json:"current"`
	LongTerm   HorizonAssessment `json:"longTerm"`
	Drivers    []Driver          `json:"drivers"`
	Citations  []Citation        `json:"citations"`
	FetchedAt  time.Time         `json:"fetchedAt"`
}

// ClampScore forces a model-produced score into [MinScore, MaxScore].
func ClampScore(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// --- Interfaces ---

// SentimentProvider abstracts the upstream inference call. Implementations
// may block for the duration of a remote call and must honor ctx
// cancellation. Failures should carry one of the apperrors taxonomy classes.
type SentimentProvider interface {
	FetchSentiment(ctx context.Context, subject Subject, analysisContext AnalysisContext) (*SentimentResult, error)
}
