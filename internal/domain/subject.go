package domain

import "fmt"

// Subject is a tracked commodity name, drawn from the fixed set configured at
// startup (e.g. "Wheat", "Sugar").
type Subject string

// AnalysisContext is the global analysis scope the dashboard operates under.
// It is a closed set; selecting a context is a user-controlled mode switch.
type AnalysisContext string

const (
	ContextDomestic AnalysisContext = "domestic"
	ContextGlobal   AnalysisContext = "global"
)

// ParseAnalysisContext validates a user-supplied context string.
func ParseAnalysisContext(s string) (AnalysisContext, error) {
	switch AnalysisContext(s) {
	case ContextDomestic:
		return ContextDomestic, nil
	case ContextGlobal:
		return ContextGlobal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownContext, s)
	}
}

// EntityKey identifies one cache slot. Two fetches with the same key are the
// same logical resource; the struct is comparable and used directly as a map
// key.
type EntityKey struct {
	Subject Subject
	Context AnalysisContext
}

// Key derives the cache key for a (subject, context) pair.
func Key(subject Subject, analysisContext AnalysisContext) EntityKey {
	return EntityKey{Subject: subject, Context: analysisContext}
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s|%s", k.Subject, k.Context)
}
