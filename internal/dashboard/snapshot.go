package dashboard

import (
	"github.com/fwintner/marketpulse/internal/apperrors"
	"github.com/fwintner/marketpulse/internal/domain"
)

// ErrorState is the user-visible form of a classified foreground failure.
type ErrorState struct {
	Class   apperrors.Class `json:"class"`
	Message string          `json:"message"`
}

// Snapshot is the read model handed to observers after every state mutation.
// The presentation layer renders exclusively from snapshots; Results holds
// the cache entries for the current context only.
type Snapshot struct {
	Subjects       []domain.Subject                           `json:"subjects"`
	Context        domain.AnalysisContext                     `json:"context"`
	Cursor         int                                        `json:"cursor"`
	Selected       *domain.Subject                            `json:"selected,omitempty"`
	Loading        bool                                       `json:"loading"`
	Error          *ErrorState                                `json:"error,omitempty"`
	ExpandedDriver *int                                       `json:"expandedDriver,omitempty"`
	Results        map[domain.Subject]*domain.SentimentResult `json:"results"`
	CachedEntries  int                                        `json:"cachedEntries"`
}

// Broadcaster receives snapshots for fan-out to connected clients.
// Implementations must not block the caller.
type Broadcaster interface {
	Publish(snap Snapshot)
}
