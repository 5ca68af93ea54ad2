package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type fetchIDKey struct{}

// NewFetchID generates an 8-character hex fetch ID (4 random bytes). Every
// dispatch to the inference service gets one so its log lines can be traced.
func NewFetchID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithFetchID returns a new context carrying the given fetch ID.
func WithFetchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, fetchIDKey{}, id)
}

// FetchID extracts the fetch ID from ctx, returning ("", false) if absent.
func FetchID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(fetchIDKey{}).(string)
	return id, ok && id != ""
}

// FetchIDHandler wraps an existing slog.Handler to automatically inject a
// "fetch_id" attribute when the context carries one.
type FetchIDHandler struct {
	inner slog.Handler
}

// NewFetchIDHandler creates a fetch-ID-aware handler wrapping the given handler.
func NewFetchIDHandler(inner slog.Handler) *FetchIDHandler {
	return &FetchIDHandler{inner: inner}
}

func (h *FetchIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *FetchIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := FetchID(ctx); ok {
		r.AddAttrs(slog.String("fetch_id", id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("fetch id handler: %w", err)
	}
	return nil
}

func (h *FetchIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FetchIDHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *FetchIDHandler) WithGroup(name string) slog.Handler {
	return &FetchIDHandler{inner: h.inner.WithGroup(name)}
}
