package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runMiddleware(t *testing.T, handlerErr error) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware()(func(c echo.Context) error {
		return handlerErr
	})
	err := handler(c)

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		// Mirror echo's default handling for pass-through errors.
		require.NoError(t, c.JSON(httpErr.Code, map[string]any{"message": httpErr.Message}))
	}
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestMiddleware_NoError(t *testing.T) {
	rec := runMiddleware(t, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_ClassifiedError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantClass  Class
	}{
		{name: "auth", err: AuthError("key rejected", nil), wantStatus: http.StatusBadGateway, wantClass: ClassAuth},
		{name: "network", err: NetworkError("unreachable", nil), wantStatus: http.StatusBadGateway, wantClass: ClassNetwork},
		{name: "rate limit", err: RateLimitError("throttled", nil), wantStatus: http.StatusTooManyRequests, wantClass: ClassRateLimit},
		{name: "unclassified", err: errors.New("something odd"), wantStatus: http.StatusInternalServerError, wantClass: ClassUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := runMiddleware(t, tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)

			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantClass, resp.Error.Class)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestMiddleware_EchoHTTPErrorPassesThrough(t *testing.T) {
	rec := runMiddleware(t, echo.NewHTTPError(http.StatusNotFound, "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
