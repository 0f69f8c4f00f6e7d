package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/fetcher"
	"github.com/xkilldash9x/pagesource/internal/observability"
)

// FetchRequest is a validated fetch query.
type FetchRequest struct {
	URL string
	// Timeout bounds navigation. 0 means unbounded.
	Timeout time.Duration
}

// ParseFetchRequest reads the url and timeout query parameters. timeout is a
// number of seconds and may be fractional. An empty url is passed through;
// the browser rejects it at navigation.
func ParseFetchRequest(r *http.Request) (FetchRequest, error) {
	q := r.URL.Query()

	if !q.Has("url") {
		return FetchRequest{}, schemas.NewValidationError("missing required query parameter 'url'")
	}

	raw := strings.TrimSpace(q.Get("timeout"))
	if raw == "" {
		return FetchRequest{}, schemas.NewValidationError("missing required query parameter 'timeout'")
	}
	sec, err := strconv.ParseFloat(raw, 64)
	// Out-of-range values parse to ±Inf or 0 and are accepted as such.
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return FetchRequest{}, schemas.NewValidationError("query parameter 'timeout' must be a number of seconds, got %q", raw)
	}
	if math.IsNaN(sec) {
		return FetchRequest{}, schemas.NewValidationError("query parameter 'timeout' must be a number of seconds, got %q", raw)
	}

	return FetchRequest{URL: q.Get("url"), Timeout: fetcher.TimeoutFromSeconds(sec)}, nil
}

// Handler serves the fetch endpoint.
type Handler struct {
	fetcher           schemas.PageFetcher
	logger            *zap.Logger
	metrics           *observability.Metrics
	abortOnDisconnect bool
}

// NewHandler creates the fetch handler. When abortOnDisconnect is false the
// fetch keeps running after the client goes away.
func NewHandler(f schemas.PageFetcher, logger *zap.Logger, metrics *observability.Metrics, abortOnDisconnect bool) *Handler {
	return &Handler{
		fetcher:           f,
		logger:            logger.Named("handler"),
		metrics:           metrics,
		abortOnDisconnect: abortOnDisconnect,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := ParseFetchRequest(r)
	if err != nil {
		h.respondWithError(w, r, "", err)
		return
	}

	ctx := r.Context()
	if !h.abortOnDisconnect {
		ctx = context.WithoutCancel(ctx)
	}

	html, err := h.fetcher.FetchRenderedSource(ctx, req.URL, req.Timeout)
	if err != nil {
		h.respondWithError(w, r, req.URL, err)
		return
	}

	// Content-Type is left to net/http's sniffing.
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(html)); err != nil {
		h.logger.Debug("Client went away before the body was written.", zap.String("url", req.URL), zap.Error(err))
	}
	h.metrics.ObserveHTTP(http.StatusOK)
}

// StatusCode maps an error to the response status.
func StatusCode(err error) int {
	switch schemas.KindOf(err) {
	case schemas.KindValidation:
		return http.StatusBadRequest
	case schemas.KindFetch:
		return http.StatusBadGateway
	case schemas.KindFatalLaunch:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, url string, err error) {
	code := StatusCode(err)
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("kind", string(schemas.KindOf(err))),
		zap.String("query", r.URL.RawQuery),
		zap.Error(err),
	}
	if url != "" {
		fields = append(fields, zap.String("url", url))
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("Fetch failed.", fields...)
	} else {
		h.logger.Warn("Fetch failed.", fields...)
	}

	http.Error(w, err.Error(), code)
	h.metrics.ObserveHTTP(code)
}
