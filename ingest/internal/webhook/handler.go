// Package webhook authenticates inbound webhook deliveries and hands the raw
// body to the ingest service.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/adamwolfe2/leadme-sub019/common/httputil"
	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/common/signature"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/ratelimit"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/service"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/tenant"
)

const DefaultMaxBodyBytes = 3 << 20

type Ingester interface {
	IngestWebhook(ctx context.Context, d service.Delivery) (*service.Summary, error)
}

type Options struct {
	MaxBodyBytes    int64
	SecretHeader    string
	SignatureHeader string
	AllowedHeaders  []string
}

type Handler struct {
	ingester Ingester
	secrets  *SecretStore
	limiter  ratelimit.RateLimiter
	opts     Options
	allowed  []string
	logger   *slog.Logger
}

// NewHandler builds the POST /webhooks/{source} handler. limiter may be nil.
func NewHandler(ingester Ingester, secrets *SecretStore, limiter ratelimit.RateLimiter, opts Options, logger *slog.Logger) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.SecretHeader == "" {
		opts.SecretHeader = "X-Webhook-Secret"
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-Webhook-Signature"
	}
	if limiter == nil {
		limiter = ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make([]string, 0, len(opts.AllowedHeaders))
	for _, h := range opts.AllowedHeaders {
		canonical := http.CanonicalHeaderKey(strings.TrimSpace(h))
		// credentials are never persisted even if misconfigured
		if canonical == "" || canonical == http.CanonicalHeaderKey(opts.SecretHeader) ||
			canonical == http.CanonicalHeaderKey(opts.SignatureHeader) || canonical == "Authorization" {
			continue
		}
		allowed = append(allowed, canonical)
	}

	return &Handler{
		ingester: ingester,
		secrets:  secrets,
		limiter:  limiter,
		opts:     opts,
		allowed:  allowed,
		logger:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := models.Source(strings.ToLower(r.PathValue("source")))
	status := h.handle(w, r, source)
	metrics.WebhookRequests.WithLabelValues(string(source), strconv.Itoa(status)).Inc()
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, source models.Source) int {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return fail(w, http.StatusMethodNotAllowed, "method not allowed")
	}
	if !source.IsWebhook() {
		return fail(w, http.StatusNotFound, "unknown webhook source")
	}
	if !httputil.IsJSONContentType(r.Header.Get("Content-Type")) {
		return fail(w, http.StatusUnsupportedMediaType, "content type must be application/json")
	}

	secret, ok := h.secrets.Lookup(string(source))
	if !ok {
		h.logger.ErrorContext(ctx, "webhook secret missing", logging.Source(string(source)))
		return fail(w, http.StatusInternalServerError, "webhook not configured")
	}

	body, err := httputil.ReadBody(r, h.opts.MaxBodyBytes)
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		return fail(w, http.StatusRequestEntityTooLarge, "payload too large")
	}
	if err != nil {
		return fail(w, http.StatusBadRequest, "could not read body")
	}

	if !h.authenticate(r, body, secret) {
		h.logger.WarnContext(ctx, "webhook authentication failed",
			logging.Source(string(source)), logging.IP(httputil.GetClientIP(r)))
		return fail(w, http.StatusUnauthorized, "unauthorized")
	}

	clientIP := httputil.GetClientIP(r)
	allowed, err := h.limiter.Allow(ctx, string(source), clientIP)
	if err != nil {
		// the limiter is advisory; Redis being down must not drop deliveries
		h.logger.WarnContext(ctx, "rate limiter unavailable", logging.Error(err))
	} else if !allowed {
		metrics.RateLimitHits.WithLabelValues(string(source)).Inc()
		return fail(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
	metrics.WebhookBytes.WithLabelValues(string(source)).Add(float64(len(body)))

	summary, err := h.ingester.IngestWebhook(ctx, service.Delivery{
		Source:  source,
		Body:    body,
		Headers: h.keepHeaders(r.Header),
	})
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, summary)
		return http.StatusOK
	case errors.Is(err, tenant.ErrUnresolved), errors.Is(err, tenant.ErrAmbiguous):
		h.logger.WarnContext(ctx, "webhook tenant not resolved",
			logging.Source(string(source)), logging.Error(err))
		return fail(w, http.StatusBadRequest, "tenant could not be resolved")
	case errors.Is(err, service.ErrMalformedPayload):
		return fail(w, http.StatusBadRequest, "malformed payload")
	default:
		h.logger.ErrorContext(ctx, "webhook ingestion failed",
			logging.Source(string(source)), logging.Error(err))
		return fail(w, http.StatusInternalServerError, "internal error")
	}
}

// authenticate accepts either the shared-secret header or an HMAC signature
// of the raw body. The caller only learns that both failed.
func (h *Handler) authenticate(r *http.Request, body []byte, secret string) bool {
	if presented := r.Header.Get(h.opts.SecretHeader); presented != "" && signature.SecretEqual(presented, secret) {
		return true
	}
	if sig := r.Header.Get(h.opts.SignatureHeader); sig != "" && signature.Verify(secret, body, sig) {
		return true
	}
	return false
}

func (h *Handler) keepHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(h.allowed))
	for _, name := range h.allowed {
		if values := header.Values(name); len(values) > 0 {
			out[name] = strings.Join(values, ", ")
		}
	}
	return out
}

func fail(w http.ResponseWriter, status int, msg string) int {
	httputil.WriteError(w, status, msg)
	return status
}
