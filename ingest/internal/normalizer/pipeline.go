package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

// recordArrayKeys name the wrapper arrays a batch delivery may use.
var recordArrayKeys = []string{"events", "leads", "data", "records", "contacts"}

// Decode parses a JSON body keeping numbers as json.Number so ids survive.
func Decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode payload: trailing data after JSON value")
	}
	return v, nil
}

// Split breaks a decoded payload into records: a top-level array, an object
// wrapping an array under one of recordArrayKeys, or a single object.
func Split(payload any) ([]any, error) {
	switch t := payload.(type) {
	case []any:
		return t, nil
	case map[string]any:
		for _, key := range recordArrayKeys {
			if arr, ok := t[key].([]any); ok {
				return arr, nil
			}
		}
		return []any{t}, nil
	}
	return nil, ErrNotObject
}

// Pipeline normalizes and cleans single records.
type Pipeline struct {
	registry *Registry
	now      func() time.Time
}

func NewPipeline(registry *Registry) *Pipeline {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Pipeline{registry: registry, now: time.Now}
}

// Normalize maps item onto a canonical lead stamped with source. The
// workspace is left for the caller.
func (p *Pipeline) Normalize(item any, source models.Source) (*models.Lead, error) {
	rec, ok := item.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	n := p.registry.Find(rec)
	if n == nil {
		metrics.NormalizationErrors.WithLabelValues("unrecognized").Inc()
		return nil, ErrUnrecognizedShape
	}

	start := time.Now()
	lead, err := n.Normalize(rec)
	metrics.NormalizationDuration.WithLabelValues(n.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.NormalizationErrors.WithLabelValues("shape").Inc()
		return nil, fmt.Errorf("%s: %w", n.Name(), err)
	}

	if err := Clean(lead); err != nil {
		metrics.NormalizationErrors.WithLabelValues("invalid_email").Inc()
		return nil, err
	}
	if !hasAnyField(lead) {
		metrics.NormalizationErrors.WithLabelValues("empty").Inc()
		return nil, ErrNoFields
	}

	now := p.now().UTC()
	lead.Source = source
	lead.EnrichmentStatus = models.EnrichmentPending
	lead.DeliveryStatus = models.DeliveryPending
	lead.Eligible = lead.HasIdentity()
	lead.CreatedAt, lead.UpdatedAt = now, now
	if len(lead.RawExtras) == 0 {
		lead.RawExtras = nil
	}
	metrics.RecordsNormalized.WithLabelValues(n.Name()).Inc()
	return lead, nil
}

func hasAnyField(l *models.Lead) bool {
	return l.HasIdentity() || l.FullName != "" || l.LinkedInURL != "" || l.CompanyName != ""
}
