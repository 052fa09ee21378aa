// Package normalizer turns heterogeneous sender payloads into canonical leads.
//
// A Registry holds shape normalizers in priority order; the first whose
// Supports returns true maps the record. The Pipeline then cleans fields and
// decides eligibility. Records no shape recognizes are reported with
// ErrUnrecognizedShape so callers can park them for manual reconciliation.
package normalizer

import (
	"errors"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

var (
	ErrUnrecognizedShape = errors.New("unrecognized payload shape")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrNoFields          = errors.New("no recognizable lead fields")
	ErrNotObject         = errors.New("record is not a JSON object")
)

// Normalizer maps one payload shape onto lead fields. Cleaning happens later.
type Normalizer interface {
	Name() string
	Supports(rec map[string]any) bool
	Normalize(rec map[string]any) (*models.Lead, error)
}

// Registry holds ordered normalizers and finds a match for a record.
type Registry struct {
	items []Normalizer
}

func NewRegistry(items ...Normalizer) *Registry {
	return &Registry{items: items}
}

// DefaultRegistry returns the built-in shapes, most specific first.
func DefaultRegistry() *Registry {
	return NewRegistry(
		MailEnvelopeNormalizer{},
		CloudMailerNormalizer{},
		FlatNormalizer{},
		GenericNormalizer{},
	)
}

// Find returns the first normalizer that supports rec, or nil.
func (r *Registry) Find(rec map[string]any) Normalizer {
	if r == nil {
		return nil
	}
	for _, n := range r.items {
		if n.Supports(rec) {
			return n
		}
	}
	return nil
}
