// Package tenant decides which workspace owns an inbound event. It never
// guesses: anything short of exactly one candidate is rejected.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

var (
	// ErrUnresolved means no strategy produced a workspace.
	ErrUnresolved = errors.New("tenant unresolved")
	// ErrAmbiguous means more than one workspace could own the event.
	ErrAmbiguous = errors.New("tenant ambiguous")
)

// PixelHeader carries the pixel id for senders that do not embed it.
const PixelHeader = "X-Pixel-Id"

// MappingStore looks up the workspaces bound to an external identifier.
type MappingStore interface {
	WorkspacesForExternalID(ctx context.Context, kind models.MappingKind, externalID string) ([]string, error)
}

// Identifier is an external id found on an event.
type Identifier struct {
	Kind       models.MappingKind
	ExternalID string
}

// Input is everything the resolver may look at.
type Input struct {
	// Payload is the decoded JSON body.
	Payload any
	// PixelID is the value of the X-Pixel-Id header, if any.
	PixelID string
	// CallerWorkspace is the workspace of an authenticated first-party caller.
	CallerWorkspace string
}

type Resolver struct {
	store MappingStore
}

func NewResolver(store MappingStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve tries the mapping table first, then the caller's own workspace.
// A mapped identifier that disagrees with the caller's workspace is ambiguous.
func (r *Resolver) Resolve(ctx context.Context, in Input) (string, error) {
	ids := Identifiers(in.Payload, in.PixelID)
	if len(ids) > 1 {
		return "", fmt.Errorf("%w: %d distinct external identifiers", ErrAmbiguous, len(ids))
	}

	if len(ids) == 1 {
		id := ids[0]
		workspaces, err := r.store.WorkspacesForExternalID(ctx, id.Kind, id.ExternalID)
		if err != nil {
			return "", fmt.Errorf("lookup %s mapping: %w", id.Kind, err)
		}
		switch len(workspaces) {
		case 0:
		case 1:
			if in.CallerWorkspace != "" && in.CallerWorkspace != workspaces[0] {
				return "", fmt.Errorf("%w: %s id is bound to another workspace", ErrAmbiguous, id.Kind)
			}
			return workspaces[0], nil
		default:
			return "", fmt.Errorf("%w: %s id is bound to %d workspaces", ErrAmbiguous, id.Kind, len(workspaces))
		}
	}

	if in.CallerWorkspace != "" {
		return in.CallerWorkspace, nil
	}
	return "", ErrUnresolved
}

var identifierKeys = map[string]models.MappingKind{
	"pixel_id":    models.MappingPixel,
	"pixelid":     models.MappingPixel,
	"audience_id": models.MappingAudience,
	"audienceid":  models.MappingAudience,
	"campaign_id": models.MappingCampaign,
	"campaignid":  models.MappingCampaign,
}

var recordArrayKeys = []string{"events", "leads", "data", "records", "contacts"}

// Identifiers collects the distinct external ids on a payload: top-level
// keys, keys of each record in a batch, and the pixel header.
func Identifiers(payload any, pixelHeader string) []Identifier {
	seen := make(map[Identifier]struct{})
	if v := strings.TrimSpace(pixelHeader); v != "" {
		seen[Identifier{models.MappingPixel, v}] = struct{}{}
	}

	var visitRecord func(v any, depth int)
	visitRecord = func(v any, depth int) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				visitRecord(item, depth)
			}
		case map[string]any:
			for k, raw := range t {
				kind, ok := identifierKeys[strings.ToLower(k)]
				if !ok {
					continue
				}
				if s := scalarString(raw); s != "" {
					seen[Identifier{kind, s}] = struct{}{}
				}
			}
			if depth > 0 {
				return
			}
			for _, key := range recordArrayKeys {
				if arr, ok := t[key].([]any); ok {
					visitRecord(arr, depth+1)
				}
			}
		}
	}
	visitRecord(payload, 0)

	out := make([]Identifier, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
