package leadindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

const maxSearchSize = 100

type SearchResult struct {
	Total int              `json:"total"`
	Leads []map[string]any `json:"leads"`
}

// Search runs a free-text query over the leads of workspaceID. An empty
// query lists the most recent leads.
func (ix *Indexer) Search(ctx context.Context, workspaceID, query string, size int) (*SearchResult, error) {
	if size <= 0 || size > maxSearchSize {
		size = 20
	}

	must := []any{}
	if q := strings.TrimSpace(query); q != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"full_name^2", "email^3", "company_name^2", "company_domain", "city", "state", "company_industry"},
				"type":   "best_fields",
			},
		})
	}
	body, err := json.Marshal(map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"must":   must,
				"filter": []any{map[string]any{"term": map[string]any{"workspace_id": workspaceID}}},
			},
		},
		"sort":             []any{"_score", map[string]any{"created_at": map[string]any{"order": "desc", "unmapped_type": "date"}}},
		"track_total_hits": true,
	})
	if err != nil {
		return nil, err
	}

	res, err := opensearchapi.SearchRequest{
		Index: []string{ix.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, ix.client)
	if err != nil {
		return nil, fmt.Errorf("search leads: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search leads: %s - %s", res.Status(), string(b))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := &SearchResult{Total: parsed.Hits.Total.Value, Leads: make([]map[string]any, 0, len(parsed.Hits.Hits))}
	for _, h := range parsed.Hits.Hits {
		delete(h.Source, "raw_extras")
		out.Leads = append(out.Leads, h.Source)
	}
	return out, nil
}
