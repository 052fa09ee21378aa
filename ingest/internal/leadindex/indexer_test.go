package leadindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/events"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

// fakeCluster answers the handful of OpenSearch endpoints the indexer uses.
type fakeCluster struct {
	mu          sync.Mutex
	indexExists bool
	created     map[string]any
	actions     []map[string]any
	docs        []map[string]any
	rejectIDs   map[string]bool
	searchBody  map[string]any
	failBulk    bool
}

func newFakeCluster(t *testing.T) (*fakeCluster, *httptest.Server) {
	t.Helper()
	fc := &fakeCluster{rejectIDs: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		fmt.Fprint(w, `{"version":{"number":"2.11.0","distribution":"opensearch"}}`)

	case r.Method == http.MethodHead && r.URL.Path == "/leadme-leads":
		if fc.indexExists {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPut && r.URL.Path == "/leadme-leads":
		_ = json.NewDecoder(r.Body).Decode(&fc.created)
		fc.indexExists = true
		fmt.Fprint(w, `{"acknowledged":true,"index":"leadme-leads"}`)

	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		if fc.failBulk {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":"unavailable"}`)
			return
		}
		fc.bulk(w, r.Body)

	case strings.HasSuffix(r.URL.Path, "/_search"):
		_ = json.NewDecoder(r.Body).Decode(&fc.searchBody)
		fmt.Fprint(w, `{"hits":{"total":{"value":1},"hits":[{"_source":{"id":"lead-1","email":"ann@sun.io","raw_extras":{"x":1}}}]}}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"unexpected %s %s"}`, r.Method, r.URL.Path)
	}
}

func (fc *fakeCluster) bulk(w http.ResponseWriter, body io.Reader) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var items []map[string]any
	for sc.Scan() {
		var action map[string]map[string]any
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			continue
		}
		if !sc.Scan() {
			break
		}
		var doc map[string]any
		_ = json.Unmarshal(sc.Bytes(), &doc)

		for op, meta := range action {
			fc.actions = append(fc.actions, map[string]any{"op": op, "id": meta["_id"]})
			fc.docs = append(fc.docs, doc)
			id, _ := meta["_id"].(string)
			result := map[string]any{"_index": "leadme-leads", "_id": id, "status": 201}
			if fc.rejectIDs[id] {
				result["status"] = 400
				result["error"] = map[string]any{"type": "mapper_parsing_exception", "reason": "bad field"}
			}
			items = append(items, map[string]any{op: result})
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": false, "items": items})
}

func newIndexer(t *testing.T, url string) *Indexer {
	t.Helper()
	ix, err := NewIndexer(Config{URL: url}, nil)
	require.NoError(t, err)
	return ix
}

func sampleLead(id string) *models.Lead {
	return &models.Lead{
		ID: id, WorkspaceID: "ws-1", Email: id + "@sun.io", FullName: "Ann Sun",
		CompanyIndustry: "solar", State: "CA", Source: models.SourcePixel,
		CreatedAt: time.Now().UTC(),
	}
}

func TestInitialize_CreatesIndexOnce(t *testing.T) {
	fc, srv := newFakeCluster(t)
	ix := newIndexer(t, srv.URL)

	require.NoError(t, ix.Initialize(context.Background()))
	require.NotNil(t, fc.created)
	props := fc.created["mappings"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "keyword", props["workspace_id"].(map[string]any)["type"])

	fc.created = nil
	require.NoError(t, ix.Initialize(context.Background()))
	assert.Nil(t, fc.created, "existing index is left alone")
}

func TestApply_CreatedAndRouted(t *testing.T) {
	fc, srv := newFakeCluster(t)
	ix := newIndexer(t, srv.URL)

	lead := sampleLead("lead-1")
	routed := events.New(events.LeadRouted, lead)
	routed.Recipients = []events.Recipient{{ID: "user-1", Kind: models.RecipientUser}}

	res, err := ix.Apply(context.Background(), events.New(events.LeadCreated, lead), routed)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Zero(t, res.Failed)

	require.Len(t, fc.actions, 2)
	assert.Equal(t, "index", fc.actions[0]["op"])
	assert.Equal(t, "lead-1", fc.actions[0]["id"])
	assert.Equal(t, "lead-1@sun.io", fc.docs[0]["email"])

	assert.Equal(t, "update", fc.actions[1]["op"])
	assert.Equal(t, true, fc.docs[1]["doc_as_upsert"])
	doc := fc.docs[1]["doc"].(map[string]any)
	assert.Equal(t, []any{"user-1"}, doc["recipients"])
	assert.Equal(t, "delivered", doc["delivery_status"])
}

func TestApply_PartialRejection(t *testing.T) {
	fc, srv := newFakeCluster(t)
	fc.rejectIDs["bad"] = true
	ix := newIndexer(t, srv.URL)

	res, err := ix.Apply(context.Background(),
		events.New(events.LeadCreated, sampleLead("good")),
		events.New(events.LeadCreated, sampleLead("bad")),
		events.Event{Type: events.LeadCreated},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Errors, 2)
}

func TestHandle(t *testing.T) {
	fc, srv := newFakeCluster(t)
	ix := newIndexer(t, srv.URL)

	data, err := json.Marshal(events.New(events.LeadCreated, sampleLead("lead-7")))
	require.NoError(t, err)
	require.NoError(t, ix.Handle(context.Background(), &messaging.Message{Subject: messaging.SubjectLeadCreated, Data: data}))
	assert.Len(t, fc.actions, 1)

	assert.NoError(t, ix.Handle(context.Background(), &messaging.Message{Data: []byte("{nope")}), "malformed events are dropped")

	fc.mu.Lock()
	fc.failBulk = true
	fc.mu.Unlock()
	assert.Error(t, ix.Handle(context.Background(), &messaging.Message{Data: data}), "transport failures are redelivered")
}

func TestSearch(t *testing.T) {
	fc, srv := newFakeCluster(t)
	ix := newIndexer(t, srv.URL)

	res, err := ix.Search(context.Background(), "ws-1", "solar", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Leads, 1)
	assert.Equal(t, "ann@sun.io", res.Leads[0]["email"])
	assert.NotContains(t, res.Leads[0], "raw_extras")

	assert.Equal(t, float64(20), fc.searchBody["size"])
	query := fc.searchBody["query"].(map[string]any)["bool"].(map[string]any)
	filter := query["filter"].([]any)[0].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "ws-1", filter["workspace_id"], "search is always scoped to the workspace")
}
