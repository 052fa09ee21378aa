// Package leadindex mirrors leads into OpenSearch from the lead event stream
// and serves workspace-scoped search over them.
package leadindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/adamwolfe2/leadme-sub019/common/logging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/common/messaging/nats"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/events"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/metrics"
)

type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	Index         string
}

// Result counts the outcome of one bulk request.
type Result struct {
	Indexed int
	Failed  int
	Errors  []string
}

type Indexer struct {
	client *opensearch.Client
	index  string
	logger *slog.Logger
}

func NewIndexer(cfg Config, logger *slog.Logger) (*Indexer, error) {
	if cfg.Index == "" {
		cfg.Index = "leadme-leads"
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify} //nolint:gosec // opt-in for local clusters

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &Indexer{client: client, index: cfg.Index, logger: logger}, nil
}

// Initialize checks the connection and creates the index with its mappings
// when it does not exist yet.
func (ix *Indexer) Initialize(ctx context.Context) error {
	info, err := opensearchapi.InfoRequest{}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	exists, err := opensearchapi.IndicesExistsRequest{Index: []string{ix.index}}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
			"refresh_interval":   "5s",
		},
		"mappings": leadMappings(),
	})
	if err != nil {
		return err
	}
	res, err := opensearchapi.IndicesCreateRequest{Index: ix.index, Body: bytes.NewReader(body)}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && !alreadyExists(res) {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index %s: %s - %s", ix.index, res.Status(), string(b))
	}
	ix.logger.InfoContext(ctx, "lead index ready", slog.String("index", ix.index))
	return nil
}

func alreadyExists(res *opensearchapi.Response) bool {
	if res.StatusCode != http.StatusBadRequest {
		return false
	}
	b, _ := io.ReadAll(res.Body)
	return bytes.Contains(b, []byte("resource_already_exists_exception"))
}

func leadMappings() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	text := map[string]any{
		"type":   "text",
		"fields": map[string]any{"keyword": map[string]any{"type": "keyword", "ignore_above": 256}},
	}
	date := map[string]any{"type": "date"}
	return map[string]any{
		"dynamic": true,
		"properties": map[string]any{
			"id":                keyword,
			"workspace_id":      keyword,
			"email":             keyword,
			"phone":             keyword,
			"first_name":        text,
			"last_name":         text,
			"full_name":         text,
			"company_name":      text,
			"company_domain":    keyword,
			"company_industry":  keyword,
			"city":              text,
			"state":             keyword,
			"postal_code":       keyword,
			"country":           keyword,
			"source":            keyword,
			"partner_id":        keyword,
			"delivery_status":   keyword,
			"enrichment_status": keyword,
			"eligible":          map[string]any{"type": "boolean"},
			"recipients":        keyword,
			"created_at":        date,
			"updated_at":        date,
			"routed_at":         date,
			"raw_extras":        map[string]any{"type": "object", "enabled": false},
		},
	}
}

// Apply writes events to the index in one bulk request. lead.created
// replaces the document; lead.routed merges routing state into it.
// Documents are keyed by lead id so replays are harmless.
func (ix *Indexer) Apply(ctx context.Context, evs ...events.Event) (*Result, error) {
	res := &Result{}
	// callbacks run on the bulk indexer's workers
	var (
		mu       sync.Mutex
		flushErr error
	)
	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: ix.client,
		Index:  ix.index,
		OnError: func(_ context.Context, err error) {
			mu.Lock()
			flushErr = errors.Join(flushErr, err)
			mu.Unlock()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	for _, ev := range evs {
		item, err := bulkItem(ev)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		item.OnSuccess = func(context.Context, opensearchutil.BulkIndexerItem, opensearchutil.BulkIndexerResponseItem) {
			mu.Lock()
			res.Indexed++
			mu.Unlock()
		}
		item.OnFailure = func(_ context.Context, _ opensearchutil.BulkIndexerItem, r opensearchutil.BulkIndexerResponseItem, err error) {
			if err == nil {
				err = fmt.Errorf("%s: %s", r.Error.Type, r.Error.Reason)
			}
			mu.Lock()
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			mu.Unlock()
		}
		if err := bi.Add(ctx, item); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("failed to add to bulk indexer: %v", err))
		}
	}

	closeErr := bi.Close(ctx)
	metrics.LeadIndexOps.WithLabelValues("indexed").Add(float64(res.Indexed))
	metrics.LeadIndexOps.WithLabelValues("failed").Add(float64(res.Failed))
	if err := errors.Join(closeErr, flushErr); err != nil {
		return res, fmt.Errorf("bulk index: %w", err)
	}
	return res, nil
}

func bulkItem(ev events.Event) (opensearchutil.BulkIndexerItem, error) {
	if ev.LeadID == "" {
		return opensearchutil.BulkIndexerItem{}, errors.New("event has no lead id")
	}

	switch ev.Type {
	case events.LeadCreated:
		if ev.Lead == nil {
			return opensearchutil.BulkIndexerItem{}, fmt.Errorf("lead.created %s carries no lead", ev.ID)
		}
		data, err := json.Marshal(ev.Lead)
		if err != nil {
			return opensearchutil.BulkIndexerItem{}, fmt.Errorf("marshal lead: %w", err)
		}
		return opensearchutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: ev.LeadID,
			Body:       bytes.NewReader(data),
		}, nil

	case events.LeadRouted:
		ids := make([]string, 0, len(ev.Recipients))
		for _, r := range ev.Recipients {
			ids = append(ids, r.ID)
		}
		doc := map[string]any{
			"workspace_id":    ev.WorkspaceID,
			"delivery_status": "delivered",
			"recipients":      ids,
			"routed_at":       ev.OccurredAt.Format(time.RFC3339Nano),
		}
		data, err := json.Marshal(map[string]any{"doc": doc, "doc_as_upsert": true})
		if err != nil {
			return opensearchutil.BulkIndexerItem{}, err
		}
		return opensearchutil.BulkIndexerItem{
			Action:     "update",
			DocumentID: ev.LeadID,
			Body:       bytes.NewReader(data),
		}, nil
	}
	return opensearchutil.BulkIndexerItem{}, fmt.Errorf("unsupported event type %q", ev.Type)
}

// Handle indexes one event taken from the lead event stream. Transport
// errors are returned so the broker redelivers; rejected documents are
// logged and acknowledged.
func (ix *Indexer) Handle(ctx context.Context, msg *messaging.Message) error {
	var ev events.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		ix.logger.ErrorContext(ctx, "dropping malformed lead event", logging.Error(err))
		return nil
	}
	res, err := ix.Apply(ctx, ev)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		ix.logger.WarnContext(ctx, "lead event not indexed",
			logging.WorkspaceID(ev.WorkspaceID),
			logging.LeadID(ev.LeadID),
			slog.String("errors", strings.Join(res.Errors, "; ")))
	}
	return nil
}

type consumer interface {
	CreateOrUpdateStream(ctx context.Context, cfg nats.StreamConfig) error
	Consume(ctx context.Context, stream string, cfg nats.ConsumerConfig, handler messaging.MessageHandler) (func(), error)
}

// Start binds the indexer to the lead event stream.
func (ix *Indexer) Start(ctx context.Context, js consumer) (func(), error) {
	if err := js.CreateOrUpdateStream(ctx, nats.LeadEventsStream); err != nil {
		return nil, err
	}
	cfg := nats.DefaultConsumerConfig(messaging.QueueLeadIndexers, "leads.events.>")
	return js.Consume(ctx, nats.LeadEventsStream.Name, cfg, ix.Handle)
}
