package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwolfe2/leadme-sub019/common/tokens"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/auth"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dispatch"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/dlq"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/events"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/idempotency"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/importer"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leadindex"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/leads"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/partner"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/routing"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/service"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/tenant"
)

type fakeImporter struct {
	resp   *importer.Response
	err    error
	gotWS  string
	gotReq importer.Request
	job    *models.ImportJob
}

func (f *fakeImporter) Import(_ context.Context, ws string, req importer.Request) (*importer.Response, error) {
	f.gotWS, f.gotReq = ws, req
	return f.resp, f.err
}

func (f *fakeImporter) Status(_ context.Context, ws, id string) (*models.ImportJob, error) {
	if f.job == nil || f.job.ID != id || f.job.WorkspaceID != ws {
		return nil, repository.ErrNotFound
	}
	return f.job, nil
}

type fakeSearcher struct {
	gotWS, gotQuery string
	gotSize         int
}

func (f *fakeSearcher) Search(_ context.Context, ws, q string, size int) (*leadindex.SearchResult, error) {
	f.gotWS, f.gotQuery, f.gotSize = ws, q, size
	return &leadindex.SearchResult{Total: 1, Leads: []map[string]any{{"email": "ann@acme.io"}}}, nil
}

type harness struct {
	h       *Handler
	repo    *repository.InMemoryRepository
	events  *events.Recorder
	imports *fakeImporter
	search  *fakeSearcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	rec := &events.Recorder{}
	engine := routing.NewEngine(repo, rec, nil)
	writer := leads.NewWriter(repo, nil, rec, nil, nil)
	disp := dispatch.NewInlineDispatcher(engine, nil, nil)
	dead, err := dlq.NewQueue(t.TempDir(), nil)
	require.NoError(t, err)

	svc := service.NewIngestService(service.Deps{
		Store:      repo,
		Ledger:     idempotency.NewLedger(repo),
		Resolver:   tenant.NewResolver(repo),
		Writer:     writer,
		Dispatcher: disp,
		Router:     engine,
	})
	hs := &harness{repo: repo, events: rec, imports: &fakeImporter{}, search: &fakeSearcher{}}
	hs.h = New(Deps{
		Ingester: svc,
		Importer: hs.imports,
		Store:    repo,
		Uploader: partner.NewUploader(repo, writer, disp, dead, 4, 100, nil),
		Ledger:   partner.NewLedger(repo, nil),
		Keys:     partner.NewKeyVerifier(repo),
		Search:   hs.search,
		DLQ:      dead,
	})
	return hs
}

// call invokes fn as workspace ws would through the router.
func call(fn http.HandlerFunc, method, target, body, ws string, path ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if ws != "" {
		req = req.WithContext(auth.WithClaims(req.Context(), &tokens.Claims{WorkspaceID: ws}))
	}
	for i := 0; i+1 < len(path); i += 2 {
		req.SetPathValue(path[i], path[i+1])
	}
	rr := httptest.NewRecorder()
	fn(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

func TestHealth(t *testing.T) {
	hs := newHarness(t)
	rr := call(hs.h.Health, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"healthy"`)
}

func TestReady(t *testing.T) {
	hs := newHarness(t)
	rr := call(hs.h.Ready, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	decodeBody(t, rr, &body)
	assert.Equal(t, "ready", body["status"])
	assert.Contains(t, body, "ingestion")
	assert.Contains(t, body, "dlq")
}

type fakeBroker bool

func (f fakeBroker) IsConnected() bool { return bool(f) }

func TestReady_Broker(t *testing.T) {
	hs := newHarness(t)

	hs.h.broker = fakeBroker(true)
	rr := call(hs.h.Ready, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"broker":{"connected":true}`)

	hs.h.broker = fakeBroker(false)
	rr = call(hs.h.Ready, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not connected to message broker")
}

func TestCreateLeads(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, hs.repo.UpsertRule(context.Background(), &models.TargetingRule{
		WorkspaceID: "ws-1", RecipientID: "user-1", RecipientKind: models.RecipientUser, IsActive: true,
		Industries: []string{"solar"},
	}))

	rr := call(hs.h.CreateLeads, http.MethodPost, "/api/v1/leads",
		`{"leads":[{"email":"ann@sun.io","industry":"Solar"},{"email":"broken@"}],"auto_route":true}`, "ws-1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp service.ManualResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Stored)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"user-1"}, resp.Results[0].AssignedTo)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestCreateLeads_Rejections(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, hs.repo.UpsertTenantMapping(context.Background(), &models.TenantMapping{
		Kind: models.MappingPixel, ExternalID: "px-other", WorkspaceID: "ws-2",
	}))

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"not json content", "text/plain", `{"lead":{"email":"a@b.io"}}`, http.StatusUnsupportedMediaType},
		{"malformed", "application/json", `{"lead":`, http.StatusBadRequest},
		{"neither lead nor leads", "application/json", `{"auto_route":true}`, http.StatusBadRequest},
		{"empty leads", "application/json", `{"leads":[]}`, http.StatusBadRequest},
		{"foreign pixel", "application/json", `{"lead":{"email":"a@b.io","pixel_id":"px-other"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/leads", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			req = req.WithContext(auth.WithClaims(req.Context(), &tokens.Claims{WorkspaceID: "ws-1"}))
			rr := httptest.NewRecorder()
			hs.h.CreateLeads(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
	assert.Equal(t, 0, hs.repo.CountLeads("ws-1"))
}

func TestCreateLeads_ValidationListsFields(t *testing.T) {
	hs := newHarness(t)
	rr := call(hs.h.CreateLeads, http.MethodPost, "/api/v1/leads", `{"leads":[{}],"source_type":7}`, "ws-1")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	decodeBody(t, rr, &body)
	assert.Equal(t, "validation failed", body.Error)
	assert.NotEmpty(t, body.Fields)
}

func TestSearchLeads(t *testing.T) {
	hs := newHarness(t)
	rr := call(hs.h.SearchLeads, http.MethodGet, "/api/v1/leads/search?q=acme&size=5", "", "ws-1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ws-1", hs.search.gotWS)
	assert.Equal(t, "acme", hs.search.gotQuery)
	assert.Equal(t, 5, hs.search.gotSize)

	hs.h.search = nil
	rr = call(hs.h.SearchLeads, http.MethodGet, "/api/v1/leads/search?q=acme", "", "ws-1")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCreateImport(t *testing.T) {
	hs := newHarness(t)
	hs.imports.resp = &importer.Response{JobID: "job-1", Status: models.ImportCompleted, TotalRows: 3}

	rr := call(hs.h.CreateImport, http.MethodPost, "/api/v1/imports",
		`{"fileUrl":"https://files.example.com/a.csv","audienceId":"aud-1"}`, "ws-1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "ws-1", hs.imports.gotWS)
	assert.Equal(t, "ws-1", hs.imports.gotReq.WorkspaceID)
	assert.Equal(t, "aud-1", hs.imports.gotReq.AudienceID)
	assert.Contains(t, rr.Body.String(), `"job_id":"job-1"`)
}

func TestCreateImport_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"foreign workspace", `{"fileUrl":"https://x.io/a.csv","workspaceId":"ws-2"}`, nil, http.StatusForbidden},
		{"missing url", `{"audienceId":"a"}`, nil, http.StatusBadRequest},
		{"not http", `{"fileUrl":"ftp://x.io/a.csv"}`, nil, http.StatusBadRequest},
		{"in progress", `{"fileUrl":"https://x.io/a.csv"}`, importer.ErrInProgress, http.StatusConflict},
		{"unparseable", `{"fileUrl":"https://x.io/a.csv"}`, importer.ErrUnparseable, http.StatusUnprocessableEntity},
		{"no rows", `{"fileUrl":"https://x.io/a.csv"}`, importer.ErrNoRows, http.StatusBadRequest},
		{"too many rows", `{"fileUrl":"https://x.io/a.csv"}`, fmt.Errorf("%w: 9 rows", importer.ErrTooManyRows), http.StatusBadRequest},
		{"download", `{"fileUrl":"https://x.io/a.csv"}`, fmt.Errorf("%w: 503", importer.ErrDownload), http.StatusBadGateway},
		{"unexpected", `{"fileUrl":"https://x.io/a.csv"}`, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t)
			hs.imports.err = tt.err
			rr := call(hs.h.CreateImport, http.MethodPost, "/api/v1/imports", tt.body, "ws-1")
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, rr.Body.String(), "db down")
			}
		})
	}
}

func TestGetImport(t *testing.T) {
	hs := newHarness(t)
	hs.imports.job = &models.ImportJob{ID: "job-1", WorkspaceID: "ws-1", Status: models.ImportProcessing, TotalRows: 10}

	rr := call(hs.h.GetImport, http.MethodGet, "/api/v1/imports/job-1", "", "ws-1", "id", "job-1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"job-1"`)

	rr = call(hs.h.GetImport, http.MethodGet, "/api/v1/imports/job-1", "", "ws-2", "id", "job-1")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// createPartner goes through the API and returns the partner and its key.
func createPartner(t *testing.T, hs *harness, ws string, rate float64) (*models.Partner, string) {
	t.Helper()
	rr := call(hs.h.CreatePartner, http.MethodPost, "/api/v1/partners",
		fmt.Sprintf(`{"name":"Acme Referrals","commissionRate":%g}`, rate), ws)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp struct {
		Partner *models.Partner `json:"partner"`
		APIKey  string          `json:"api_key"`
	}
	decodeBody(t, rr, &resp)
	require.NotNil(t, resp.Partner)
	require.True(t, strings.HasPrefix(resp.APIKey, "pk_"+resp.Partner.ID+"_"))
	assert.NotContains(t, rr.Body.String(), "api_key_hash")
	return resp.Partner, resp.APIKey
}

func uploadRequest(t *testing.T, key, csv string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/partners/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	return req
}

func TestCreatePartner_Validation(t *testing.T) {
	hs := newHarness(t)
	rr := call(hs.h.CreatePartner, http.MethodPost, "/api/v1/partners", `{"name":"x","commissionRate":1.5}`, "ws-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadPartnerLeads(t *testing.T) {
	hs := newHarness(t)
	p, key := createPartner(t, hs, "ws-1", 0.1)

	rr := httptest.NewRecorder()
	hs.h.UploadPartnerLeads(rr, uploadRequest(t, key, "email,company\nann@acme.io,Acme\nnot-an-email,Nope\nbob@acme.io,Acme\n"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res partner.UploadResult
	decodeBody(t, rr, &res)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Stored)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)

	stored, err := hs.repo.GetPartner(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.LeadsUploaded)
	assert.Equal(t, 2, hs.repo.CountLeads("ws-1"))
}

func TestUploadPartnerLeads_Rejections(t *testing.T) {
	hs := newHarness(t)
	p, key := createPartner(t, hs, "ws-1", 0.1)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"no key", uploadRequest(t, "", "email\na@b.io\n"), http.StatusUnauthorized},
		{"wrong secret", uploadRequest(t, "pk_"+p.ID+"_deadbeef", "email\na@b.io\n"), http.StatusUnauthorized},
		{"unknown partner", uploadRequest(t, "pk_nobody_deadbeef", "email\na@b.io\n"), http.StatusUnauthorized},
		{"no rows", uploadRequest(t, key, "email\n"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			hs.h.UploadPartnerLeads(rr, tt.req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/partners/uploads", strings.NewReader("email\na@b.io\n"))
		req.Header.Set("Content-Type", "text/csv")
		req.Header.Set(APIKeyHeader, key)
		rr := httptest.NewRecorder()
		hs.h.UploadPartnerLeads(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
	assert.Equal(t, 0, hs.repo.CountLeads("ws-1"))
}

func TestCommissionFlow(t *testing.T) {
	hs := newHarness(t)
	p, key := createPartner(t, hs, "ws-1", 0.1)

	rr := httptest.NewRecorder()
	hs.h.UploadPartnerLeads(rr, uploadRequest(t, key, "email\nann@acme.io\n"))
	require.Equal(t, http.StatusOK, rr.Code)
	created := hs.events.Events(events.LeadCreated)
	require.Len(t, created, 1)
	leadID := created[0].LeadID

	body := fmt.Sprintf(`{"leadId":%q,"billingEventId":"inv-1","saleAmount":1000}`, leadID)
	rr = call(hs.h.RecordCommission, http.MethodPost, "/api/v1/partners/commissions", body, "ws-1")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var rec models.CommissionRecord
	decodeBody(t, rr, &rec)
	assert.Equal(t, int64(100000), rec.SaleAmount)
	assert.Equal(t, int64(10000), rec.CommissionAmount)

	rr = call(hs.h.RecordCommission, http.MethodPost, "/api/v1/partners/commissions", body, "ws-1")
	require.Equal(t, http.StatusOK, rr.Code)
	var again models.CommissionRecord
	decodeBody(t, rr, &again)
	assert.Equal(t, rec.ID, again.ID)

	rr = call(hs.h.CorrectCommission, http.MethodPost, "/api/v1/partners/commissions/x/corrections",
		`{"saleAmount":800,"reason":"partial refund"}`, "ws-1", "id", rec.ID)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var corr models.CommissionRecord
	decodeBody(t, rr, &corr)
	assert.Equal(t, int64(-20000), corr.SaleAmount)
	assert.Equal(t, int64(-2000), corr.CommissionAmount)
	require.NotNil(t, corr.CorrectsID)
	assert.Equal(t, rec.ID, *corr.CorrectsID)

	rr = call(hs.h.CorrectCommission, http.MethodPost, "/api/v1/partners/commissions/x/corrections",
		`{"saleAmount":800,"reason":"again"}`, "ws-1", "id", rec.ID)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(hs.h.ListCommissions, http.MethodGet, "/api/v1/partners/x/commissions", "", "ws-1", "id", p.ID)
	require.Equal(t, http.StatusOK, rr.Code)
	var st partner.Statement
	decodeBody(t, rr, &st)
	assert.Len(t, st.Records, 2)
	assert.Equal(t, int64(80000), st.SalesCents)
	assert.Equal(t, int64(8000), st.BalanceCents)

	rr = call(hs.h.ListCommissions, http.MethodGet, "/api/v1/partners/x/commissions", "", "ws-2", "id", p.ID)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRecordCommission_Errors(t *testing.T) {
	hs := newHarness(t)
	lead := &models.Lead{WorkspaceID: "ws-1", Email: "direct@acme.io", Source: models.SourceManualAPI}
	_, err := hs.repo.UpsertLead(context.Background(), lead)
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown lead", `{"leadId":"missing","billingEventId":"b1","saleAmount":10}`, http.StatusNotFound},
		{"lead without partner", fmt.Sprintf(`{"leadId":%q,"billingEventId":"b2","saleAmount":10}`, lead.ID), http.StatusBadRequest},
		{"negative sale", fmt.Sprintf(`{"leadId":%q,"billingEventId":"b3","saleAmount":-1}`, lead.ID), http.StatusBadRequest},
		{"missing billing event", fmt.Sprintf(`{"leadId":%q,"saleAmount":10}`, lead.ID), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := call(hs.h.RecordCommission, http.MethodPost, "/api/v1/partners/commissions", tt.body, "ws-1")
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestTargeting(t *testing.T) {
	hs := newHarness(t)
	path := []string{"kind", "user", "recipientId", "user-1"}

	rr := call(hs.h.GetTargeting, http.MethodGet, "/api/v1/targeting/user/user-1", "", "ws-1", path...)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(hs.h.PutTargeting, http.MethodPost, "/api/v1/targeting/user/user-1",
		`{"industries":["Solar Energy"],"states":["California"," "],"postalCodes":["94103-1234"],"dailyCap":5,"weeklyCap":20}`,
		"ws-1", path...)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rule, err := hs.repo.GetRule(context.Background(), "ws-1", models.RecipientUser, "user-1")
	require.NoError(t, err)
	assert.True(t, rule.IsActive)
	assert.Equal(t, []string{"CA"}, rule.States)
	assert.Len(t, rule.Industries, 1)
	require.NotNil(t, rule.DailyCap)
	assert.Equal(t, 5, *rule.DailyCap)
	assert.Nil(t, rule.MonthlyCap)

	rr = call(hs.h.GetTargeting, http.MethodGet, "/api/v1/targeting/user/user-1", "", "ws-1", path...)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"recipient_id":"user-1"`)

	rr = call(hs.h.GetTargeting, http.MethodGet, "/api/v1/targeting/user/user-1", "", "ws-2", path...)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPutTargeting_Bounds(t *testing.T) {
	many := func(n int, f string) string {
		vals := make([]string, n)
		for i := range vals {
			vals[i] = fmt.Sprintf(`"`+f+`"`, i)
		}
		return "[" + strings.Join(vals, ",") + "]"
	}

	tests := []struct {
		name string
		kind string
		body string
		want int
	}{
		{"unknown kind", "team", `{}`, http.StatusNotFound},
		{"101 cities", "user", `{"cities":` + many(101, "city-%d") + `}`, http.StatusBadRequest},
		{"100 cities", "user", `{"cities":` + many(100, "city-%d") + `}`, http.StatusOK},
		{"201 postal codes", "user", `{"postalCodes":` + many(201, "9%04d") + `}`, http.StatusBadRequest},
		{"61 states", "user", `{"states":` + many(61, "s%d") + `}`, http.StatusBadRequest},
		{"51 industries", "client_profile", `{"industries":` + many(51, "i%d") + `}`, http.StatusBadRequest},
		{"cap too large", "user", `{"dailyCap":100001}`, http.StatusBadRequest},
		{"negative cap", "user", `{"weeklyCap":-1}`, http.StatusBadRequest},
		{"daily above weekly", "user", `{"dailyCap":10,"weeklyCap":5}`, http.StatusBadRequest},
		{"weekly above monthly", "user", `{"weeklyCap":50,"monthlyCap":40}`, http.StatusBadRequest},
		{"null caps", "user", `{"dailyCap":null,"monthlyCap":10}`, http.StatusOK},
		{"unknown field", "user", `{"budget":10}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t)
			rr := call(hs.h.PutTargeting, http.MethodPost, "/api/v1/targeting/"+tt.kind+"/r-1", tt.body,
				"ws-1", "kind", tt.kind, "recipientId", "r-1")
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestCreateTenantMapping(t *testing.T) {
	hs := newHarness(t)
	rr := call(hs.h.CreateTenantMapping, http.MethodPost, "/api/v1/tenant-mappings",
		`{"kind":"pixel","externalId":" px-9 "}`, "ws-1")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	ws, err := hs.repo.WorkspacesForExternalID(context.Background(), models.MappingPixel, "px-9")
	require.NoError(t, err)
	assert.Equal(t, []string{"ws-1"}, ws)

	rr = call(hs.h.CreateTenantMapping, http.MethodPost, "/api/v1/tenant-mappings",
		`{"kind":"domain","externalId":"x"}`, "ws-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
