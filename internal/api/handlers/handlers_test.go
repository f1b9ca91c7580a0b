package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/api"
	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/assetstore"
	assetmem "github.com/dvloznov/receipt-capture/internal/assetstore/inmemory"
	"github.com/dvloznov/receipt-capture/internal/database/databasetest"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	jobsmem "github.com/dvloznov/receipt-capture/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/pipeline"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	receiptstore "github.com/dvloznov/receipt-capture/internal/receipt/store"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	taxonomystore "github.com/dvloznov/receipt-capture/internal/taxonomy/store"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

const spaceID = "space-1"

type fakeCapturer struct {
	captured []pipeline.CaptureRequest
	tenants  []tenant.Context
	retryErr error
}

func (f *fakeCapturer) Capture(_ context.Context, tc tenant.Context, req pipeline.CaptureRequest) (*pipeline.CaptureResult, error) {
	if len(req.Image) == 0 {
		return nil, pipeline.ErrEmptyImage
	}
	f.captured = append(f.captured, req)
	f.tenants = append(f.tenants, tc)
	return &pipeline.CaptureResult{RecordID: "rec-1", JobID: "job-1", Status: receipt.StatusProcessing, Bytes: len(req.Image)}, nil
}

func (f *fakeCapturer) Retry(_ context.Context, tc tenant.Context, recordID string) (*jobs.RecognizeReceiptJob, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return &jobs.RecognizeReceiptJob{JobID: "job-2", TenantID: tc.ID, RecordID: recordID}, nil
}

type server struct {
	handler  http.Handler
	capturer *fakeCapturer
	records  *receiptstore.Store
	taxonomy *taxonomystore.Store
	assets   *assetmem.Store
	jobs     *jobsmem.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := databasetest.New(t)
	defaults, err := taxonomy.LoadDefaults()
	require.NoError(t, err)

	s := &server{
		capturer: &fakeCapturer{},
		records:  receiptstore.NewStore(db),
		taxonomy: taxonomystore.NewStore(db),
		assets:   assetmem.NewStore("receipts"),
		jobs:     jobsmem.NewStore(),
	}
	s.handler = api.NewRouter(api.RouterConfig{
		Log:         logger.Nop(),
		Pipeline:    s.capturer,
		Records:     s.records,
		Taxonomy:    s.taxonomy,
		Defaults:    defaults,
		Assets:      s.assets,
		Jobs:        s.jobs,
		Tenant:      middleware.TenantOptions{DefaultCurrency: "CNY", AllowHeader: true},
		CORSOrigins: []string{"*"},
	})
	return s
}

func (s *server) do(t *testing.T, method, path, space string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if space != "" {
		req.Header.Set(middleware.TenantHeader, space)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	return s.do(t, method, path, spaceID, r, "application/json")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

// seedRecord stores an image and creates a processing record pointing at it.
func (s *server) seedRecord(t *testing.T, tenantID string) (string, []byte) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	image := []byte("\xff\xd8\xff\xe0 fake jpeg")

	uri, err := s.assets.UploadTemp(ctx, image, assetstore.TempKey(tenantID, now), "image/jpeg")
	require.NoError(t, err)
	id, err := s.records.Create(ctx, tenantID, receipt.NewDraft(uri, "CNY", receipt.SourceAPI, now))
	require.NoError(t, err)
	return id, image
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecords_RequireTenant(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/api/records", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecords_CaptureMultipart(t *testing.T) {
	s := newServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "receipt.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := s.do(t, http.MethodPost, "/api/records", spaceID, &body, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res pipeline.CaptureResult
	decode(t, rec, &res)
	assert.Equal(t, "rec-1", res.RecordID)
	assert.Equal(t, receipt.StatusProcessing, res.Status)

	require.Len(t, s.capturer.captured, 1)
	assert.Equal(t, []byte("jpeg bytes"), s.capturer.captured[0].Image)
	assert.Equal(t, receipt.SourceAPI, s.capturer.captured[0].Source)
	assert.Equal(t, tenant.New(spaceID, "CNY"), s.capturer.tenants[0])
}

func TestRecords_CaptureRawBody(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/records?source=cli", spaceID, bytes.NewReader([]byte("png bytes")), "image/png")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, s.capturer.captured, 1)
	assert.Equal(t, receipt.SourceCLI, s.capturer.captured[0].Source)
}

func TestRecords_CaptureRejectsEmptyImage(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/api/records", spaceID, http.NoBody, "image/jpeg")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no image"))
	require.NoError(t, mw.Close())
	rec = s.do(t, http.MethodPost, "/api/records", spaceID, &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.capturer.captured)
}

func TestRecords_Lifecycle(t *testing.T) {
	s := newServer(t)
	id, image := s.seedRecord(t, spaceID)

	rec := s.doJSON(t, http.MethodGet, "/api/records/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got receipt.Record
	decode(t, rec, &got)
	assert.Equal(t, receipt.StatusProcessing, got.Status)
	assert.Equal(t, receipt.PlaceholderMerchant, got.MerchantName)

	rec = s.do(t, http.MethodGet, "/api/records/"+id, "space-2", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(t, http.MethodGet, "/api/records/"+id+"/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, image, rec.Body.Bytes())

	rec = s.doJSON(t, http.MethodPatch, "/api/records/"+id, map[string]any{
		"merchant_name": "Cafe Luna",
		"total_amount":  "12.50",
		"tax":           nil,
		"currency":      "eur",
		"date":          "2024-03-01",
		"items": []map[string]any{
			{"name": "Latte", "price": "5.50"},
			{"name": "Bagel", "price": "7.00", "purpose": "Business"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &got)
	assert.Equal(t, receipt.StatusConfirmed, got.Status)
	assert.Equal(t, "Cafe Luna", got.MerchantName)
	assert.Equal(t, "EUR", got.Currency)
	require.Len(t, got.Items, 2)
	assert.Equal(t, taxonomy.PurposePersonal, got.Items[0].Purpose)
	assert.Equal(t, taxonomy.PurposeBusiness, got.Items[1].Purpose)

	rec = s.doJSON(t, http.MethodGet, "/api/records?status=confirmed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = s.doJSON(t, http.MethodDelete, "/api/records/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, s.assets.Keys())

	rec = s.doJSON(t, http.MethodGet, "/api/records/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecords_UpdateValidation(t *testing.T) {
	s := newServer(t)
	id, _ := s.seedRecord(t, spaceID)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing merchant", map[string]any{"total_amount": "1", "currency": "CNY", "date": "2024-03-01"}},
		{"negative total", map[string]any{"merchant_name": "x", "total_amount": "-1", "currency": "CNY", "date": "2024-03-01"}},
		{"bad currency", map[string]any{"merchant_name": "x", "total_amount": "1", "currency": "EURO", "date": "2024-03-01"}},
		{"missing date", map[string]any{"merchant_name": "x", "total_amount": "1", "currency": "CNY"}},
		{"unnamed item", map[string]any{"merchant_name": "x", "total_amount": "1", "currency": "CNY", "date": "2024-03-01",
			"items": []map[string]any{{"name": " ", "price": "1"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.doJSON(t, http.MethodPatch, "/api/records/"+id, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := s.doJSON(t, http.MethodGet, "/api/records?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecords_UpdateRejectsOtherTenantCategory(t *testing.T) {
	s := newServer(t)
	id, _ := s.seedRecord(t, spaceID)

	body, err := json.Marshal(map[string]string{"name": "Food"})
	require.NoError(t, err)
	rec := s.do(t, http.MethodPost, "/api/taxonomy/categories", "space-2", bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var foreign taxonomy.Entity
	decode(t, rec, &foreign)

	edit := func(categoryID string) map[string]any {
		return map[string]any{
			"merchant_name": "Cafe Luna",
			"total_amount":  "5.50",
			"currency":      "CNY",
			"date":          "2024-03-01",
			"items":         []map[string]any{{"name": "Latte", "price": "5.50", "category_id": categoryID}},
		}
	}

	rec = s.doJSON(t, http.MethodPatch, "/api/records/"+id, edit(foreign.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = s.doJSON(t, http.MethodPatch, "/api/records/"+id, edit("no-such-category"))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = s.doJSON(t, http.MethodGet, "/api/records/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got receipt.Record
	decode(t, rec, &got)
	assert.Equal(t, receipt.StatusProcessing, got.Status)
}

func TestRecords_Retry(t *testing.T) {
	s := newServer(t)

	rec := s.doJSON(t, http.MethodPost, "/api/records/rec-9/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "job-2", body["job_id"])
	assert.Equal(t, "rec-9", body["record_id"])

	s.capturer.retryErr = receipt.ErrStatusConflict
	rec = s.doJSON(t, http.MethodPost, "/api/records/rec-9/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.capturer.retryErr = errors.New("queue is closed")
	rec = s.doJSON(t, http.MethodPost, "/api/records/rec-9/retry", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTaxonomy_CRUDAndMerge(t *testing.T) {
	s := newServer(t)

	rec := s.doJSON(t, http.MethodPost, "/api/taxonomy/categories", map[string]string{"name": "Food"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var food taxonomy.Entity
	decode(t, rec, &food)
	assert.Equal(t, taxonomy.KindCategory, food.Kind)
	assert.Equal(t, taxonomy.DefaultColor, food.Color)

	rec = s.doJSON(t, http.MethodPost, "/api/taxonomy/categories", map[string]string{"name": " FOOD "})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.doJSON(t, http.MethodPost, "/api/taxonomy/categories", map[string]string{"name": "Snacks"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var snacks taxonomy.Entity
	decode(t, rec, &snacks)

	rec = s.doJSON(t, http.MethodPatch, "/api/taxonomy/categories/"+food.ID, map[string]string{"name": "Food & Drink", "color": "#FF0000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var renamed taxonomy.Entity
	decode(t, rec, &renamed)
	assert.Equal(t, "Food & Drink", renamed.Name)
	assert.Equal(t, "#FF0000", renamed.Color)

	rec = s.doJSON(t, http.MethodPatch, "/api/taxonomy/purposes/"+food.ID, map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(t, http.MethodPost, "/api/taxonomy/categories/merge", map[string]any{"source_ids": []string{food.ID}, "target_id": food.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.doJSON(t, http.MethodPost, "/api/taxonomy/categories/merge", map[string]any{"source_ids": []string{snacks.ID}, "target_id": food.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.doJSON(t, http.MethodGet, "/api/taxonomy/categories/merges", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Merges []taxonomy.MergeRecord `json:"merges"`
	}
	decode(t, rec, &history)
	require.Len(t, history.Merges, 1)
	assert.Equal(t, "Snacks", history.Merges[0].SourceName)
	assert.Equal(t, food.ID, history.Merges[0].TargetID)

	rec = s.doJSON(t, http.MethodGet, "/api/taxonomy/categories", nil)
	var list struct {
		Entities []taxonomy.Entity `json:"entities"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Entities, 1)

	rec = s.doJSON(t, http.MethodDelete, "/api/taxonomy/categories/"+food.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.doJSON(t, http.MethodGet, "/api/taxonomy/widgets", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaxonomy_Seed(t *testing.T) {
	s := newServer(t)

	for i := 0; i < 2; i++ {
		rec := s.doJSON(t, http.MethodPost, "/api/taxonomy/seed", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := s.doJSON(t, http.MethodGet, "/api/taxonomy/purposes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Entities []taxonomy.Entity `json:"entities"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Entities, 2)
	for _, e := range list.Entities {
		assert.True(t, e.IsDefault)
	}

	rec = s.doJSON(t, http.MethodDelete, "/api/taxonomy/purposes/"+list.Entities[0].ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobs_TenantScoped(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.jobs.SaveJob(ctx, &jobs.RecognizeReceiptJob{JobID: "j1", TenantID: spaceID, RecordID: "r1", Status: jobs.JobStatusCompleted, CreatedAt: now}))
	require.NoError(t, s.jobs.SaveJob(ctx, &jobs.RecognizeReceiptJob{JobID: "j2", TenantID: "space-2", RecordID: "r2", Status: jobs.JobStatusPending, CreatedAt: now}))

	rec := s.doJSON(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Jobs []jobs.RecognizeReceiptJob `json:"jobs"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "j1", list.Jobs[0].JobID)

	rec = s.doJSON(t, http.MethodGet, "/api/jobs/j1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.doJSON(t, http.MethodGet, "/api/jobs/j2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
