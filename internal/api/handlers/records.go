package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/assetstore"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/pipeline"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// MaxUploadBytes bounds a captured image.
const MaxUploadBytes = 20 << 20

// Capturer runs captures and retries. *pipeline.Orchestrator satisfies it.
type Capturer interface {
	Capture(ctx context.Context, tc tenant.Context, req pipeline.CaptureRequest) (*pipeline.CaptureResult, error)
	Retry(ctx context.Context, tc tenant.Context, recordID string) (*jobs.RecognizeReceiptJob, error)
}

type RecordsHandler struct {
	pipeline Capturer
	records  receipt.Repository
	assets   assetstore.Store
}

func NewRecordsHandler(p Capturer, records receipt.Repository, assets assetstore.Store) *RecordsHandler {
	return &RecordsHandler{pipeline: p, records: records, assets: assets}
}

func (h *RecordsHandler) Routes(r chi.Router) {
	r.Post("/", h.capture)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/image", h.image)
	r.Patch("/{id}", h.update)
	r.Post("/{id}/retry", h.retry)
	r.Delete("/{id}", h.delete)
}

func tenantOf(r *http.Request) (tenant.Context, error) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		return tenant.Context{}, tenant.ErrMissing
	}
	return tc, tc.Validate()
}

// capture handles POST /records with either a multipart "image" field or a
// raw image body.
func (h *RecordsHandler) capture(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	data, err := readImage(w, r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = receipt.SourceAPI
	}

	res, err := h.pipeline.Capture(r.Context(), tc, pipeline.CaptureRequest{Image: data, Source: source})
	if err != nil {
		writeError(w, log, err, "Failed to capture receipt")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, res)
}

func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("image field is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

func (h *RecordsHandler) list(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	q := r.URL.Query()
	filter := receipt.ListFilter{Status: receipt.Status(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	records, err := h.records.List(r.Context(), tc.ID, filter)
	if err != nil {
		writeError(w, log, err, "Failed to list records")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func (h *RecordsHandler) get(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	rec, err := h.records.Get(r.Context(), tc.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, log, err, "Failed to get record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

func (h *RecordsHandler) image(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	rec, err := h.records.Get(r.Context(), tc.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, log, err, "Failed to get record")
		return
	}
	data, err := h.assets.Fetch(r.Context(), rec.ImageRef)
	if err != nil {
		writeError(w, log, err, "Failed to fetch image")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type itemRequest struct {
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id"`
	Purpose    string          `json:"purpose"`
	Price      decimal.Decimal `json:"price"`
	IsAsset    bool            `json:"is_asset"`
}

type editRequest struct {
	MerchantName     string              `json:"merchant_name"`
	TotalAmount      decimal.Decimal     `json:"total_amount"`
	Tax              decimal.NullDecimal `json:"tax"`
	Currency         string              `json:"currency"`
	Date             civil.Date          `json:"date"`
	PaymentAccountID string              `json:"payment_account_id"`
	Items            []itemRequest       `json:"items"`
}

func (req editRequest) toEdit() (receipt.Edit, error) {
	edit := receipt.Edit{
		MerchantName:     strings.TrimSpace(req.MerchantName),
		TotalAmount:      req.TotalAmount,
		Tax:              req.Tax,
		Currency:         strings.ToUpper(strings.TrimSpace(req.Currency)),
		Date:             req.Date,
		PaymentAccountID: req.PaymentAccountID,
		Items:            make([]receipt.LineItem, 0, len(req.Items)),
	}

	switch {
	case edit.MerchantName == "":
		return edit, fmt.Errorf("merchant_name is required")
	case edit.TotalAmount.IsNegative():
		return edit, fmt.Errorf("total_amount must not be negative")
	case edit.Tax.Valid && edit.Tax.Decimal.IsNegative():
		return edit, fmt.Errorf("tax must not be negative")
	case len(edit.Currency) != 3:
		return edit, fmt.Errorf("currency must be a three letter code")
	case !edit.Date.IsValid():
		return edit, fmt.Errorf("date must be YYYY-MM-DD")
	}

	for i, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" {
			return edit, fmt.Errorf("items[%d].name is required", i)
		}
		if item.Price.IsNegative() {
			return edit, fmt.Errorf("items[%d].price must not be negative", i)
		}
		purpose := taxonomy.NameKey(item.Purpose)
		if purpose == "" {
			purpose = taxonomy.PurposePersonal
		}
		edit.Items = append(edit.Items, receipt.LineItem{
			Name:       strings.TrimSpace(item.Name),
			CategoryID: item.CategoryID,
			Purpose:    purpose,
			Price:      item.Price,
			IsAsset:    item.IsAsset,
		})
	}
	return edit, nil
}

// update handles PATCH /records/{id}: a hand edit that confirms the record.
func (h *RecordsHandler) update(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	edit, err := req.toEdit()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.records.Update(r.Context(), tc.ID, chi.URLParam(r, "id"), edit)
	if err != nil {
		writeError(w, log, err, "Failed to update record")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

func (h *RecordsHandler) retry(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	job, err := h.pipeline.Retry(r.Context(), tc, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, log, err, "Failed to retry record")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"record_id": job.RecordID,
		"job_id":    job.JobID,
		"status":    string(receipt.StatusProcessing),
	})
}

// delete removes the record, then its image on a best effort basis.
func (h *RecordsHandler) delete(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.records.Get(r.Context(), tc.ID, id)
	if err != nil {
		writeError(w, log, err, "Failed to delete record")
		return
	}
	if err := h.records.Delete(r.Context(), tc.ID, id); err != nil {
		writeError(w, log, err, "Failed to delete record")
		return
	}
	if err := h.assets.Delete(r.Context(), rec.ImageRef); err != nil {
		log.Warn().Err(err).Str("record_id", id).Str("image_ref", rec.ImageRef).Msg("Failed to delete receipt image")
	}

	w.WriteHeader(http.StatusNoContent)
}
