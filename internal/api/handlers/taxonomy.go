package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
)

type TaxonomyHandler struct {
	repo     taxonomy.Repository
	defaults taxonomy.Defaults
}

func NewTaxonomyHandler(repo taxonomy.Repository, defaults taxonomy.Defaults) *TaxonomyHandler {
	return &TaxonomyHandler{repo: repo, defaults: defaults}
}

func (h *TaxonomyHandler) Routes(r chi.Router) {
	r.Post("/seed", h.seed)
	r.Route("/{kind}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Post("/merge", h.merge)
		r.Get("/merges", h.merges)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

func kindOf(r *http.Request) (taxonomy.Kind, error) {
	kind, err := taxonomy.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", taxonomy.ErrInvalidKind, err)
	}
	return kind, nil
}

func (h *TaxonomyHandler) list(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}
	kind, err := kindOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	entities, err := h.repo.List(r.Context(), tc.ID, kind)
	if err != nil {
		writeError(w, log, err, "Failed to list entities")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entities": entities,
		"count":    len(entities),
	})
}

type entityRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func (h *TaxonomyHandler) create(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}
	kind, err := kindOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	color := ""
	if req.Color != nil {
		color = *req.Color
	}

	entity, err := h.repo.Create(r.Context(), tc.ID, kind, *req.Name, color)
	if err != nil {
		writeError(w, log, err, "Failed to create entity")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, entity)
}

// update renames and/or recolors one entity. The entity must belong to the
// kind in the path.
func (h *TaxonomyHandler) update(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}
	kind, err := kindOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Name == nil && req.Color == nil) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	entity, err := h.repo.Get(r.Context(), tc.ID, id)
	if err == nil && entity.Kind != kind {
		err = taxonomy.ErrNotFound
	}
	if err != nil {
		writeError(w, log, err, "Failed to update entity")
		return
	}

	if req.Name != nil {
		if entity, err = h.repo.Rename(r.Context(), tc.ID, id, *req.Name); err != nil {
			writeError(w, log, err, "Failed to rename entity")
			return
		}
	}
	if req.Color != nil {
		if err := h.repo.SetColor(r.Context(), tc.ID, id, *req.Color); err != nil {
			writeError(w, log, err, "Failed to set color")
			return
		}
		entity.Color = *req.Color
	}
	middleware.WriteJSON(w, http.StatusOK, entity)
}

func (h *TaxonomyHandler) delete(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}
	kind, err := kindOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	id := chi.URLParam(r, "id")
	entity, err := h.repo.Get(r.Context(), tc.ID, id)
	if err == nil && entity.Kind != kind {
		err = taxonomy.ErrNotFound
	}
	if err == nil {
		err = h.repo.Delete(r.Context(), tc.ID, id)
	}
	if err != nil {
		writeError(w, log, err, "Failed to delete entity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mergeRequest struct {
	SourceIDs []string `json:"source_ids"`
	TargetID  string   `json:"target_id"`
}

func (h *TaxonomyHandler) merge(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}
	kind, err := kindOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := taxonomy.ValidateMerge(req.SourceIDs, req.TargetID); err != nil {
		writeError(w, log, err, "")
		return
	}

	if err := h.repo.Merge(r.Context(), tc.ID, kind, req.SourceIDs, req.TargetID); err != nil {
		writeError(w, log, err, "Failed to merge entities")
		return
	}
	log.Info().Str("kind", string(kind)).Strs("source_ids", req.SourceIDs).Str("target_id", req.TargetID).Msg("Merged taxonomy entities")

	target, err := h.repo.Get(r.Context(), tc.ID, req.TargetID)
	if err != nil {
		writeError(w, log, err, "Failed to load merge target")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, target)
}

func (h *TaxonomyHandler) merges(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}
	kind, err := kindOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}

	history, err := h.repo.MergeHistory(r.Context(), tc.ID, kind)
	if err != nil {
		writeError(w, log, err, "Failed to load merge history")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"merges": history,
		"count":  len(history),
	})
}

// seed inserts whatever built-in entities the tenant is missing.
func (h *TaxonomyHandler) seed(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	tc, err := tenantOf(r)
	if err != nil {
		writeError(w, log, err, "")
		return
	}
	if err := h.repo.Seed(r.Context(), tc.ID, h.defaults); err != nil {
		writeError(w, log, err, "Failed to seed defaults")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
