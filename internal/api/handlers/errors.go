package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/assetstore"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/pipeline"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// writeError maps domain errors onto HTTP statuses. Unexpected errors are
// logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	var se *assetstore.StorageError
	switch {
	case errors.Is(err, tenant.ErrMissing):
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, receipt.ErrNotFound),
		errors.Is(err, taxonomy.ErrNotFound),
		errors.Is(err, jobs.ErrJobNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, receipt.ErrStatusConflict),
		errors.Is(err, taxonomy.ErrDefaultEntity),
		errors.Is(err, taxonomy.ErrDuplicateName):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, taxonomy.ErrInvalidMerge),
		errors.Is(err, taxonomy.ErrEmptyName),
		errors.Is(err, taxonomy.ErrInvalidKind),
		errors.Is(err, receipt.ErrInvalidStatus),
		errors.Is(err, receipt.ErrInvalidReference),
		errors.Is(err, pipeline.ErrEmptyImage):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &se):
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusBadGateway, msg)
	default:
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}
