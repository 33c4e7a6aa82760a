package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cotaai/quotepipe/internal/store"
)

type progressResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CheckpointTag string `json:"checkpoint_tag"`
	ProgressPct   int    `json:"progress_percentage"`
	StepDetail    string `json:"step_detail"`
	ErrorMessage  string `json:"error_message,omitempty"`
	MeanPrice     string `json:"mean_price,omitempty"`
	MinPrice      string `json:"min_price,omitempty"`
	MaxPrice      string `json:"max_price,omitempty"`
	SpreadPct     string `json:"spread_pct,omitempty"`
}

// handleProgress serves a read-only poll of a QuoteRequest's progress
// contract (spec §4.1): status, checkpoint tag, percentage, free-form
// detail.
func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quote request id"})
		return
	}

	qr, err := a.requests.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "quote request not found"})
		return
	}
	if err != nil {
		a.log.Error().Err(err).Str("quote_request_id", id.String()).Msg("failed to load quote request")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	resp := progressResponse{
		ID:            qr.ID.String(),
		Status:        string(qr.Status),
		CheckpointTag: string(qr.CheckpointTag),
		ProgressPct:   qr.ProgressPct,
		StepDetail:    qr.StepDetail,
		ErrorMessage:  qr.ErrorMessage,
	}
	if !qr.MeanPrice.IsZero() {
		resp.MeanPrice = qr.MeanPrice.String()
		resp.MinPrice = qr.MinPrice.String()
		resp.MaxPrice = qr.MaxPrice.String()
		resp.SpreadPct = qr.SpreadPct.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCancel marks a QuoteRequest CANCELLED (spec §5). The worker task
// itself is not forcibly killed; it observes the new status at its next
// checkpoint or candidate iteration and exits without overwriting it.
func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quote request id"})
		return
	}

	if err := a.requests.Cancel(r.Context(), id); err != nil {
		a.log.Error().Err(err).Str("quote_request_id", id.String()).Msg("failed to cancel quote request")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
