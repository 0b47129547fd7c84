package api

import (
	"net/http"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/id"
)

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	opts := alert.ListOpts{
		MerchantID:     queryParam(r, "merchant_id"),
		Unacknowledged: queryBool(r, "unacknowledged"),
		Offset:         queryInt(r, "offset", 0),
		Limit:          queryInt(r, "limit", 50),
	}

	alerts, err := h.alertSvc.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert ID")
		return
	}

	a, getErr := h.alertSvc.Get(r.Context(), alertID)
	if getErr != nil {
		writeServiceError(w, getErr)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ackAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert ID")
		return
	}

	if ackErr := h.alertSvc.Acknowledge(r.Context(), alertID); ackErr != nil {
		writeServiceError(w, ackErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replayAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := id.ParseAlertID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert ID")
		return
	}

	if replayErr := h.alertSvc.Replay(r.Context(), alertID, h.queue); replayErr != nil {
		writeServiceError(w, replayErr)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
