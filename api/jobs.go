package api

import (
	"net/http"

	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/record"
)

type jobResponse struct {
	Job    *delivery.Job         `json:"job"`
	Record *record.DeliveryEvent `json:"record,omitempty"`
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, rec, err := h.queue.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job, Record: rec})
}

func (h *Handler) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.queue.RetryWebhook(r.Context(), jobID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "queued"})
}

func (h *Handler) getQueueMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.queue.GetQueueMetrics(r.Context(), queryParam(r, "merchant_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
