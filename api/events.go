package api

import (
	"net/http"

	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/record"
)

type enqueueEventRequest struct {
	MerchantID string         `json:"merchantId"`
	Payload    *event.Payload `json:"payload"`
}

// enqueueEvent queues a payload for the merchant's active endpoint.
func (h *Handler) enqueueEvent(w http.ResponseWriter, r *http.Request) {
	var req enqueueEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MerchantID == "" {
		writeError(w, http.StatusBadRequest, "merchantId is required")
		return
	}

	ep, err := h.endpointSvc.Active(r.Context(), req.MerchantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	handle, err := h.queue.AddToQueue(r.Context(), ep, req.Payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, handle)
}

func listOpts(r *http.Request) record.ListOpts {
	return record.ListOpts{
		MerchantID: queryParam(r, "merchant_id"),
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", record.DefaultListLimit),
	}
}

func (h *Handler) listFailed(w http.ResponseWriter, r *http.Request) {
	events, err := h.queue.GetFailedWebhookEvents(r.Context(), listOpts(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	events, err := h.queue.GetPendingWebhookEvents(r.Context(), listOpts(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
