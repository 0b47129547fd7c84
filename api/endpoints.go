package api

import (
	"net/http"

	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/id"
)

type endpointRequest struct {
	MerchantID  string            `json:"merchantId"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Secret      string            `json:"secret,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (req endpointRequest) input() endpoint.Input {
	return endpoint.Input{
		MerchantID:  req.MerchantID,
		URL:         req.URL,
		Description: req.Description,
		Secret:      req.Secret,
		Metadata:    req.Metadata,
	}
}

// endpointCreated exposes the signing secret once, at registration.
type endpointCreated struct {
	*endpoint.Endpoint
	Secret string `json:"secret"`
}

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, err := h.endpointSvc.Create(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, endpointCreated{Endpoint: ep, Secret: ep.Secret})
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	merchantID := queryParam(r, "merchant_id")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "merchant_id query parameter is required")
		return
	}

	opts := endpoint.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}

	eps, err := h.endpointSvc.List(r.Context(), merchantID, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eps)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	ep, getErr := h.endpointSvc.Get(r.Context(), epID)
	if getErr != nil {
		writeServiceError(w, getErr)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) activeEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := h.endpointSvc.Active(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	var req endpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, updateErr := h.endpointSvc.Update(r.Context(), epID, req.input())
	if updateErr != nil {
		writeServiceError(w, updateErr)
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *Handler) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if deleteErr := h.endpointSvc.Delete(r.Context(), epID); deleteErr != nil {
		writeServiceError(w, deleteErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *Handler) disableEndpoint(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	if setErr := h.endpointSvc.SetEnabled(r.Context(), epID, enabled); setErr != nil {
		writeServiceError(w, setErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return
	}

	newSecret, rotateErr := h.endpointSvc.RotateSecret(r.Context(), epID)
	if rotateErr != nil {
		writeServiceError(w, rotateErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": newSecret})
}
