package server

import (
	"net/http"
	"strings"

	"sitehive/internal/ingest"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var batch ingest.Batch
	if !decodeJSON(w, r, &batch) {
		return
	}
	if err := ingest.ValidateBatch(batch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch.Key = ingestKey(r)
	result, err := s.ingest.Ingest(r.Context(), batch)
	if err != nil {
		s.fail(w, r, err, "failed to ingest batch")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb ingest.Heartbeat
	if !decodeJSON(w, r, &hb) {
		return
	}
	if err := ingest.ValidateHeartbeat(hb); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hb.Key = ingestKey(r)
	result, err := s.ingest.Heartbeat(r.Context(), hb)
	if err != nil {
		s.fail(w, r, err, "failed to record heartbeat")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type bootstrapRequest struct {
	HutCode string `json:"hutCode"`
}

type bootstrapResponse struct {
	Hut        hutDTO         `json:"hut"`
	Assignment *assignmentDTO `json:"assignment"`
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hutCode := strings.TrimSpace(req.HutCode)
	if hutCode == "" {
		writeError(w, http.StatusBadRequest, "hutCode is required")
		return
	}

	// the hut may not be placed yet, so only the global key applies
	if err := s.ingest.Authorize(nil, ingestKey(r)); err != nil {
		s.fail(w, r, err, "failed to authorize bootstrap")
		return
	}

	result, err := s.ingest.Bootstrap(r.Context(), hutCode)
	if err != nil {
		s.fail(w, r, err, "failed to bootstrap agent")
		return
	}

	resp := bootstrapResponse{Hut: toHutDTO(result.Hut)}
	if result.Assignment != nil {
		dto := toAssignmentDTO(*result.Assignment)
		resp.Assignment = &dto
		resp.Hut.CurrentSite = &dto.SiteCode
	}
	writeJSON(w, http.StatusOK, resp)
}
