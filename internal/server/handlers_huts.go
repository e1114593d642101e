package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"sitehive/internal/database"
)

type hutRequest struct {
	Code string        `json:"code"`
	Name *string       `json:"name"`
	Meta database.Meta `json:"meta"`
}

type assignRequest struct {
	SiteCode *string `json:"siteCode"`
}

type assignResponse struct {
	Assignment *assignmentDTO `json:"assignment"`
}

func (s *Server) listHuts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	huts, err := s.store.ListHuts(ctx)
	if err != nil {
		s.fail(w, r, err, "failed to list huts")
		return
	}

	out := make([]hutDTO, 0, len(huts))
	for _, hut := range huts {
		dto, err := s.hutWithSite(r, hut)
		if err != nil {
			s.fail(w, r, err, "failed to list huts")
			return
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createHut(w http.ResponseWriter, r *http.Request) {
	var req hutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hut, err := s.store.CreateHut(r.Context(), database.HutInput{Code: req.Code, Name: req.Name, Meta: req.Meta}, s.now())
	if err != nil {
		s.fail(w, r, err, "failed to create hut")
		return
	}
	writeJSON(w, http.StatusCreated, toHutDTO(hut))
}

func (s *Server) getHut(w http.ResponseWriter, r *http.Request) {
	hut, err := s.store.FindHutByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err, "failed to fetch hut")
		return
	}

	dto, err := s.hutWithSite(r, hut)
	if err != nil {
		s.fail(w, r, err, "failed to fetch hut")
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) updateHut(w http.ResponseWriter, r *http.Request) {
	var req hutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hut, err := s.store.UpdateHut(r.Context(), mux.Vars(r)["code"], database.HutInput{Name: req.Name, Meta: req.Meta}, s.now())
	if err != nil {
		s.fail(w, r, err, "failed to update hut")
		return
	}

	dto, err := s.hutWithSite(r, hut)
	if err != nil {
		s.fail(w, r, err, "failed to fetch hut")
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) deleteHut(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteHut(r.Context(), mux.Vars(r)["code"]); err != nil {
		s.fail(w, r, err, "failed to delete hut")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assignHut(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	siteCode := ""
	if req.SiteCode != nil {
		siteCode = *req.SiteCode
	}

	a, err := s.ledger.AssignByCode(r.Context(), mux.Vars(r)["code"], siteCode)
	if err != nil {
		s.fail(w, r, err, "failed to assign hut")
		return
	}

	var resp assignResponse
	if a != nil {
		dto := toAssignmentDTO(*a)
		resp.Assignment = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listHutAssignments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hut, err := s.store.FindHutByCode(ctx, mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err, "failed to fetch hut")
		return
	}

	history, err := s.store.ListAssignmentsForHut(ctx, hut.ID)
	if err != nil {
		s.fail(w, r, err, "failed to list assignments")
		return
	}

	out := make([]assignmentDTO, 0, len(history))
	for _, a := range history {
		out = append(out, toAssignmentDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) hutWithSite(r *http.Request, hut database.Hut) (hutDTO, error) {
	dto := toHutDTO(hut)
	current, err := s.ledger.Current(r.Context(), hut.ID)
	if err != nil {
		return hutDTO{}, err
	}
	if current != nil {
		dto.CurrentSite = &current.SiteCode
	}
	return dto, nil
}
