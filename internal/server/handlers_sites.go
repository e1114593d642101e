package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"sitehive/internal/database"
	"sitehive/internal/miners"
)

type createSiteRequest struct {
	Code              string             `json:"code"`
	Name              *string            `json:"name"`
	Type              *database.SiteType `json:"type"`
	Timezone          *string            `json:"timezone"`
	Meta              database.Meta      `json:"meta"`
	IngestKey         *string            `json:"ingestKey"`
	GenerateIngestKey bool               `json:"generateIngestKey"`
}

type updateSiteRequest struct {
	Name            *string            `json:"name"`
	Type            *database.SiteType `json:"type"`
	Timezone        *string            `json:"timezone"`
	Meta            database.Meta      `json:"meta"`
	IngestKey       *string            `json:"ingestKey"`
	RotateIngestKey bool               `json:"rotateIngestKey"`
}

func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListSites(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to list sites")
		return
	}

	out := make([]siteDTO, 0, len(sites))
	for _, site := range sites {
		out = append(out, toSiteDTO(site))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateTimezone(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := database.SiteInput{
		Code:      req.Code,
		Name:      req.Name,
		Type:      req.Type,
		Timezone:  req.Timezone,
		Meta:      req.Meta,
		IngestKey: req.IngestKey,
	}
	if req.GenerateIngestKey {
		key := uuid.NewString()
		input.IngestKey = &key
	}

	site, err := s.store.CreateSite(r.Context(), input, s.now())
	if err != nil {
		s.fail(w, r, err, "failed to create site")
		return
	}

	dto := toSiteDTO(site)
	if site.IngestKey != nil {
		dto.IngestKey = *site.IngestKey
	}
	writeJSON(w, http.StatusCreated, dto)
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	site, err := s.store.FindSiteByCode(ctx, mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err, "failed to fetch site")
		return
	}

	dto := toSiteDTO(site)
	if err := s.attachCurrentHut(r, &dto); err != nil {
		s.fail(w, r, err, "failed to fetch site")
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) updateSite(w http.ResponseWriter, r *http.Request) {
	var req updateSiteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateTimezone(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := database.SiteInput{
		Name:      req.Name,
		Type:      req.Type,
		Timezone:  req.Timezone,
		Meta:      req.Meta,
		IngestKey: req.IngestKey,
	}
	if req.RotateIngestKey {
		key := uuid.NewString()
		input.IngestKey = &key
	}

	site, err := s.store.UpdateSite(r.Context(), mux.Vars(r)["code"], input, s.now())
	if err != nil {
		s.fail(w, r, err, "failed to update site")
		return
	}

	dto := toSiteDTO(site)
	if req.RotateIngestKey && site.IngestKey != nil {
		dto.IngestKey = *site.IngestKey
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) deleteSite(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSite(r.Context(), mux.Vars(r)["code"]); err != nil {
		s.fail(w, r, err, "failed to delete site")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSiteDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	site, err := s.store.FindSiteByCode(ctx, mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err, "failed to fetch site")
		return
	}

	var kind *database.DeviceKind
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		k := database.DeviceKind(strings.ToUpper(raw))
		if !k.Valid() {
			writeError(w, http.StatusBadRequest, "unknown device kind")
			return
		}
		kind = &k
	}

	rows, err := s.store.ListDeviceStatuses(ctx, site.ID, kind)
	if err != nil {
		s.fail(w, r, err, "failed to list devices")
		return
	}

	out := make([]deviceDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDeviceDTO(row))
	}
	writeJSON(w, http.StatusOK, out)
}

// siteMiners loads the site's miners and deduplicates them by IP.
func (s *Server) siteMiners(r *http.Request, siteID int64) ([]miners.Record, error) {
	kind := database.DeviceKindMiner
	rows, err := s.store.ListDeviceStatuses(r.Context(), siteID, &kind)
	if err != nil {
		return nil, err
	}

	records, unreadable := miners.FromDevices(rows)
	if unreadable > 0 {
		s.logger(r).Warn("miners with unreadable status payload", "site_id", siteID, "count", unreadable)
	}
	return miners.Dedupe(records), nil
}

func (s *Server) listSiteMiners(w http.ResponseWriter, r *http.Request) {
	site, err := s.store.FindSiteByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err, "failed to fetch site")
		return
	}

	records, err := s.siteMiners(r, site.ID)
	if err != nil {
		s.fail(w, r, err, "failed to list miners")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type siteSummaryDTO struct {
	Site    siteDTO        `json:"site"`
	Miners  miners.Summary `json:"miners"`
	Devices map[string]int `json:"devices"`
}

func (s *Server) getSiteSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	site, err := s.store.FindSiteByCode(ctx, mux.Vars(r)["code"])
	if err != nil {
		s.fail(w, r, err, "failed to fetch site")
		return
	}

	devices, err := s.store.ListDevices(ctx, site.ID)
	if err != nil {
		s.fail(w, r, err, "failed to list devices")
		return
	}
	counts := make(map[string]int)
	for _, d := range devices {
		counts[string(d.Kind)]++
	}

	records, err := s.siteMiners(r, site.ID)
	if err != nil {
		s.fail(w, r, err, "failed to list miners")
		return
	}

	dto := toSiteDTO(site)
	if err := s.attachCurrentHut(r, &dto); err != nil {
		s.fail(w, r, err, "failed to fetch site")
		return
	}

	writeJSON(w, http.StatusOK, siteSummaryDTO{
		Site:    dto,
		Miners:  miners.Summarize(records),
		Devices: counts,
	})
}

func (s *Server) listDeviceMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device id")
		return
	}
	if _, err := s.store.GetDevice(ctx, id); err != nil {
		s.fail(w, r, err, "failed to fetch device")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
	}

	if r.URL.Query().Get("resolution") == "hourly" {
		rollups, err := s.store.ListHourly(ctx, id, since)
		if err != nil {
			s.fail(w, r, err, "failed to list rollups")
			return
		}
		out := make([]hourlyDTO, 0, len(rollups))
		for _, rollup := range rollups {
			out = append(out, toHourlyDTO(rollup))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	metrics, err := s.store.ListMetrics(ctx, id, since, queryInt(r, "limit", 100))
	if err != nil {
		s.fail(w, r, err, "failed to list metrics")
		return
	}
	out := make([]metricDTO, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, toMetricDTO(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) attachCurrentHut(r *http.Request, dto *siteDTO) error {
	ctx := r.Context()
	a, ok, err := s.store.FindOpenAssignmentForSite(ctx, dto.ID)
	if err != nil || !ok {
		return err
	}
	hut, err := s.store.GetHut(ctx, a.HutID)
	if err != nil {
		return err
	}
	dto.CurrentHut = &hut.Code
	return nil
}

func validateTimezone(tz *string) error {
	if tz == nil || strings.TrimSpace(*tz) == "" {
		return nil
	}
	if _, err := time.LoadLocation(strings.TrimSpace(*tz)); err != nil {
		return err
	}
	return nil
}
