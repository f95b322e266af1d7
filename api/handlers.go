package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"alertpipe/core"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// --- Deduplication rules ---

func (s *Server) handleListDedupRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListDeduplicationRules(r.Context(), tenantID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateDedupRule(w http.ResponseWriter, r *http.Request) {
	var rule core.DeduplicationRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.TenantID = tenantID(r)
	if err := s.rules.CreateDeduplicationRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateDedupRule(w http.ResponseWriter, r *http.Request) {
	var rule core.DeduplicationRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = mux.Vars(r)["id"]
	rule.TenantID = tenantID(r)
	if err := s.rules.UpdateDeduplicationRule(r.Context(), &rule); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteDedupRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteDeduplicationRule(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDedupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rules.GetDeduplicationStats(r.Context(), tenantID(r), mux.Vars(r)["id"])
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Mapping rules ---

// mappingRuleRequest carries a mapping rule together with its data rows.
type mappingRuleRequest struct {
	core.MappingRule
	Rows []core.MappingRow `json:"rows"`
}

func (s *Server) handleListMappingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListMappingRules(r.Context(), tenantID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateMappingRule(w http.ResponseWriter, r *http.Request) {
	var req mappingRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.TenantID = tenantID(r)
	if err := s.rules.CreateMappingRule(r.Context(), &req.MappingRule, req.Rows); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, req.MappingRule)
}

func (s *Server) handleUpdateMappingRule(w http.ResponseWriter, r *http.Request) {
	var req mappingRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ID = mux.Vars(r)["id"]
	req.TenantID = tenantID(r)
	if err := s.rules.UpdateMappingRule(r.Context(), &req.MappingRule, req.Rows); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req.MappingRule)
}

func (s *Server) handleDeleteMappingRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteMappingRule(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Extraction rules ---

func (s *Server) handleListExtractionRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListExtractionRules(r.Context(), tenantID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateExtractionRule(w http.ResponseWriter, r *http.Request) {
	var rule core.ExtractionRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.TenantID = tenantID(r)
	if err := s.rules.CreateExtractionRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateExtractionRule(w http.ResponseWriter, r *http.Request) {
	var rule core.ExtractionRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = mux.Vars(r)["id"]
	rule.TenantID = tenantID(r)
	if err := s.rules.UpdateExtractionRule(r.Context(), &rule); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteExtractionRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteExtractionRule(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Blackout rules ---

func (s *Server) handleListBlackoutRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListBlackoutRules(r.Context(), tenantID(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateBlackoutRule(w http.ResponseWriter, r *http.Request) {
	var rule core.BlackoutRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.TenantID = tenantID(r)
	if err := s.rules.CreateBlackoutRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateBlackoutRule(w http.ResponseWriter, r *http.Request) {
	var rule core.BlackoutRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = mux.Vars(r)["id"]
	rule.TenantID = tenantID(r)
	if err := s.rules.UpdateBlackoutRule(r.Context(), &rule); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteBlackoutRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.DeleteBlackoutRule(r.Context(), tenantID(r), mux.Vars(r)["id"]); err != nil {
		writeStorageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Previews ---

type dedupPreviewRequest struct {
	Rule  core.DeduplicationRule `json:"rule"`
	Alert core.Alert             `json:"alert"`
}

func (s *Server) handlePreviewDedup(w http.ResponseWriter, r *http.Request) {
	var req dedupPreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Rule.TenantID = tenantID(r)
	fp, err := s.rules.PreviewDeduplicationRule(&req.Rule, &req.Alert)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fingerprint": fp})
}

type mappingPreviewRequest struct {
	Rule  core.MappingRule  `json:"rule"`
	Rows  []core.MappingRow `json:"rows"`
	Alert core.Alert        `json:"alert"`
}

func (s *Server) handlePreviewMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingPreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Rule.TenantID = tenantID(r)
	values, matched, err := s.rules.PreviewMappingRule(r.Context(), &req.Rule, req.Rows, &req.Alert)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matched": matched, "values": values})
}

type extractionPreviewRequest struct {
	Rule  core.ExtractionRule `json:"rule"`
	Alert core.Alert          `json:"alert"`
}

func (s *Server) handlePreviewExtraction(w http.ResponseWriter, r *http.Request) {
	var req extractionPreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Rule.TenantID = tenantID(r)
	preview, err := s.rules.PreviewExtractionRule(r.Context(), &req.Rule, &req.Alert)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

type blackoutPreviewRequest struct {
	Rule  core.BlackoutRule `json:"rule"`
	Alert core.Alert        `json:"alert"`
}

func (s *Server) handlePreviewBlackout(w http.ResponseWriter, r *http.Request) {
	var req blackoutPreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Rule.TenantID = tenantID(r)
	preview, err := s.rules.PreviewBlackoutRule(r.Context(), &req.Rule, &req.Alert)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
