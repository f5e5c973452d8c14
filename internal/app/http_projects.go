package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"buildtrack/api/internal/search"
)

const changeFeedHeartbeat = 25 * time.Second

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProjects(r.Context(), session)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": items})
		case http.MethodPost:
			var body ProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateProject(r.Context(), session, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			methodNotAllowed(w)
		}
		return
	}

	projectID := parts[0]
	if len(parts) == 1 {
		s.handleProject(w, r, session, projectID)
		return
	}

	switch parts[1] {
	case "summary":
		if r.Method != http.MethodGet || len(parts) != 2 {
			methodNotAllowed(w)
			return
		}
		summary, err := s.service.ProjectSummary(r.Context(), session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case "stakeholders":
		s.handleStakeholders(w, r, session, projectID, parts[2:])
	case "tasks":
		s.handleTasks(w, r, session, projectID, parts[2:])
	case "dependencies":
		s.handleDependencies(w, r, session, projectID, parts[2:])
	case "gantt":
		s.handleGantt(w, r, session, projectID)
	case "baselines":
		s.handleBaselines(w, r, session, projectID, parts[2:])
	case "export":
		s.handleExport(w, r, session, projectID)
	case "rfqs":
		s.handleProjectRFQs(w, r, session, projectID, parts[2:])
	case "commitments":
		s.handleProjectCommitments(w, r, session, projectID, parts[2:])
	case "documents":
		s.handleDocuments(w, r, session, projectID, parts[2:])
	case "changes":
		s.handleChanges(w, r, session, projectID)
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	switch r.Method {
	case http.MethodGet:
		project, err := s.service.GetProject(r.Context(), session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPut, http.MethodPatch:
		var body ProjectInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateProject(r.Context(), session, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), session, projectID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleStakeholders(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.service.DeleteStakeholder(r.Context(), session, projectID, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if len(parts) > 1 {
		notFoundRoute(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListStakeholders(r.Context(), session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stakeholders": items})
	case http.MethodPost:
		var body StakeholderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateStakeholder(r.Context(), session, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleVendors(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.service.DeleteVendor(r.Context(), session, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if len(parts) > 1 {
		notFoundRoute(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListVendors(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"vendors": items})
	case http.MethodPost:
		var body VendorInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateVendor(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 0 {
		notFoundRoute(w)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	resp, err := s.service.Search(session, search.Query{
		Text:       text,
		FilterType: search.ParseResultType(query.Get("type")),
		ProjectID:  strings.TrimSpace(query.Get("projectId")),
		Limit:      queryInt(r, "limit", 20),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChanges streams project changes as server-sent events until the
// client goes away.
func (s *HTTPServer) handleChanges(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	var tables []string
	if raw := strings.TrimSpace(r.URL.Query().Get("tables")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}

	sub, err := s.service.Subscribe(r.Context(), session, projectID, tables)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(changeFeedHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case change, open := <-sub.C():
			if !open {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
