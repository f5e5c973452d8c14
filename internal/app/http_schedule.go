package app

import (
	"net/http"
	"strconv"
	"strings"
)

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListTasks(r.Context(), session, projectID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
		case http.MethodPost:
			var body TaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateTask(r.Context(), session, projectID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			methodNotAllowed(w)
		}
	case 1:
		taskID := parts[0]
		switch r.Method {
		case http.MethodGet:
			task, err := s.service.GetTask(r.Context(), session, projectID, taskID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, task)
		case http.MethodPut, http.MethodPatch:
			var body TaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err := s.service.UpdateTask(r.Context(), session, projectID, taskID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		case http.MethodDelete:
			if err := s.service.DeleteTask(r.Context(), session, projectID, taskID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
	case 2:
		if parts[1] != "reschedule" {
			notFoundRoute(w)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body RescheduleInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.RescheduleTask(r.Context(), session, projectID, parts[0], body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleDependencies(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.service.DeleteDependency(r.Context(), session, projectID, parts[0]); err != nil {
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
		items, err := s.service.ListDependencies(r.Context(), session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dependencies": items})
	case http.MethodPost:
		var body DependencyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateDependency(r.Context(), session, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

// parseExpanded reads the expanded query: "all", or a comma separated list of
// stage ids to open. A missing parameter opens every stage.
func parseExpanded(r *http.Request) (map[string]bool, bool) {
	values, present := r.URL.Query()["expanded"]
	if !present {
		return nil, true
	}
	expanded := map[string]bool{}
	for _, value := range values {
		for _, id := range strings.Split(value, ",") {
			id = strings.TrimSpace(id)
			if id == "all" {
				return nil, true
			}
			if id != "" {
				expanded[id] = true
			}
		}
	}
	return expanded, false
}

func (s *HTTPServer) handleGantt(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	expanded, all := parseExpanded(r)
	layout, err := s.service.Gantt(r.Context(), session, projectID, GanttOptions{
		Zoom:         queryFloat(r, "zoom", 1),
		Expanded:     expanded,
		ExpandAll:    all,
		OffsetMonths: queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layout)
}

func (s *HTTPServer) handleBaselines(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListBaselines(r.Context(), session, projectID, queryInt(r, "limit", 50))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"baselines": items})
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			info, err := s.service.CreateBaseline(r.Context(), session, projectID, body.Name)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, info)
		default:
			methodNotAllowed(w)
		}
	case 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		snapshot, info, err := s.service.GetBaseline(r.Context(), session, projectID, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"baseline": info, "snapshot": snapshot})
	case 2:
		if parts[1] != "variance" {
			notFoundRoute(w)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		info, variance, err := s.service.BaselineVariance(r.Context(), session, projectID, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"baseline": info, "variance": variance})
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	result, err := s.service.ExportSchedule(r.Context(), session, projectID, format, queryFloat(r, "zoom", 1))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
