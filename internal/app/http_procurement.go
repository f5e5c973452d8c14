package app

import (
	"net/http"
	"strings"
)

func (s *HTTPServer) handleProjectRFQs(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	if len(parts) != 0 {
		notFoundRoute(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListRFQs(r.Context(), session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rfqs": items})
	case http.MethodPost:
		var body RFQInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateRFQ(r.Context(), session, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleRFQs(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 2 {
		notFoundRoute(w)
		return
	}
	rfqID := parts[0]
	switch parts[1] {
	case "transition":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body TransitionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.TransitionRFQ(r.Context(), session, rfqID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case "quotes":
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListQuotes(r.Context(), session, rfqID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"quotes": items})
		case http.MethodPost:
			var body QuoteInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateQuote(r.Context(), session, rfqID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			methodNotAllowed(w)
		}
	default:
		notFoundRoute(w)
	}
}

func (s *HTTPServer) handleQuotes(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 2 || parts[1] != "decision" {
		notFoundRoute(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body QuoteDecisionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	quote, commitment, err := s.service.DecideQuote(r.Context(), session, parts[0], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := map[string]any{"quote": quote}
	if commitment != nil {
		payload["commitment"] = commitment
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleProjectCommitments(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	if len(parts) != 0 {
		notFoundRoute(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListCommitments(r.Context(), session, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commitments": items})
	case http.MethodPost:
		var body CommitmentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateCommitment(r.Context(), session, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleCommitments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 2 || parts[1] != "transition" {
		notFoundRoute(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body TransitionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	updated, err := s.service.TransitionCommitment(r.Context(), session, parts[0], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleApprovals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			items, err := s.service.ListApprovals(r.Context(), session,
				strings.TrimSpace(query.Get("projectId")),
				strings.TrimSpace(query.Get("status")),
			)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"approvals": items})
		case http.MethodPost:
			var body ApprovalInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateApproval(r.Context(), session, body)
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

	if len(parts) != 2 || parts[1] != "decision" {
		notFoundRoute(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body ApprovalDecisionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	decided, err := s.service.DecideApproval(r.Context(), session, parts[0], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (s *HTTPServer) handleTimeEntries(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			report, err := s.service.ListTimeEntries(r.Context(), session, TimeQuery{
				ProjectID: query.Get("projectId"),
				UserID:    query.Get("userId"),
				From:      query.Get("from"),
				To:        query.Get("to"),
			})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		case http.MethodPost:
			var body TimeEntryInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			created, err := s.service.CreateTimeEntry(r.Context(), session, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, created)
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 1 && parts[0] == "start":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var body TimerInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		started, err := s.service.StartTimer(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, started)
	case len(parts) == 1 && parts[0] == "active":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		entry, err := s.service.ActiveTimer(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.service.DeleteTimeEntry(r.Context(), session, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case len(parts) == 2 && parts[1] == "stop":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		stopped, err := s.service.StopTimer(r.Context(), session, parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stopped)
	default:
		notFoundRoute(w)
	}
}
