package agent

import (
	"encoding/json"
	"net/http"
	"strings"
)

// exchangeRequest is the POST /agent request body.
type exchangeRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// exchangeResponse is the POST /agent response body.
type exchangeResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP handler for POST /agent.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.serveExchange)
}

func (s *Service) serveExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	sessionID, answer, err := s.Exchange(r.Context(), req.SessionID, req.Text)
	if err != nil {
		s.log.Error("exchange failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "exchange failed"})
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse{SessionID: sessionID, Answer: answer})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
