package server

import (
	"encoding/json"
	"net/http"

	"github.com/pardot/authcode/core"
)

// createCodeRequest is posted by the authorization front-end once the user
// has approved a request.
type createCodeRequest struct {
	Request  core.AuthRequest          `json:"request"`
	Response core.FrontChannelResponse `json:"response"`
}

type createCodeResponse struct {
	Code string `json:"code"`
}

const maxCodeRequestSize = 64 << 10

func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCodeRequestSize)).Decode(&req); err != nil {
		s.renderJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	l := s.logger.WithField("client_id", req.Request.ClientID)

	if req.Request.RedirectURI == "" {
		s.renderJSONError(w, http.StatusBadRequest, "request.redirect_uri is required")
		return
	}
	if req.Request.ResponseType == "" {
		req.Request.ResponseType = core.ResponseTypeCode
	}
	rt, err := core.ParseResponseType(string(req.Request.ResponseType))
	if err != nil {
		s.renderJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Request.ResponseType = rt
	if rt.RequestsIDToken() && req.Request.Subject == "" {
		s.renderJSONError(w, http.StatusBadRequest, "request.subject is required for ID tokens")
		return
	}

	client, err := s.clients.GetClient(r.Context(), req.Request.ClientID)
	if err != nil {
		if core.IsNoSuchClientErr(err) {
			s.renderJSONError(w, http.StatusBadRequest, "unknown client")
			return
		}
		l.WithError(err).Error("failed to look up client")
		s.renderJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !client.AllowsRedirectURI(req.Request.RedirectURI) {
		s.renderJSONError(w, http.StatusBadRequest, "redirect_uri is not registered for the client")
		return
	}

	code, err := s.codes.Create(r.Context(), req.Request, req.Response)
	if err != nil {
		l.WithError(err).Error("failed to create code")
		s.renderJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	l.WithField("code", codePrefix(code.Value)).Debug("created code")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createCodeResponse{Code: code.Value}); err != nil {
		l.WithError(err).Error("failed to write code response")
	}
}

func (s *Server) renderJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// codePrefix is enough of a code to correlate logs, without being usable.
func codePrefix(v string) string {
	if len(v) > 6 {
		return v[:6] + "…"
	}
	return v
}
