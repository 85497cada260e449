package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/vault"
)

// Secret values are write-only over the API: listings carry metadata and
// configuration refers to them as secret:<name>.

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	secrets, err := s.secrets.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	sec, err := s.secrets.Set(body.Name, body.Description, body.Value)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{
		"id":          sec.ID,
		"name":        sec.Name,
		"description": sec.Description,
		"reference":   "secret:" + sec.Name,
	})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.secrets.Delete(r.PathValue("name")); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, vault.ErrSecretNotFound) {
			code = http.StatusNotFound
		}
		jsonError(w, err.Error(), code)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}
