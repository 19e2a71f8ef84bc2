package server

import (
	"errors"
	"net/http"
	"strings"

	"keyportal/internal/api/dto"
	"keyportal/internal/keys"
)

func registerKey(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterKeyRequest
	if !readJSON(w, r, &req) {
		return
	}

	identifier := strings.TrimSpace(req.Email)
	if identifier == "" {
		writeError(w, "Identifier is required", http.StatusBadRequest)
		return
	}

	apiKey, err := deps.Keys.Register(identifier, strings.TrimSpace(req.Name), strings.TrimSpace(req.Label))
	if err != nil {
		if errors.Is(err, keys.ErrPoolEmpty) {
			writeError(w, "Key pool is empty, please generate more keys", http.StatusInternalServerError)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"api_key":    apiKey,
		"identifier": identifier,
		"message":    "API key assigned",
	})
}

func getMyKeys(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if !readJSON(w, r, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeError(w, "Email is required", http.StatusBadRequest)
		return
	}

	stats, err := deps.Stats.UserStats(r.Context(), email)
	if err != nil {
		if errors.Is(err, keys.ErrUserNotFound) {
			writeError(w, "User not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.UserKeysResponse{
		Email: email,
		Name:  stats.Name,
		Keys:  stats.Keys,
	})
}

func revokeKey(w http.ResponseWriter, r *http.Request) {
	var req dto.RevokeKeyRequest
	if !readJSON(w, r, &req) {
		return
	}

	apiKey := strings.TrimSpace(req.Key)
	if apiKey == "" {
		writeError(w, "API key is required", http.StatusBadRequest)
		return
	}

	if err := deps.Keys.Revoke(r.Context(), apiKey); err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			writeError(w, "Key not found", http.StatusInternalServerError)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Key revoked",
	})
}

const maxGeneratedKeys = 500

func generatePoolKeys(w http.ResponseWriter, r *http.Request) {
	var req dto.GenerateKeysRequest
	if !readJSON(w, r, &req) {
		return
	}

	if req.Count <= 0 || req.Count > maxGeneratedKeys {
		writeError(w, "Count must be between 1 and 500", http.StatusBadRequest)
		return
	}

	generated, err := deps.Keys.Provision(r.Context(), req.Count)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(generated),
		"keys":    generated,
	})
}

func getKeyPoolStatus(w http.ResponseWriter, r *http.Request) {
	status, err := deps.Keys.Pool().Status()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func queryByKey(w http.ResponseWriter, r *http.Request) {
	var req dto.QueryByKeyRequest
	if !readJSON(w, r, &req) {
		return
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		writeError(w, "API key is required", http.StatusBadRequest)
		return
	}

	record, err := deps.Keys.Registry().KeyOwner(apiKey)
	if err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			writeError(w, "Key not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	stats, err := deps.Stats.UserStats(r.Context(), record.Email)
	if err != nil {
		if errors.Is(err, keys.ErrUserNotFound) {
			writeError(w, "User not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dto.KeyOwnerResponse{
		Identifier:    record.Email,
		TotalRequests: stats.TotalRequests,
		TotalTokens:   stats.TotalTokens,
		AllKeys:       stats.Keys,
	})
}
