package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/waluebiz/whatsapp-crm-service/internal/domain"
	"github.com/waluebiz/whatsapp-crm-service/pkg/logger"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a service error onto the HTTP surface. The wrapped reason
// becomes the response message so the CRM shows the same text the domain
// produced.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAuthenticationFailure):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrTransportFailure):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logger.Base().Error("Unhandled error in request", zap.Error(err))
	}

	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": err.Error(),
	})
}
