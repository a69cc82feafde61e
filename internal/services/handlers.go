package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dpup/tripcost/server/internal/clients/pricing"
	"github.com/dpup/tripcost/server/internal/lib/mapview"
	"github.com/dpup/tripcost/server/internal/lib/routes"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP API for map surfaces
func (s *MapViewService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/surfaces", s.handleCreate)
	mux.HandleFunc("GET /api/v1/surfaces/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/v1/surfaces/{id}/routes", s.handleShowRoutes)
	mux.HandleFunc("POST /api/v1/surfaces/{id}/calculate", s.handleCalculate)
	mux.HandleFunc("GET /api/v1/surfaces/{id}/kml", s.handleKML)
	mux.HandleFunc("DELETE /api/v1/surfaces/{id}", s.handleDelete)
	return mux
}

func (s *MapViewService) handleCreate(w http.ResponseWriter, r *http.Request) {
	resp, err := s.CreateSurface(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *MapViewService) handleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.GetSurface(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *MapViewService) handleShowRoutes(w http.ResponseWriter, r *http.Request) {
	var view routes.View
	if err := decodeBody(w, r, &view); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.ShowRoutes(r.Context(), r.PathValue("id"), view)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *MapViewService) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req pricing.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.Calculate(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *MapViewService) handleKML(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.ExportKML(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="surface-%s.kml"`, id))
	if _, err := w.Write(doc); err != nil {
		s.logger.Warn("failed to write KML", zap.Error(err))
	}
}

func (s *MapViewService) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteSurface(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %w", ErrInvalidRequest, err)
	}
	return nil
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var apiErr *pricing.APIError
	var timeoutErr interface{ Timeout() bool }
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSurfaceNotFound), errors.Is(err, pricing.ErrVehicleNotFound):
		return http.StatusNotFound
	case errors.Is(err, mapview.ErrSurfaceClosed):
		return http.StatusGone
	case errors.Is(err, mapview.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, pricing.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &timeoutErr) && timeoutErr.Timeout():
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr), errors.Is(err, ErrCalculationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *MapViewService) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *MapViewService) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
