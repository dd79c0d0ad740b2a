package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/wakewatch/wakewatch/pkg/domain"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// report json field names in validation failures
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// endpointRequest is the add/edit payload
type endpointRequest struct {
	URL             string `json:"url" validate:"required"`
	IntervalMinutes int    `json:"interval_minutes"`
	EmailEnabled    bool   `json:"email_enabled"`
	EmailAddress    string `json:"email_address" validate:"omitempty,email"`
}

// fieldError describes a single rejected field
type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type endpointJSON struct {
	ID              int64      `json:"id"`
	URL             string     `json:"url"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastPingTime    *time.Time `json:"last_ping_time,omitempty"`
	Status          string     `json:"status"`
	FailCount       int        `json:"fail_count"`
	LastError       string     `json:"last_error,omitempty"`
	EmailEnabled    bool       `json:"email_enabled"`
	EmailAddress    string     `json:"email_address,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toEndpointJSON(ep *domain.Endpoint) endpointJSON {
	return endpointJSON{
		ID:              ep.ID,
		URL:             ep.URL,
		IntervalMinutes: ep.IntervalMinutes,
		LastPingTime:    ep.LastPingTime,
		Status:          string(ep.Status),
		FailCount:       ep.FailCount,
		LastError:       ep.LastError,
		EmailEnabled:    ep.EmailEnabled,
		EmailAddress:    ep.EmailAddress,
		CreatedAt:       ep.CreatedAt,
		UpdatedAt:       ep.UpdatedAt,
	}
}

// validateRequest runs the validator plus the cross-field email rule and
// converts failures to field errors
func validateRequest(req *endpointRequest) []fieldError {
	var details []fieldError

	if err := validate.Struct(req); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			for _, fe := range vErrs {
				details = append(details, fieldError{Field: fe.Field(), Reason: reasonFor(fe)})
			}
		} else {
			details = append(details, fieldError{Field: "request", Reason: err.Error()})
		}
	}

	if req.IntervalMinutes < domain.MinIntervalMinutes || req.IntervalMinutes > domain.MaxIntervalMinutes {
		details = append(details, fieldError{
			Field:  "interval_minutes",
			Reason: fmt.Sprintf("must be between %d and %d", domain.MinIntervalMinutes, domain.MaxIntervalMinutes),
		})
	}

	// email address required once email alerts are switched on
	if req.EmailEnabled && strings.TrimSpace(req.EmailAddress) == "" {
		details = append(details, fieldError{Field: "email_address", Reason: "is required when email_enabled is true"})
	}

	return details
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// listEndpointsHandler returns all endpoints, most recently created first
func (s *Server) listEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	eps, err := s.store.List(r.Context())
	if err != nil {
		log.Printf("[ERROR] failed to list endpoints: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]endpointJSON, len(eps))
	for i := range eps {
		resp[i] = toEndpointJSON(&eps[i])
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// createEndpointHandler adds a new endpoint, status forced to pending
func (s *Server) createEndpointHandler(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	if details := validateRequest(&req); len(details) > 0 {
		renderJSON(w, r, http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "details": details})
		return
	}

	ep := &domain.Endpoint{
		URL:             req.URL,
		IntervalMinutes: req.IntervalMinutes,
		EmailEnabled:    req.EmailEnabled,
		EmailAddress:    req.EmailAddress,
	}
	if err := s.store.Create(r.Context(), ep); err != nil {
		log.Printf("[ERROR] failed to create endpoint: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusCreated, toEndpointJSON(ep))
}

// updateEndpointHandler edits the user-editable fields of an endpoint
func (s *Server) updateEndpointHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	if details := validateRequest(&req); len(details) > 0 {
		renderJSON(w, r, http.StatusBadRequest, map[string]interface{}{"error": "validation failed", "details": details})
		return
	}

	ep, err := s.store.Get(r.Context(), id)
	if err != nil {
		renderError(w, r, fmt.Errorf("endpoint %d not found", id), http.StatusNotFound)
		return
	}

	ep.URL = req.URL
	ep.IntervalMinutes = req.IntervalMinutes
	ep.EmailEnabled = req.EmailEnabled
	ep.EmailAddress = req.EmailAddress

	if err := s.store.Update(r.Context(), ep); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			renderError(w, r, fmt.Errorf("endpoint %d not found", id), http.StatusNotFound)
			return
		}
		log.Printf("[ERROR] failed to update endpoint %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	updated, err := s.store.Get(r.Context(), id)
	if err != nil {
		log.Printf("[ERROR] failed to reload endpoint %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, toEndpointJSON(updated))
}

// deleteEndpointHandler removes an endpoint
func (s *Server) deleteEndpointHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		log.Printf("[ERROR] failed to delete endpoint %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{"deleted": id})
}

// pingNowHandler triggers an immediate poll of a single endpoint
func (s *Server) pingNowHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	if err := s.scheduler.PingNow(r.Context(), id); err != nil {
		renderError(w, r, fmt.Errorf("endpoint %d not found", id), http.StatusNotFound)
		return
	}

	ep, err := s.store.Get(r.Context(), id)
	if err != nil {
		renderError(w, r, fmt.Errorf("endpoint %d not found", id), http.StatusNotFound)
		return
	}
	renderJSON(w, r, http.StatusOK, toEndpointJSON(ep))
}

// streamEndpointsHandler streams list snapshots as server-sent events, one
// event per mutation, so the UI can observe the list without polling
func (s *Server) streamEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		renderError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for eps := range s.store.Watch(r.Context()) {
		resp := make([]endpointJSON, len(eps))
		for i := range eps {
			resp[i] = toEndpointJSON(&eps[i])
		}

		data, err := json.Marshal(resp)
		if err != nil {
			log.Printf("[ERROR] failed to marshal endpoint snapshot: %v", err)
			continue
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return // client gone
		}
		flusher.Flush()
	}
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid endpoint ID")
	}
	return id, nil
}
