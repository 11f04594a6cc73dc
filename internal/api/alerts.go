package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/alerting"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/httpserver"
	"github.com/smukkama/weather-alerts/internal/location"
)

const (
	// UserHeader carries the caller's identity, set by the upstream auth proxy.
	UserHeader = "x-user-id"

	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// AlertStore persists and lists user alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *database.Alert) error
	ListAlertsByUser(ctx context.Context, userID string, page, limit int) ([]*database.Alert, int, error)
}

// Handler serves the alert CRUD routes.
type Handler struct {
	store  AlertStore
	logger *zap.Logger
}

func NewHandler(store AlertStore, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Mount registers the alert routes on s.
func (h *Handler) Mount(s *httpserver.Server) {
	s.Handle("POST /v1/alerts", http.HandlerFunc(h.CreateAlert))
	s.Handle("GET /v1/alerts", http.HandlerFunc(h.ListAlerts))
}

// ValidationIssue names one rejected field of a request body.
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type validationError struct {
	Error   string            `json:"error"`
	Details []ValidationIssue `json:"details"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// AlertPage is the GET /v1/alerts response body.
type AlertPage struct {
	Data       []*database.Alert `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

// thresholdValue accepts either a JSON string or a JSON number and keeps
// the literal text.
type thresholdValue struct {
	text string
	set  bool
}

func (v *thresholdValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v.text, v.set = s, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("threshold value must be a string or number")
	}
	v.text, v.set = n.String(), true
	return nil
}

type createAlertRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	Parameter   *string `json:"parameter"`
	Threshold   *struct {
		Operator *string        `json:"operator"`
		Value    thresholdValue `json:"value"`
	} `json:"threshold"`
}

// CreateAlert handles POST /v1/alerts. Any status in the body is ignored;
// new alerts always start notTriggered.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		httpserver.WriteJSON(w, http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
		return
	}

	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, validationError{
			Error:   "Validation error",
			Details: []ValidationIssue{{Path: "", Message: "Request body must be a JSON object"}},
		})
		return
	}

	alert, issues := req.toAlert(userID)
	if len(issues) > 0 {
		httpserver.WriteJSON(w, http.StatusBadRequest, validationError{Error: "Validation error", Details: issues})
		return
	}

	if err := h.store.CreateAlert(r.Context(), alert); err != nil {
		h.logger.Error("error creating alert", zap.String("user_id", userID), zap.Error(err))
		httpserver.WriteJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error creating alert"})
		return
	}

	h.logger.Info("alert created",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", userID),
		zap.String("location", alert.Location),
	)
	httpserver.WriteJSON(w, http.StatusCreated, alert)
}

func (req *createAlertRequest) toAlert(userID string) (*database.Alert, []ValidationIssue) {
	var issues []ValidationIssue

	loc := ""
	switch {
	case req.Location == nil:
		issues = append(issues, ValidationIssue{Path: "location", Message: "Required"})
	default:
		loc = strings.TrimSpace(*req.Location)
		if err := location.Validate(loc); err != nil {
			issues = append(issues, ValidationIssue{Path: "location", Message: err.Error()})
		}
	}

	parameter := ""
	if req.Parameter == nil || strings.TrimSpace(*req.Parameter) == "" {
		issues = append(issues, ValidationIssue{Path: "parameter", Message: "Required"})
	} else {
		parameter = strings.TrimSpace(*req.Parameter)
	}

	var operator, value string
	if req.Threshold == nil {
		issues = append(issues, ValidationIssue{Path: "threshold", Message: "Required"})
	} else {
		switch {
		case req.Threshold.Operator == nil:
			issues = append(issues, ValidationIssue{Path: "threshold.operator", Message: "Required"})
		case !alerting.Operator(*req.Threshold.Operator).Valid():
			issues = append(issues, ValidationIssue{
				Path:    "threshold.operator",
				Message: "Invalid enum value. Expected 'gt' | 'lt' | 'eq' | 'gte' | 'lte'",
			})
		default:
			operator = *req.Threshold.Operator
		}
		if !req.Threshold.Value.set {
			issues = append(issues, ValidationIssue{Path: "threshold.value", Message: "Required"})
		} else {
			value = req.Threshold.Value.text
		}
	}

	if len(issues) > 0 {
		return nil, issues
	}

	alert := &database.Alert{
		UserID:    userID,
		Location:  location.Canonicalize(loc),
		Parameter: parameter,
		Threshold: database.Threshold{Operator: operator, Value: value},
		Status:    database.AlertStatusNotTriggered,
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		alert.Name = strings.TrimSpace(*req.Name)
	} else {
		alert.Name = fmt.Sprintf("%s %s %s Alert", parameter, operator, value)
	}
	if req.Description != nil {
		if d := strings.TrimSpace(*req.Description); d != "" {
			alert.Description = &d
		}
	}
	return alert, nil
}

// ListAlerts handles GET /v1/alerts, newest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		httpserver.WriteJSON(w, http.StatusUnauthorized, messageResponse{Message: "Unauthorized"})
		return
	}

	page := positiveQueryInt(r, "page", defaultPage)
	limit := min(positiveQueryInt(r, "limit", defaultLimit), maxLimit)

	alerts, total, err := h.store.ListAlertsByUser(r.Context(), userID, page, limit)
	if err != nil {
		h.logger.Error("error fetching alerts", zap.String("user_id", userID), zap.Error(err))
		httpserver.WriteJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error fetching alerts"})
		return
	}
	if alerts == nil {
		alerts = []*database.Alert{}
	}

	httpserver.WriteJSON(w, http.StatusOK, AlertPage{
		Data: alerts,
		Pagination: Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int(math.Ceil(float64(total) / float64(limit))),
		},
	})
}

func positiveQueryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
