// Package handlers provides HTTP request handlers
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"go-spacewx/internal/domain"
	"go-spacewx/internal/logger"
	"go-spacewx/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Error codes returned in the envelope
const (
	CodeInvalidJSON       = "invalid_json"
	CodeInvalidRegister   = "invalid_register_payload"
	CodeInvalidPrefs      = "invalid_preferences_payload"
	CodeInvalidUnregister = "invalid_unregister_payload"
	CodeDeviceNotFound    = "device_not_found"
	CodeNoUpstreamData    = "no_upstream_data"
	CodeTickInProgress    = "tick_in_progress"
	CodeInternal          = "internal_error"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// Handler holds all service dependencies
type Handler struct {
	Space        *services.SpaceService
	Registry     *services.Registry
	Orchestrator *services.Orchestrator
	Clock        domain.Clock
}

// NewHandler creates a new handler with services
func NewHandler(svc *services.Services, clock domain.Clock) *Handler {
	return &Handler{
		Space:        svc.Space,
		Registry:     svc.Registry,
		Orchestrator: svc.Orchestrator,
		Clock:        clock,
	}
}

type registerRequest struct {
	InstallID   string              `json:"installId" binding:"required,max=128"`
	PushToken   string              `json:"pushToken" binding:"required,max=512"`
	Timezone    string              `json:"timezone" binding:"omitempty,max=64"`
	Platform    string              `json:"platform" binding:"omitempty,max=16"`
	AppVersion  *string             `json:"appVersion" binding:"omitempty,max=32"`
	Preferences *domain.Preferences `json:"preferences"`
}

type preferencesRequest struct {
	InstallID   string              `json:"installId" binding:"required,max=128"`
	Preferences *domain.Preferences `json:"preferences" binding:"required"`
}

type unregisterRequest struct {
	InstallID string `json:"installId" binding:"required,max=128"`
}

// FieldError is one entry of a validation error's details
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Health handles health check requests
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, domain.Health{
		Status: "ok",
		Now:    h.Clock.Now(),
	})
}

// GetSpaceWeatherNow handles requests for the current snapshot
func (h *Handler) GetSpaceWeatherNow(c *gin.Context) {
	snap, err := h.Space.Current(c.Request.Context())
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.ok(c, snap)
}

// ListFlares handles requests for the flare timeline
func (h *Handler) ListFlares(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.Space.Flares(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.ok(c, items)
}

// GetLearnContext handles requests for the educational cards
func (h *Handler) GetLearnContext(c *gin.Context) {
	lc, err := h.Space.Learn(c.Request.Context())
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.ok(c, lc)
}

// RegisterDevice handles device registration
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req, CodeInvalidRegister) {
		return
	}
	d, err := h.Registry.Register(c.Request.Context(), services.RegisterInput{
		InstallID:   req.InstallID,
		PushToken:   req.PushToken,
		Timezone:    req.Timezone,
		Platform:    req.Platform,
		AppVersion:  req.AppVersion,
		Preferences: req.Preferences,
	})
	if err != nil {
		h.fail(c, err, CodeInvalidRegister)
		return
	}
	h.ok(c, d)
}

// UpdatePreferences handles full preference replacement
func (h *Handler) UpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if !h.bind(c, &req, CodeInvalidPrefs) {
		return
	}
	d, err := h.Registry.UpdatePreferences(c.Request.Context(), req.InstallID, *req.Preferences)
	if err != nil {
		h.fail(c, err, CodeInvalidPrefs)
		return
	}
	h.ok(c, d)
}

// UnregisterDevice handles device removal
func (h *Handler) UnregisterDevice(c *gin.Context) {
	var req unregisterRequest
	if id := c.Query("installId"); id != "" && c.Request.ContentLength <= 0 {
		req.InstallID = id
	} else if !h.bind(c, &req, CodeInvalidUnregister) {
		return
	}
	if err := h.Registry.Unregister(c.Request.Context(), req.InstallID); err != nil {
		h.fail(c, err, CodeInvalidUnregister)
		return
	}
	h.ok(c, gin.H{"installId": req.InstallID, "removed": true})
}

// RunTick handles manual tick requests
func (h *Handler) RunTick(c *gin.Context) {
	report, err := h.Orchestrator.RunTick(c.Request.Context())
	if err != nil {
		h.fail(c, err, "")
		return
	}
	h.ok(c, report)
}

// bind reads the body, rejects malformed JSON and validates it into dst.
// It writes the error response and returns false on failure.
func (h *Handler) bind(c *gin.Context, dst any, invalidCode string) bool {
	raw, err := c.GetRawData()
	if err != nil || !json.Valid(raw) {
		h.abort(c, http.StatusBadRequest, CodeInvalidJSON, "request body is not valid JSON", nil)
		return false
	}
	if err := binding.JSON.BindBody(raw, dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.abort(c, http.StatusBadRequest, invalidCode, "request payload failed validation", fieldErrors(verrs))
			return false
		}
		h.abort(c, http.StatusBadRequest, invalidCode, err.Error(), nil)
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out = append(out, FieldError{Field: field, Rule: fe.Tag()})
	}
	return out
}

// fail maps a service error onto the envelope
func (h *Handler) fail(c *gin.Context, err error, invalidCode string) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		h.abort(c, http.StatusNotFound, CodeDeviceNotFound, "device is not registered", nil)
	case errors.Is(err, domain.ErrInvalidPayload) && invalidCode != "":
		h.abort(c, http.StatusBadRequest, invalidCode, err.Error(), nil)
	case errors.Is(err, domain.ErrNoUpstreamData):
		h.abort(c, http.StatusInternalServerError, CodeNoUpstreamData, "no upstream data and no cached snapshot", nil)
	case errors.Is(err, services.ErrTickInProgress):
		h.abort(c, http.StatusConflict, CodeTickInProgress, err.Error(), nil)
	default:
		h.abort(c, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
	}
}

func (h *Handler) abort(c *gin.Context, status int, code, message string, details any) {
	resp := domain.ErrorResponse(code, message)
	if details != nil {
		resp.Error.Details = details
	}
	resp.RequestID = logger.RequestID(c)
	c.AbortWithStatusJSON(status, resp)
}

func (h *Handler) ok(c *gin.Context, data any) {
	resp := domain.SuccessResponse(data)
	resp.RequestID = logger.RequestID(c)
	c.JSON(http.StatusOK, resp)
}

// SetupRoutes configures all routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	// Health check
	r.GET("/health", h.Health)

	// Space weather
	r.GET("/space-weather/now", h.GetSpaceWeatherNow)
	r.GET("/flares", h.ListFlares)
	r.GET("/learn/context", h.GetLearnContext)

	// Devices
	r.POST("/devices/register", h.RegisterDevice)
	r.PUT("/devices/preferences", h.UpdatePreferences)
	r.DELETE("/devices/unregister", h.UnregisterDevice)

	// Pipeline
	r.POST("/internal/tick", h.RunTick)
}
