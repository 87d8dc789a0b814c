package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"pitalert/internal/dispatch"
	"pitalert/internal/domain"
	"pitalert/internal/metrics"
	"pitalert/internal/push"
	"pitalert/internal/registry"
)

const maxRequestBody = 64 * 1024

// Handler exposes the alert rule and notification management endpoints.
// Params: rule registry, dispatcher for test events, push broker for history.
// Returns: HTTP handler set registered via Register.
type Handler struct {
	logger     *slog.Logger
	rules      *registry.Registry
	dispatcher *dispatch.Dispatcher
	broker     *push.Broker
}

// NewHandler creates API handler.
// Params: logger and collaborating components.
// Returns: initialized handler.
func NewHandler(logger *slog.Logger, rules *registry.Registry, dispatcher *dispatch.Dispatcher, broker *push.Broker) *Handler {
	return &Handler{logger: logger, rules: rules, dispatcher: dispatcher, broker: broker}
}

// Register wires all management endpoints into mux.
// Params: target request multiplexer.
// Returns: nothing.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/alerts", h.handleAlerts)
	mux.HandleFunc("/api/alerts/", h.handleAlertItem)
	mux.HandleFunc("/api/alerts/types", h.handleAlertTypes)
	mux.HandleFunc("/api/notifications/latest", h.handleLatest)
	mux.HandleFunc("/api/notifications/test", h.handleTest)
}

// handleAlerts serves the rule collection: GET lists, POST creates.
func (h *Handler) handleAlerts(writer http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodGet:
		writeJSON(writer, http.StatusOK, h.rules.List())
	case http.MethodPost:
		rule, ok := h.decodeRule(writer, request)
		if !ok {
			return
		}
		created, err := h.rules.Create(rule)
		if err != nil {
			h.writeRuleError(writer, err)
			return
		}
		h.logger.Info("alert rule created",
			"alert_id", created.ID, "alert_type", string(created.AlertType))
		writeJSON(writer, http.StatusCreated, created)
	default:
		writer.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAlertItem serves one rule by ID: GET, PUT, DELETE.
func (h *Handler) handleAlertItem(writer http.ResponseWriter, request *http.Request) {
	id := strings.TrimPrefix(request.URL.Path, "/api/alerts/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(writer, request)
		return
	}

	switch request.Method {
	case http.MethodGet:
		rule, err := h.rules.Get(id)
		if err != nil {
			h.writeRuleError(writer, err)
			return
		}
		writeJSON(writer, http.StatusOK, rule)
	case http.MethodPut:
		rule, ok := h.decodeRule(writer, request)
		if !ok {
			return
		}
		updated, err := h.rules.Update(id, rule)
		if err != nil {
			h.writeRuleError(writer, err)
			return
		}
		h.logger.Info("alert rule updated",
			"alert_id", updated.ID, "alert_type", string(updated.AlertType))
		writeJSON(writer, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.rules.Delete(id); err != nil {
			h.writeRuleError(writer, err)
			return
		}
		h.logger.Info("alert rule deleted", "alert_id", id)
		writer.WriteHeader(http.StatusNoContent)
	default:
		writer.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAlertTypes serves static alert type metadata for rule builders.
func (h *Handler) handleAlertTypes(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(writer, http.StatusOK, domain.AlertTypes())
}

// handleLatest serves recent notification events for polling clients.
func (h *Handler) handleLatest(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	metrics.PollRequestsTotal.Inc()

	limit := 0
	if raw := request.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(writer, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	writeJSON(writer, http.StatusOK, h.broker.Recent(limit))
}

// handleTest fires a synthetic notification through the delivery pipeline.
func (h *Handler) handleTest(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		DeviceID string `json:"device_id"`
		ProbeID  string `json:"probe_id"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, maxRequestBody))
	if err != nil {
		writeError(writer, http.StatusBadRequest, "read body error")
		return
	}
	defer request.Body.Close()
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(writer, http.StatusBadRequest, "invalid json")
			return
		}
	}

	event := h.dispatcher.DispatchTest(payload.DeviceID, payload.ProbeID)
	writeJSON(writer, http.StatusAccepted, event)
}

// decodeRule reads and decodes one alert rule payload, writing the error
// response itself on failure.
func (h *Handler) decodeRule(writer http.ResponseWriter, request *http.Request) (domain.AlertRule, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(writer, request.Body, maxRequestBody))
	if err != nil {
		writeError(writer, http.StatusBadRequest, "read body error")
		return domain.AlertRule{}, false
	}
	defer request.Body.Close()

	var rule domain.AlertRule
	if err := json.Unmarshal(body, &rule); err != nil {
		writeError(writer, http.StatusBadRequest, "invalid json")
		return domain.AlertRule{}, false
	}
	return rule, true
}

// writeRuleError maps registry and validation errors to HTTP statuses.
func (h *Handler) writeRuleError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(writer, http.StatusNotFound, "alert rule not found")
	case domain.IsValidation(err):
		writeError(writer, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("alert rule operation failed", "error", err.Error())
		writeError(writer, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]string{"error": message})
}
