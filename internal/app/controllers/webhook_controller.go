package controllers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/faeln1/membersync/internal/app/services"
	"github.com/faeln1/membersync/internal/domain/webhook"
	"github.com/faeln1/membersync/internal/metrics"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const defaultMaxBodyBytes int64 = 1 << 20

type WebhookController struct {
	service      *services.WebhookService
	maxBodyBytes int64
	log          waLog.Logger
}

func NewWebhookController(s *services.WebhookService, maxBodyBytes int64, log waLog.Logger) *WebhookController {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if log == nil {
		log = waLog.Noop
	}
	return &WebhookController{service: s, maxBodyBytes: maxBodyBytes, log: log}
}

// Receive handles POST /webhook.
func (c *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	c.receive(w, r, "")
}

// ReceiveEvent handles POST /webhook/{event}; the path names the event kind
// when the body does not.
func (c *WebhookController) ReceiveEvent(w http.ResponseWriter, r *http.Request, event string) {
	if unescaped, err := url.PathUnescape(event); err == nil {
		event = unescaped
	}
	c.receive(w, r, strings.TrimSpace(event))
}

func (c *WebhookController) receive(w http.ResponseWriter, r *http.Request, pathKind string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxBodyBytes))
	if err != nil {
		c.respondError(w, fmt.Errorf("%w: %v", services.ErrMalformedPayload, err))
		return
	}

	result, err := c.service.Handle(r.Context(), services.WebhookRequest{
		Body:       body,
		Header:     r.Header,
		Query:      r.URL.Query(),
		Referer:    r.Referer(),
		PathKind:   pathKind,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		c.respondError(w, err)
		return
	}
	metrics.WebhooksReceived.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	writeJSON(w, http.StatusOK, result)
}

func (c *WebhookController) respondError(w http.ResponseWriter, err error) {
	status := webhookStatus(err)
	if status >= http.StatusInternalServerError {
		c.log.Errorf("Webhook failed: %v", err)
	}
	metrics.WebhooksReceived.WithLabelValues(strconv.Itoa(status)).Inc()
	writeError(w, status, err)
}

func webhookStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrSignature):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrMalformedPayload),
		errors.Is(err, services.ErrTenantUnresolved),
		errors.Is(err, services.ErrMissingIdentity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Deliveries handles GET /webhook/deliveries?tenant_id=&limit=.
func (c *WebhookController) Deliveries(w http.ResponseWriter, r *http.Request) {
	filter := webhook.DeliveryFilter{TenantID: strings.TrimSpace(r.URL.Query().Get("tenant_id"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit", ErrInvalidParam))
			return
		}
		filter.Limit = limit
	}
	items, err := c.service.Deliveries(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items, "count": len(items)})
}
