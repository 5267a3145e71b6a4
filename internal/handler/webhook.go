package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/service"
)

// WebhookHandler handles HTTP requests for webhook endpoints.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// upsertWebhookRequest is the JSON request body for POST /webhooks.
type upsertWebhookRequest struct {
	SubscriberID string   `json:"subscriber_id"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
}

// subscriptionResponse groups a subscriber's event registrations.
type subscriptionResponse struct {
	SubscriberID string              `json:"subscriber_id"`
	Events       []eventSubscription `json:"events"`
}

// eventSubscription is one event a subscriber registered for and the
// orders or markets it is delivered for.
type eventSubscription struct {
	WebhookID string `json:"webhook_id"`
	Event     string `json:"event"`
	Scope     string `json:"scope"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Upsert handles POST /webhooks. It answers 201 when any subscription was
// created and 200 when all of them already existed.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertWebhookRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	webhooks, anyCreated, err := h.webhookSvc.Upsert(service.UpsertWebhookRequest{
		SubscriberID: req.SubscriberID,
		URL:          req.URL,
		Events:       req.Events,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	status := http.StatusOK
	if anyCreated {
		status = http.StatusCreated
	}
	WriteJSON(w, status, buildSubscription(req.SubscriberID, webhooks))
}

// List handles GET /webhooks?subscriber_id=.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "subscriber_id query parameter is required")
		return
	}

	webhooks, err := h.webhookSvc.List(subscriberID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSubscription(subscriberID, webhooks))
}

// Delete handles DELETE /webhooks/{webhook_id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.webhookSvc.Delete(chi.URLParam(r, "webhook_id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildSubscription(subscriberID string, webhooks []*domain.Webhook) subscriptionResponse {
	events := make([]eventSubscription, len(webhooks))
	for i, wh := range webhooks {
		events[i] = eventSubscription{
			WebhookID: wh.WebhookID,
			Event:     wh.Event,
			Scope:     service.DeliveryScope(wh.Event),
			URL:       wh.URL,
			CreatedAt: wh.CreatedAt.UTC().Format(timeLayout),
			UpdatedAt: wh.UpdatedAt.UTC().Format(timeLayout),
		}
	}
	return subscriptionResponse{SubscriberID: subscriberID, Events: events}
}
