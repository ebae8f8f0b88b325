package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/colisapp/colis/internal/cache"
	"github.com/colisapp/colis/internal/models"
	"github.com/colisapp/colis/internal/services"
)

const webhookSource = "carrier"

type carrierWebhookRequest struct {
	EventID        string                `json:"event_id" validate:"required"`
	TrackingNumber string                `json:"tracking_number" validate:"required"`
	Status         string                `json:"status" validate:"required"`
	Description    string                `json:"description"`
	Location       *models.EventLocation `json:"location"`
	Timestamp      *time.Time            `json:"timestamp"`
}

// CarrierWebhook ingests pushed carrier tracking events. Deliveries are
// retried by carriers, so events are deduplicated on their ID before being
// applied.
func (h *Handlers) CarrierWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFromContext(r.Context())

	var req carrierWebhookRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	dedupeKey := cache.WebhookKey(webhookSource, req.EventID)
	if _, err := h.cacheProvider.Get(r.Context(), dedupeKey); err == nil {
		logger.Info("duplicate carrier webhook ignored", "event_id", req.EventID)
		h.writeJSON(w, r, http.StatusOK, map[string]any{"duplicate": true})
		return
	} else if !errors.Is(err, cache.ErrNotFound) {
		logger.Warn("webhook dedupe lookup failed", "event_id", req.EventID, "error", err)
	}

	shipment, err := h.shipmentService.RecordTrackingEventByNumber(r.Context(), req.TrackingNumber, services.TrackingEventInput{
		Status:      models.EventStatus(req.Status),
		Description: req.Description,
		Location:    req.Location,
		Timestamp:   req.Timestamp,
		Source:      models.SourceWebhook,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.cacheProvider.Set(r.Context(), dedupeKey, "processed", h.config.WebhookDedupeTTL); err != nil {
		logger.Warn("failed to record webhook dedupe key", "event_id", req.EventID, "error", err)
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"shipment_id": shipment.ID,
		"status":      shipment.Status,
	})
}
