package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/colisapp/colis/internal/db"
	"github.com/colisapp/colis/internal/models"
	"github.com/colisapp/colis/internal/services"
)

type createShipmentRequest struct {
	OrderID           string                    `json:"order_id" validate:"required"`
	SellerID          string                    `json:"seller_id" validate:"required"`
	ShippingMethod    string                    `json:"shipping_method"`
	Carrier           string                    `json:"carrier"`
	CarrierService    string                    `json:"carrier_service"`
	TrackingNumber    string                    `json:"tracking_number" validate:"required"`
	ShippingAddress   models.DeliveryAddress    `json:"shipping_address"`
	ReturnAddress     models.DeliveryAddress    `json:"return_address"`
	Package           *models.Package           `json:"package"`
	ShippingCost      float64                   `json:"shipping_cost"`
	Insurance         *models.Insurance         `json:"insurance"`
	SignatureRequired bool                      `json:"signature_required"`
	SaturdayDelivery  bool                      `json:"saturday_delivery"`
	DeliveryTimeframe *models.DeliveryTimeframe `json:"delivery_timeframe"`
	Label             *models.Label             `json:"label"`
	CarrierMetadata   models.Metadata           `json:"carrier_metadata"`
	InternalNotes     string                    `json:"internal_notes" validate:"max=1000"`
	AutoTracking      *bool                     `json:"auto_tracking"`
}

func (h *Handlers) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	shipment, err := h.shipmentService.Create(r.Context(), services.CreateShipmentInput{
		OrderID:           req.OrderID,
		SellerID:          req.SellerID,
		ShippingMethod:    models.ShippingMethod(req.ShippingMethod),
		Carrier:           req.Carrier,
		CarrierService:    req.CarrierService,
		TrackingNumber:    req.TrackingNumber,
		ShippingAddress:   req.ShippingAddress,
		ReturnAddress:     req.ReturnAddress,
		Package:           req.Package,
		ShippingCost:      req.ShippingCost,
		Insurance:         req.Insurance,
		SignatureRequired: req.SignatureRequired,
		SaturdayDelivery:  req.SaturdayDelivery,
		DeliveryTimeframe: req.DeliveryTimeframe,
		Label:             req.Label,
		CarrierMetadata:   req.CarrierMetadata,
		InternalNotes:     req.InternalNotes,
		AutoTracking:      req.AutoTracking,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, shipment)
}

func (h *Handlers) GetShipment(w http.ResponseWriter, r *http.Request) {
	id, err := shipmentIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	shipment, err := h.shipmentService.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipment)
}

func (h *Handlers) GetShipmentByTracking(w http.ResponseWriter, r *http.Request) {
	trackingNumber := mux.Vars(r)["trackingNumber"]

	shipment, err := h.shipmentService.GetByTrackingNumber(r.Context(), trackingNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipment)
}

type updateStatusRequest struct {
	Status      string                `json:"status" validate:"required"`
	Description string                `json:"description"`
	Location    *models.EventLocation `json:"location"`
}

func (h *Handlers) UpdateShipmentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := shipmentIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	shipment, err := h.shipmentService.UpdateStatus(r.Context(), id,
		models.ShippingStatus(req.Status), req.Description, req.Location)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipment)
}

type trackingEventRequest struct {
	Status      string                `json:"status" validate:"required"`
	Description string                `json:"description"`
	Location    *models.EventLocation `json:"location"`
	Timestamp   *time.Time            `json:"timestamp"`
}

func (h *Handlers) AddShipmentEvent(w http.ResponseWriter, r *http.Request) {
	id, err := shipmentIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req trackingEventRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	shipment, err := h.shipmentService.RecordTrackingEvent(r.Context(), id, services.TrackingEventInput{
		Status:      models.EventStatus(req.Status),
		Description: req.Description,
		Location:    req.Location,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipment)
}

type markDeliveredRequest struct {
	ReceivedBy string `json:"received_by"`
	Location   string `json:"location"`
	Signature  string `json:"signature"`
	PhotoURL   string `json:"photo_url"`
	Notes      string `json:"notes"`
}

func (h *Handlers) MarkShipmentDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := shipmentIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req markDeliveredRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	shipment, err := h.shipmentService.MarkAsDelivered(r.Context(), id, services.DeliveryConfirmationInput{
		ReceivedBy: req.ReceivedBy,
		Location:   req.Location,
		Signature:  req.Signature,
		PhotoURL:   req.PhotoURL,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipment)
}

type processReturnRequest struct {
	Reason               string `json:"reason" validate:"required"`
	ReturnTrackingNumber string `json:"return_tracking_number"`
}

func (h *Handlers) ProcessShipmentReturn(w http.ResponseWriter, r *http.Request) {
	id, err := shipmentIDFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req processReturnRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	shipment, err := h.shipmentService.ProcessReturn(r.Context(), id,
		models.ReturnReason(req.Reason), req.ReturnTrackingNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipment)
}

func (h *Handlers) LateShipments(w http.ResponseWriter, r *http.Request) {
	late, err := h.shipmentService.LateShipments(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if late == nil {
		late = []*db.LateShipment{}
	}
	h.writeJSON(w, r, http.StatusOK, late)
}

func (h *Handlers) ShippingStats(w http.ResponseWriter, r *http.Request) {
	filter := services.StatsFilter{
		SellerID: r.URL.Query().Get("seller_id"),
	}

	from, err := parseDateParam(r.URL.Query().Get("start_date"))
	if err != nil {
		h.writeError(w, r, &models.ValidationError{Field: "start_date", Message: err.Error()})
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("end_date"))
	if err != nil {
		h.writeError(w, r, &models.ValidationError{Field: "end_date", Message: err.Error()})
		return
	}
	filter.From = from
	filter.To = to

	stats, err := h.shipmentService.Stats(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, stats)
}

func shipmentIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &models.ValidationError{Field: "id", Message: "must be a valid UUID"}
	}
	return id, nil
}

// parseDateParam accepts RFC 3339 timestamps and plain dates.
func parseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
