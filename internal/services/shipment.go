package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/colisapp/colis/internal/carriers"
	"github.com/colisapp/colis/internal/db"
	"github.com/colisapp/colis/internal/logging"
	"github.com/colisapp/colis/internal/models"
	"github.com/colisapp/colis/internal/observability"
)

type shipmentStore interface {
	Create(ctx context.Context, shipment *db.Shipment) error
	Update(ctx context.Context, shipment *db.Shipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Shipment, error)
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*db.Shipment, error)
	GetByOrderID(ctx context.Context, orderID string) (*db.Shipment, error)
	LateShipments(ctx context.Context, now time.Time) ([]*db.LateShipment, error)
	Stats(ctx context.Context, sellerID string, from, to *time.Time) (*db.ShippingStats, error)
}

// ShipmentService owns the shipment lifecycle: creation, status transitions,
// tracking history and the dashboard aggregates.
type ShipmentService struct {
	store  shipmentStore
	logger *slog.Logger
}

func NewShipmentService(store shipmentStore, logger *slog.Logger) *ShipmentService {
	return &ShipmentService{
		store:  store,
		logger: logger,
	}
}

func (s *ShipmentService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type CreateShipmentInput struct {
	OrderID           string
	SellerID          string
	ShippingMethod    models.ShippingMethod
	Carrier           string
	CarrierService    string
	TrackingNumber    string
	ShippingAddress   models.DeliveryAddress
	ReturnAddress     models.DeliveryAddress
	Package           *models.Package
	ShippingCost      float64
	Insurance         *models.Insurance
	SignatureRequired bool
	SaturdayDelivery  bool
	DeliveryTimeframe *models.DeliveryTimeframe
	Label             *models.Label
	CarrierMetadata   models.Metadata
	InternalNotes     string
	AutoTracking      *bool
}

// Create validates the input, applies defaults, derives the tracking URL and
// persists the new shipment. Duplicate tracking numbers or order references
// surface as the store's conflict errors.
func (s *ShipmentService) Create(ctx context.Context, input CreateShipmentInput) (*models.Shipment, error) {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	shipment := &models.Shipment{
		ID:                uuid.New(),
		OrderID:           input.OrderID,
		SellerID:          input.SellerID,
		ShippingMethod:    input.ShippingMethod,
		Carrier:           input.Carrier,
		CarrierService:    input.CarrierService,
		TrackingNumber:    input.TrackingNumber,
		Status:            models.StatusPending,
		ShippingAddress:   input.ShippingAddress,
		ReturnAddress:     input.ReturnAddress,
		Package:           input.Package,
		ShippingCost:      input.ShippingCost,
		Insurance:         input.Insurance,
		SignatureRequired: input.SignatureRequired,
		SaturdayDelivery:  input.SaturdayDelivery,
		DeliveryTimeframe: input.DeliveryTimeframe,
		Label:             input.Label,
		CarrierMetadata:   input.CarrierMetadata,
		InternalNotes:     input.InternalNotes,
		AutoTracking:      true,
	}
	if input.AutoTracking != nil {
		shipment.AutoTracking = *input.AutoTracking
	}
	if shipment.ShippingMethod == "" {
		shipment.ShippingMethod = models.MethodStandard
	}
	if shipment.Carrier == "" {
		shipment.Carrier = models.DefaultCarrier
	}
	if shipment.ShippingAddress.Country == "" {
		shipment.ShippingAddress.Country = models.DefaultCountry
	}
	if shipment.ReturnAddress.Country == "" {
		shipment.ReturnAddress.Country = models.DefaultCountry
	}
	if shipment.DeliveryTimeframe == nil {
		if minDays, maxDays, ok := carriers.DefaultTimeframe(shipment.Carrier); ok {
			shipment.DeliveryTimeframe = &models.DeliveryTimeframe{MinDays: minDays, MaxDays: maxDays}
		}
	}
	if pkg := shipment.Package; pkg != nil {
		if pkg.WeightUnit == "" {
			pkg.WeightUnit = models.DefaultWeightUnit
		}
		if pkg.DimensionUnit == "" {
			pkg.DimensionUnit = models.DefaultDimensionUnit
		}
		if pkg.Currency == "" {
			pkg.Currency = models.DefaultCurrency
		}
	}

	if err := shipment.Validate(); err != nil {
		return nil, err
	}
	shipment.GenerateTrackingURL()

	if err := s.store.Create(ctx, shipment); err != nil {
		return nil, err
	}

	meter.Count("shipment.created", 1, sentry.WithAttributes(
		attribute.String("carrier", shipment.Carrier),
	))
	logger.Info("shipment created",
		"shipment_id", shipment.ID,
		"order_id", shipment.OrderID,
		"carrier", shipment.Carrier,
		"tracking_number", shipment.TrackingNumber,
	)
	return shipment, nil
}

func (s *ShipmentService) GetByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	return s.store.GetByID(ctx, id)
}

func (s *ShipmentService) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	return s.store.GetByTrackingNumber(ctx, trackingNumber)
}

func (s *ShipmentService) GetByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	return s.store.GetByOrderID(ctx, orderID)
}

// UpdateStatus sets the overall status, records a manual tracking event whose
// status is the canonical event form of newStatus, and persists the shipment.
// Unlike Shipment.AddTrackingEvent this entry point saves the record itself.
func (s *ShipmentService) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus models.ShippingStatus, description string, location *models.EventLocation) (*models.Shipment, error) {
	if !newStatus.Valid() {
		return nil, &models.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("%q is not a valid shipping status", newStatus),
		}
	}

	shipment, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	shipment.Status = newStatus
	shipment.RecordEvent(models.TrackingEvent{
		Status:      newStatus.EventToken(),
		Description: description,
		Location:    location,
		Source:      models.SourceManual,
	})

	if err := s.store.Update(ctx, shipment); err != nil {
		return nil, err
	}

	observability.MeterFromContext(ctx).Count("shipment.status_updated", 1, sentry.WithAttributes(
		attribute.String("status", string(newStatus)),
	))
	s.loggerFromContext(ctx).Info("shipment status updated",
		"shipment_id", shipment.ID,
		"status", newStatus,
	)
	return shipment, nil
}

type TrackingEventInput struct {
	Status      models.EventStatus
	Description string
	Location    *models.EventLocation
	Timestamp   *time.Time
	Source      models.EventSource
}

// RecordTrackingEvent loads the shipment, applies the event through
// Shipment.AddTrackingEvent (including its status side effect) and persists
// the result.
func (s *ShipmentService) RecordTrackingEvent(ctx context.Context, id uuid.UUID, input TrackingEventInput) (*models.Shipment, error) {
	shipment, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyTrackingEvent(ctx, shipment, input)
}

// RecordTrackingEventByNumber is the carrier-facing variant keyed by tracking
// number, used by the webhook surface.
func (s *ShipmentService) RecordTrackingEventByNumber(ctx context.Context, trackingNumber string, input TrackingEventInput) (*models.Shipment, error) {
	shipment, err := s.store.GetByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	return s.applyTrackingEvent(ctx, shipment, input)
}

func (s *ShipmentService) applyTrackingEvent(ctx context.Context, shipment *models.Shipment, input TrackingEventInput) (*models.Shipment, error) {
	event, err := shipment.AddTrackingEvent(input.Status, input.Description, input.Location, input.Timestamp, input.Source)
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, shipment); err != nil {
		return nil, err
	}

	observability.MeterFromContext(ctx).Count("shipment.tracking_event", 1, sentry.WithAttributes(
		attribute.String("event_status", string(input.Status)),
		attribute.String("source", string(event.Source)),
	))
	s.loggerFromContext(ctx).Info("tracking event recorded",
		"shipment_id", shipment.ID,
		"event_status", input.Status,
		"source", event.Source,
		"status", shipment.Status,
	)
	return shipment, nil
}

type DeliveryConfirmationInput struct {
	ReceivedBy string
	Location   string
	Signature  string
	PhotoURL   string
	Notes      string
}

// MarkAsDelivered forces the shipment into Delivered: the delivery date is
// overwritten even when already set, the confirmation sub-record is replaced
// wholesale and a delivered event is appended.
func (s *ShipmentService) MarkAsDelivered(ctx context.Context, id uuid.UUID, input DeliveryConfirmationInput) (*models.Shipment, error) {
	shipment, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	shipment.Status = models.StatusDelivered
	shipment.ActualDeliveryDate = &now
	shipment.DeliveryConfirmation = &models.DeliveryConfirmation{
		ReceivedBy: input.ReceivedBy,
		Location:   input.Location,
		Signature:  input.Signature,
		PhotoURL:   input.PhotoURL,
		Notes:      input.Notes,
	}

	description := "Package delivered"
	if input.ReceivedBy != "" {
		description = fmt.Sprintf("Package delivered, received by %s", input.ReceivedBy)
	}
	shipment.RecordEvent(models.TrackingEvent{
		Status:      models.EventDelivered,
		Description: description,
		Timestamp:   now,
		Source:      models.SourceManual,
	})

	if err := s.store.Update(ctx, shipment); err != nil {
		return nil, err
	}

	observability.MeterFromContext(ctx).Count("shipment.delivered", 1)
	s.loggerFromContext(ctx).Info("shipment marked delivered",
		"shipment_id", shipment.ID,
		"received_by", input.ReceivedBy,
	)
	return shipment, nil
}

// ProcessReturn flags the shipment as returned, records the reason and return
// tracking number and appends a returned event.
func (s *ShipmentService) ProcessReturn(ctx context.Context, id uuid.UUID, reason models.ReturnReason, returnTrackingNumber string) (*models.Shipment, error) {
	if !reason.Valid() {
		return nil, &models.ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("%q is not a valid return reason", reason),
		}
	}

	shipment, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	shipment.Return = &models.ReturnInfo{
		IsReturned:           true,
		Reason:               reason,
		RequestedAt:          &now,
		ReturnTrackingNumber: returnTrackingNumber,
	}
	shipment.Status = models.StatusReturned
	shipment.RecordEvent(models.TrackingEvent{
		Status:      models.EventReturned,
		Description: fmt.Sprintf("Return initiated: %s", reason),
		Timestamp:   now,
		Source:      models.SourceManual,
	})

	if err := s.store.Update(ctx, shipment); err != nil {
		return nil, err
	}

	observability.MeterFromContext(ctx).Count("shipment.returned", 1, sentry.WithAttributes(
		attribute.String("reason", string(reason)),
	))
	s.loggerFromContext(ctx).Info("shipment return processed",
		"shipment_id", shipment.ID,
		"reason", reason,
	)
	return shipment, nil
}

// LateShipments lists undelivered shipments past their delivery estimate.
func (s *ShipmentService) LateShipments(ctx context.Context) ([]*db.LateShipment, error) {
	return s.store.LateShipments(ctx, time.Now().UTC())
}

type StatsFilter struct {
	SellerID string
	From     *time.Time
	To       *time.Time
}

// Stats aggregates shipping figures over the filtered shipment set.
func (s *ShipmentService) Stats(ctx context.Context, filter StatsFilter) (*db.ShippingStats, error) {
	return s.store.Stats(ctx, filter.SellerID, filter.From, filter.To)
}
