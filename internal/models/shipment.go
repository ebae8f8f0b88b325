package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colisapp/colis/internal/carriers"
)

type ShippingStatus string

const (
	StatusPending        ShippingStatus = "Pending"
	StatusProcessing     ShippingStatus = "Processing"
	StatusReadyToShip    ShippingStatus = "Ready to Ship"
	StatusShipped        ShippingStatus = "Shipped"
	StatusInTransit      ShippingStatus = "In Transit"
	StatusOutForDelivery ShippingStatus = "Out for Delivery"
	StatusDelivered      ShippingStatus = "Delivered"
	StatusDeliveryFailed ShippingStatus = "Delivery Failed"
	StatusReturned       ShippingStatus = "Returned"
	StatusLost           ShippingStatus = "Lost"
	StatusDamaged        ShippingStatus = "Damaged"
	StatusCancelled      ShippingStatus = "Cancelled"
)

var shippingStatuses = map[ShippingStatus]struct{}{
	StatusPending:        {},
	StatusProcessing:     {},
	StatusReadyToShip:    {},
	StatusShipped:        {},
	StatusInTransit:      {},
	StatusOutForDelivery: {},
	StatusDelivered:      {},
	StatusDeliveryFailed: {},
	StatusReturned:       {},
	StatusLost:           {},
	StatusDamaged:        {},
	StatusCancelled:      {},
}

func (s ShippingStatus) Valid() bool {
	_, ok := shippingStatuses[s]
	return ok
}

// EventToken returns the canonical event form of a status:
// lower-cased with spaces replaced by underscores ("Out for Delivery" -> "out_for_delivery").
func (s ShippingStatus) EventToken() EventStatus {
	return EventStatus(strings.ReplaceAll(strings.ToLower(string(s)), " ", "_"))
}

type EventStatus string

const (
	EventLabelCreated      EventStatus = "label_created"
	EventPickedUp          EventStatus = "picked_up"
	EventInTransit         EventStatus = "in_transit"
	EventOutForDelivery    EventStatus = "out_for_delivery"
	EventDelivered         EventStatus = "delivered"
	EventDeliveryAttempted EventStatus = "delivery_attempted"
	EventException         EventStatus = "exception"
	EventReturned          EventStatus = "returned"
	EventLost              EventStatus = "lost"
	EventDamaged           EventStatus = "damaged"
)

var eventStatuses = map[EventStatus]struct{}{
	EventLabelCreated:      {},
	EventPickedUp:          {},
	EventInTransit:         {},
	EventOutForDelivery:    {},
	EventDelivered:         {},
	EventDeliveryAttempted: {},
	EventException:         {},
	EventReturned:          {},
	EventLost:              {},
	EventDamaged:           {},
}

func (s EventStatus) Valid() bool {
	_, ok := eventStatuses[s]
	return ok
}

// eventStatusTransitions maps carrier event statuses to the overall shipment
// status they imply. Events outside this table leave the overall status alone.
var eventStatusTransitions = map[EventStatus]ShippingStatus{
	EventDelivered:      StatusDelivered,
	EventOutForDelivery: StatusOutForDelivery,
	EventInTransit:      StatusInTransit,
	EventPickedUp:       StatusShipped,
	EventException:      StatusDeliveryFailed,
	EventReturned:       StatusReturned,
	EventLost:           StatusLost,
	EventDamaged:        StatusDamaged,
}

type EventSource string

const (
	SourceCarrier EventSource = "carrier"
	SourceAPI     EventSource = "api"
	SourceManual  EventSource = "manual"
	SourceWebhook EventSource = "webhook"
)

func (s EventSource) Valid() bool {
	switch s {
	case SourceCarrier, SourceAPI, SourceManual, SourceWebhook:
		return true
	default:
		return false
	}
}

type ShippingMethod string

const (
	MethodStandard  ShippingMethod = "Standard"
	MethodExpress   ShippingMethod = "Express"
	MethodOvernight ShippingMethod = "Overnight"
	MethodEconomy   ShippingMethod = "Economy"
)

func (m ShippingMethod) Valid() bool {
	switch m {
	case MethodStandard, MethodExpress, MethodOvernight, MethodEconomy:
		return true
	default:
		return false
	}
}

type ReturnReason string

const (
	ReturnDeliveryFailed     ReturnReason = "delivery_failed"
	ReturnRefusedByRecipient ReturnReason = "refused_by_recipient"
	ReturnIncorrectAddress   ReturnReason = "incorrect_address"
	ReturnDamagedPackage     ReturnReason = "damaged_package"
	ReturnCustomerRequest    ReturnReason = "customer_request"
	ReturnOther              ReturnReason = "other"
)

func (r ReturnReason) Valid() bool {
	switch r {
	case ReturnDeliveryFailed, ReturnRefusedByRecipient, ReturnIncorrectAddress,
		ReturnDamagedPackage, ReturnCustomerRequest, ReturnOther:
		return true
	default:
		return false
	}
}

const (
	DefaultCountry       = "France"
	DefaultCarrier       = "La Poste"
	DefaultCurrency      = "EUR"
	DefaultWeightUnit    = "kg"
	DefaultDimensionUnit = "cm"

	maxInstructionsLen = 500
	maxInternalNotes   = 1000
)

// ValidationError reports a client-facing validation failure on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

type DeliveryAddress struct {
	Name         string `json:"name"`
	Company      string `json:"company,omitempty"`
	Street1      string `json:"street1"`
	Street2      string `json:"street2,omitempty"`
	City         string `json:"city"`
	Region       string `json:"region,omitempty"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

func (a *DeliveryAddress) validate(field string) error {
	if a == nil {
		return &ValidationError{Field: field, Message: "address is required"}
	}
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Field: field + ".name", Message: "name is required"}
	}
	if strings.TrimSpace(a.Street1) == "" {
		return &ValidationError{Field: field + ".street1", Message: "street is required"}
	}
	if strings.TrimSpace(a.City) == "" {
		return &ValidationError{Field: field + ".city", Message: "city is required"}
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return &ValidationError{Field: field + ".postal_code", Message: "postal code is required"}
	}
	if len(a.Instructions) > maxInstructionsLen {
		return &ValidationError{Field: field + ".instructions", Message: fmt.Sprintf("must be at most %d characters", maxInstructionsLen)}
	}
	return nil
}

type EventLocation struct {
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
	Facility string `json:"facility,omitempty"`
}

type TrackingEvent struct {
	ID          uuid.UUID      `json:"id"`
	Status      EventStatus    `json:"status"`
	Description string         `json:"description,omitempty"`
	Location    *EventLocation `json:"location,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Source      EventSource    `json:"source"`
}

type DeliveryTimeframe struct {
	MinDays int `json:"min_days"`
	MaxDays int `json:"max_days"`
}

type Package struct {
	WeightValue   float64 `json:"weight_value,omitempty"`
	WeightUnit    string  `json:"weight_unit,omitempty"`
	Length        float64 `json:"length,omitempty"`
	Width         float64 `json:"width,omitempty"`
	Height        float64 `json:"height,omitempty"`
	DimensionUnit string  `json:"dimension_unit,omitempty"`
	DeclaredValue float64 `json:"declared_value,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Description   string  `json:"description,omitempty"`
}

type Insurance struct {
	Insured bool    `json:"insured"`
	Value   float64 `json:"value,omitempty"`
	Cost    float64 `json:"cost,omitempty"`
}

type DeliveryConfirmation struct {
	ReceivedBy string `json:"received_by,omitempty"`
	Location   string `json:"location,omitempty"`
	Signature  string `json:"signature,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type ReturnInfo struct {
	IsReturned           bool         `json:"is_returned"`
	Reason               ReturnReason `json:"reason,omitempty"`
	RequestedAt          *time.Time   `json:"requested_at,omitempty"`
	ReturnTrackingNumber string       `json:"return_tracking_number,omitempty"`
}

type Label struct {
	URL       string     `json:"url,omitempty"`
	Format    string     `json:"format,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type Shipment struct {
	ID                    uuid.UUID             `json:"id"`
	OrderID               string                `json:"order_id"`
	SellerID              string                `json:"seller_id"`
	ShippingMethod        ShippingMethod        `json:"shipping_method"`
	Carrier               string                `json:"carrier"`
	CarrierService        string                `json:"carrier_service,omitempty"`
	TrackingNumber        string                `json:"tracking_number"`
	TrackingURL           string                `json:"tracking_url,omitempty"`
	Status                ShippingStatus        `json:"status"`
	ShippingAddress       DeliveryAddress       `json:"shipping_address"`
	ReturnAddress         DeliveryAddress       `json:"return_address"`
	Package               *Package              `json:"package,omitempty"`
	ShippingCost          float64               `json:"shipping_cost"`
	Insurance             *Insurance            `json:"insurance,omitempty"`
	SignatureRequired     bool                  `json:"signature_required"`
	SaturdayDelivery      bool                  `json:"saturday_delivery"`
	ShippedAt             *time.Time            `json:"shipped_at,omitempty"`
	EstimatedDeliveryDate *time.Time            `json:"estimated_delivery_date,omitempty"`
	ActualDeliveryDate    *time.Time            `json:"actual_delivery_date,omitempty"`
	DeliveryTimeframe     *DeliveryTimeframe    `json:"delivery_timeframe,omitempty"`
	Events                []TrackingEvent       `json:"events"`
	LastTrackingUpdate    *time.Time            `json:"last_tracking_update,omitempty"`
	DeliveryConfirmation  *DeliveryConfirmation `json:"delivery_confirmation,omitempty"`
	Return                *ReturnInfo           `json:"return,omitempty"`
	Label                 *Label                `json:"label,omitempty"`
	CarrierMetadata       Metadata              `json:"carrier_metadata,omitempty"`
	InternalNotes         string                `json:"internal_notes,omitempty"`
	AutoTracking          bool                  `json:"auto_tracking"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

func (s *Shipment) Validate() error {
	if strings.TrimSpace(s.OrderID) == "" {
		return &ValidationError{Field: "order_id", Message: "order reference is required"}
	}
	if strings.TrimSpace(s.SellerID) == "" {
		return &ValidationError{Field: "seller_id", Message: "seller reference is required"}
	}
	if strings.TrimSpace(s.TrackingNumber) == "" {
		return &ValidationError{Field: "tracking_number", Message: "tracking number is required"}
	}
	if !s.Status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a valid shipping status", s.Status)}
	}
	if !s.ShippingMethod.Valid() {
		return &ValidationError{Field: "shipping_method", Message: fmt.Sprintf("%q is not a valid shipping method", s.ShippingMethod)}
	}
	if !carriers.Known(s.Carrier) {
		return &ValidationError{Field: "carrier", Message: fmt.Sprintf("%q is not a recognized carrier", s.Carrier)}
	}
	if err := s.ShippingAddress.validate("shipping_address"); err != nil {
		return err
	}
	if err := s.ReturnAddress.validate("return_address"); err != nil {
		return err
	}
	if s.Return != nil && s.Return.Reason != "" && !s.Return.Reason.Valid() {
		return &ValidationError{Field: "return.reason", Message: fmt.Sprintf("%q is not a valid return reason", s.Return.Reason)}
	}
	if len(s.InternalNotes) > maxInternalNotes {
		return &ValidationError{Field: "internal_notes", Message: fmt.Sprintf("must be at most %d characters", maxInternalNotes)}
	}
	for i := range s.Events {
		if s.Events[i].Source != "" && !s.Events[i].Source.Valid() {
			return &ValidationError{Field: "events.source", Message: fmt.Sprintf("%q is not a valid event source", s.Events[i].Source)}
		}
	}
	return nil
}

// RecordEvent appends an event to the history and bumps LastTrackingUpdate.
// The history is append-only; callers never remove or rewrite entries.
func (s *Shipment) RecordEvent(ev TrackingEvent) *TrackingEvent {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = SourceAPI
	}
	s.Events = append(s.Events, ev)
	ts := ev.Timestamp
	s.LastTrackingUpdate = &ts
	return &s.Events[len(s.Events)-1]
}

// AddTrackingEvent appends a tracking event and, when the event status implies
// an overall shipment status, overwrites Status with the implied value.
// It mutates the in-memory record only: the caller is responsible for
// persisting the shipment afterwards.
func (s *Shipment) AddTrackingEvent(status EventStatus, description string, location *EventLocation, at *time.Time, source EventSource) (*TrackingEvent, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a valid tracking event status", status)}
	}
	if source == "" {
		source = SourceManual
	}
	if !source.Valid() {
		return nil, &ValidationError{Field: "source", Message: fmt.Sprintf("%q is not a valid event source", source)}
	}

	ev := TrackingEvent{
		Status:      status,
		Description: description,
		Location:    location,
		Source:      source,
	}
	if at != nil {
		ev.Timestamp = *at
	}
	recorded := s.RecordEvent(ev)

	if mapped, ok := eventStatusTransitions[status]; ok {
		s.Status = mapped
	}
	return recorded, nil
}

// LatestTrackingEvent returns the event with the newest timestamp, or nil.
// The scan leaves the stored event order untouched.
func (s *Shipment) LatestTrackingEvent() *TrackingEvent {
	if len(s.Events) == 0 {
		return nil
	}
	latest := 0
	for i := 1; i < len(s.Events); i++ {
		if !s.Events[i].Timestamp.Before(s.Events[latest].Timestamp) {
			latest = i
		}
	}
	return &s.Events[latest]
}

// GenerateTrackingURL derives the carrier tracking page URL, stores it on the
// shipment and returns it. Carriers without a known template yield "".
func (s *Shipment) GenerateTrackingURL() string {
	s.TrackingURL = carriers.TrackingURL(s.Carrier, s.TrackingNumber)
	return s.TrackingURL
}

const defaultMaxTransitDays = 7

// CalculateEstimatedDelivery walks forward from the ship date counting
// business days until the delivery time frame's maximum is reached. Sundays
// never count; Saturdays count only when SaturdayDelivery is set. Returns nil
// when the shipment has no ship date or no delivery time frame; otherwise the
// estimate is stored on the shipment and returned.
func (s *Shipment) CalculateEstimatedDelivery() *time.Time {
	if s.ShippedAt == nil || s.DeliveryTimeframe == nil {
		return nil
	}

	maxDays := s.DeliveryTimeframe.MaxDays
	if maxDays <= 0 {
		maxDays = defaultMaxTransitDays
	}

	date := *s.ShippedAt
	counted := 0
	for counted < maxDays {
		date = date.AddDate(0, 0, 1)
		if s.countsAsDeliveryDay(date.Weekday()) {
			counted++
		}
	}

	s.EstimatedDeliveryDate = &date
	return &date
}

func (s *Shipment) countsAsDeliveryDay(day time.Weekday) bool {
	if day == time.Sunday {
		return false
	}
	if day == time.Saturday && !s.SaturdayDelivery {
		return false
	}
	return true
}

// IsLate reports whether an undelivered shipment is past its estimate.
func (s *Shipment) IsLate() bool {
	return s.IsLateAt(time.Now())
}

func (s *Shipment) IsLateAt(now time.Time) bool {
	if s.EstimatedDeliveryDate == nil || s.Status == StatusDelivered {
		return false
	}
	return now.After(*s.EstimatedDeliveryDate)
}

// ApplyStatusDates fills the automatic lifecycle timestamps before a save:
// ShippedAt on the first transition into Shipped and ActualDeliveryDate on the
// first transition into Delivered. Both are set at most once here; only
// MarkAsDelivered deliberately overwrites the delivery date. Once a ship date
// exists the delivery estimate is derived from it if not already present.
func (s *Shipment) ApplyStatusDates(now time.Time) {
	if s.Status == StatusShipped && s.ShippedAt == nil {
		ts := now
		s.ShippedAt = &ts
	}
	if s.Status == StatusDelivered && s.ActualDeliveryDate == nil {
		ts := now
		s.ActualDeliveryDate = &ts
	}
	if s.ShippedAt != nil && s.EstimatedDeliveryDate == nil {
		s.CalculateEstimatedDelivery()
	}
}
