package db

import "github.com/colisapp/colis/internal/models"

type Shipment = models.Shipment
type ShippingStatus = models.ShippingStatus
type TrackingEvent = models.TrackingEvent

const (
	StatusPending        = models.StatusPending
	StatusProcessing     = models.StatusProcessing
	StatusReadyToShip    = models.StatusReadyToShip
	StatusShipped        = models.StatusShipped
	StatusInTransit      = models.StatusInTransit
	StatusOutForDelivery = models.StatusOutForDelivery
	StatusDelivered      = models.StatusDelivered
	StatusDeliveryFailed = models.StatusDeliveryFailed
	StatusReturned       = models.StatusReturned
	StatusLost           = models.StatusLost
	StatusDamaged        = models.StatusDamaged
	StatusCancelled      = models.StatusCancelled
)
