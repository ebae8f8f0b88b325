package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colisapp/colis/internal/models"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound                = errors.New("shipment not found")
	ErrDuplicateTrackingNumber = errors.New("tracking number already exists")
	ErrDuplicateOrderID        = errors.New("order already has a shipment")
)

type ShipmentStore struct {
	pool *pgxpool.Pool
}

func NewShipmentStore(pool *pgxpool.Pool) *ShipmentStore {
	return &ShipmentStore{pool: pool}
}

// EnsureSchema creates the shipment tables and indexes when missing.
func (s *ShipmentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const shipmentColumns = `id, order_id, seller_id, shipping_method, carrier, carrier_service,
	tracking_number, tracking_url, status, shipping_address, return_address, package,
	shipping_cost, insurance, signature_required, saturday_delivery, shipped_at,
	estimated_delivery_date, actual_delivery_date, delivery_timeframe, events,
	last_tracking_update, delivery_confirmation, return_info, label, carrier_metadata,
	internal_notes, auto_tracking, created_at, updated_at`

func (s *ShipmentStore) Create(ctx context.Context, shipment *Shipment) error {
	now := time.Now().UTC()
	shipment.ApplyStatusDates(now)
	shipment.CreatedAt = now
	shipment.UpdatedAt = now
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}

	encoded, err := encodeShipment(shipment)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
	`,
		shipment.ID, shipment.OrderID, shipment.SellerID, shipment.ShippingMethod,
		shipment.Carrier, shipment.CarrierService, shipment.TrackingNumber,
		shipment.TrackingURL, shipment.Status, encoded.shippingAddress,
		encoded.returnAddress, encoded.pkg, shipment.ShippingCost, encoded.insurance,
		shipment.SignatureRequired, shipment.SaturdayDelivery, shipment.ShippedAt,
		shipment.EstimatedDeliveryDate, shipment.ActualDeliveryDate, encoded.timeframe,
		encoded.events, shipment.LastTrackingUpdate, encoded.confirmation,
		encoded.returnInfo, encoded.label, encoded.metadata, shipment.InternalNotes,
		shipment.AutoTracking, shipment.CreatedAt, shipment.UpdatedAt,
	)
	return translateError(err)
}

// Update writes every mutable column back; the shipment record is small enough
// that last-write-wins on the whole row is the intended semantics.
func (s *ShipmentStore) Update(ctx context.Context, shipment *Shipment) error {
	now := time.Now().UTC()
	shipment.ApplyStatusDates(now)
	shipment.UpdatedAt = now

	encoded, err := encodeShipment(shipment)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE shipments SET
			shipping_method = $2, carrier = $3, carrier_service = $4,
			tracking_number = $5, tracking_url = $6, status = $7,
			shipping_address = $8, return_address = $9, package = $10,
			shipping_cost = $11, insurance = $12, signature_required = $13,
			saturday_delivery = $14, shipped_at = $15, estimated_delivery_date = $16,
			actual_delivery_date = $17, delivery_timeframe = $18, events = $19,
			last_tracking_update = $20, delivery_confirmation = $21, return_info = $22,
			label = $23, carrier_metadata = $24, internal_notes = $25,
			auto_tracking = $26, updated_at = $27
		WHERE id = $1
	`,
		shipment.ID, shipment.ShippingMethod, shipment.Carrier, shipment.CarrierService,
		shipment.TrackingNumber, shipment.TrackingURL, shipment.Status,
		encoded.shippingAddress, encoded.returnAddress, encoded.pkg,
		shipment.ShippingCost, encoded.insurance, shipment.SignatureRequired,
		shipment.SaturdayDelivery, shipment.ShippedAt, shipment.EstimatedDeliveryDate,
		shipment.ActualDeliveryDate, encoded.timeframe, encoded.events,
		shipment.LastTrackingUpdate, encoded.confirmation, encoded.returnInfo,
		encoded.label, encoded.metadata, shipment.InternalNotes, shipment.AutoTracking,
		shipment.UpdatedAt,
	)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ShipmentStore) GetByID(ctx context.Context, id uuid.UUID) (*Shipment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	return scanShipment(row)
}

func (s *ShipmentStore) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Shipment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber)
	return scanShipment(row)
}

func (s *ShipmentStore) GetByOrderID(ctx context.Context, orderID string) (*Shipment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1`, orderID)
	return scanShipment(row)
}

// LateShipment pairs an overdue shipment with the minimal order and seller
// display fields the dashboard needs.
type LateShipment struct {
	Shipment     *Shipment `json:"shipment"`
	OrderNumber  string    `json:"order_number"`
	CustomerName string    `json:"customer_name"`
	SellerName   string    `json:"seller_name"`
	SellerEmail  string    `json:"seller_email"`
}

const lateShipmentColumns = `sh.id, sh.order_id, sh.seller_id, sh.shipping_method, sh.carrier,
	sh.carrier_service, sh.tracking_number, sh.tracking_url, sh.status, sh.shipping_address,
	sh.return_address, sh.package, sh.shipping_cost, sh.insurance, sh.signature_required,
	sh.saturday_delivery, sh.shipped_at, sh.estimated_delivery_date, sh.actual_delivery_date,
	sh.delivery_timeframe, sh.events, sh.last_tracking_update, sh.delivery_confirmation,
	sh.return_info, sh.label, sh.carrier_metadata, sh.internal_notes, sh.auto_tracking,
	sh.created_at, sh.updated_at`

// LateShipments returns undelivered shipments past their estimated delivery
// date, oldest estimate first.
func (s *ShipmentStore) LateShipments(ctx context.Context, now time.Time) ([]*LateShipment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+lateShipmentColumns+`,
			COALESCE(o.order_number, ''), COALESCE(o.customer_name, ''),
			COALESCE(se.name, ''), COALESCE(se.email, '')
		FROM shipments sh
		LEFT JOIN orders o ON o.id = sh.order_id
		LEFT JOIN sellers se ON se.id = sh.seller_id
		WHERE sh.status IN ('Shipped', 'In Transit', 'Out for Delivery')
		  AND sh.estimated_delivery_date IS NOT NULL
		  AND sh.estimated_delivery_date < $1
		ORDER BY sh.estimated_delivery_date ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var late []*LateShipment
	for rows.Next() {
		entry := &LateShipment{}
		shipment, err := scanShipmentFrom(rows.Scan,
			&entry.OrderNumber, &entry.CustomerName, &entry.SellerName, &entry.SellerEmail)
		if err != nil {
			return nil, err
		}
		entry.Shipment = shipment
		late = append(late, entry)
	}
	return late, rows.Err()
}

// ShippingStats aggregates shipment counts, the mean delivery duration in days
// and the raw carrier list over the matching shipments.
type ShippingStats struct {
	Total           int      `json:"total"`
	Delivered       int      `json:"delivered"`
	InTransit       int      `json:"in_transit"`
	Failed          int      `json:"failed"`
	AvgDeliveryDays float64  `json:"avg_delivery_days"`
	Carriers        []string `json:"carriers"`
}

// Stats computes aggregate shipping figures, optionally scoped to a seller and
// a shipped-at date range. An empty match yields the zero-valued shape.
func (s *ShipmentStore) Stats(ctx context.Context, sellerID string, from, to *time.Time) (*ShippingStats, error) {
	var (
		stats   ShippingStats
		avgDays pgtype.Float8
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'Delivered'),
			COUNT(*) FILTER (WHERE status IN ('Shipped', 'In Transit', 'Out for Delivery')),
			COUNT(*) FILTER (WHERE status = 'Delivery Failed'),
			AVG(EXTRACT(EPOCH FROM (actual_delivery_date - shipped_at)) / 86400.0)
				FILTER (WHERE shipped_at IS NOT NULL AND actual_delivery_date IS NOT NULL),
			COALESCE(array_agg(carrier) FILTER (WHERE carrier <> ''), '{}')
		FROM shipments
		WHERE ($1 = '' OR seller_id = $1)
		  AND ($2::timestamptz IS NULL OR shipped_at >= $2)
		  AND ($3::timestamptz IS NULL OR shipped_at <= $3)
	`, sellerID, from, to).Scan(
		&stats.Total, &stats.Delivered, &stats.InTransit, &stats.Failed,
		&avgDays, &stats.Carriers,
	)
	if err != nil {
		return nil, err
	}
	if avgDays.Valid {
		stats.AvgDeliveryDays = avgDays.Float64
	}
	if stats.Carriers == nil {
		stats.Carriers = []string{}
	}
	return &stats, nil
}

type encodedShipment struct {
	shippingAddress []byte
	returnAddress   []byte
	pkg             []byte
	insurance       []byte
	timeframe       []byte
	events          []byte
	confirmation    []byte
	returnInfo      []byte
	label           []byte
	metadata        []byte
}

func encodeShipment(shipment *Shipment) (*encodedShipment, error) {
	encoded := &encodedShipment{}

	var err error
	if encoded.shippingAddress, err = json.Marshal(shipment.ShippingAddress); err != nil {
		return nil, err
	}
	if encoded.returnAddress, err = json.Marshal(shipment.ReturnAddress); err != nil {
		return nil, err
	}

	events := shipment.Events
	if events == nil {
		events = []models.TrackingEvent{}
	}
	if encoded.events, err = json.Marshal(events); err != nil {
		return nil, err
	}

	if shipment.Package != nil {
		if encoded.pkg, err = json.Marshal(shipment.Package); err != nil {
			return nil, err
		}
	}
	if shipment.Insurance != nil {
		if encoded.insurance, err = json.Marshal(shipment.Insurance); err != nil {
			return nil, err
		}
	}
	if shipment.DeliveryTimeframe != nil {
		if encoded.timeframe, err = json.Marshal(shipment.DeliveryTimeframe); err != nil {
			return nil, err
		}
	}
	if shipment.DeliveryConfirmation != nil {
		if encoded.confirmation, err = json.Marshal(shipment.DeliveryConfirmation); err != nil {
			return nil, err
		}
	}
	if shipment.Return != nil {
		if encoded.returnInfo, err = json.Marshal(shipment.Return); err != nil {
			return nil, err
		}
	}
	if shipment.Label != nil {
		if encoded.label, err = json.Marshal(shipment.Label); err != nil {
			return nil, err
		}
	}
	if len(shipment.CarrierMetadata) > 0 {
		if encoded.metadata, err = json.Marshal(shipment.CarrierMetadata); err != nil {
			return nil, err
		}
	}
	return encoded, nil
}

func scanShipment(row pgx.Row) (*Shipment, error) {
	return scanShipmentFrom(row.Scan)
}

func scanShipmentFrom(scan func(dest ...any) error, extra ...any) (*Shipment, error) {
	var (
		shipment        models.Shipment
		shippingAddress []byte
		returnAddress   []byte
		pkg             []byte
		insurance       []byte
		timeframe       []byte
		events          []byte
		confirmation    []byte
		returnInfo      []byte
		label           []byte
		metadata        []byte
		shippedAt       pgtype.Timestamptz
		estimated       pgtype.Timestamptz
		actual          pgtype.Timestamptz
		lastUpdate      pgtype.Timestamptz
		createdAt       pgtype.Timestamptz
		updatedAt       pgtype.Timestamptz
	)

	dest := []any{
		&shipment.ID, &shipment.OrderID, &shipment.SellerID, &shipment.ShippingMethod,
		&shipment.Carrier, &shipment.CarrierService, &shipment.TrackingNumber,
		&shipment.TrackingURL, &shipment.Status, &shippingAddress, &returnAddress,
		&pkg, &shipment.ShippingCost, &insurance, &shipment.SignatureRequired,
		&shipment.SaturdayDelivery, &shippedAt, &estimated, &actual, &timeframe,
		&events, &lastUpdate, &confirmation, &returnInfo, &label, &metadata,
		&shipment.InternalNotes, &shipment.AutoTracking, &createdAt, &updatedAt,
	}
	dest = append(dest, extra...)

	if err := scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(shippingAddress, &shipment.ShippingAddress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(returnAddress, &shipment.ReturnAddress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(events, &shipment.Events); err != nil {
		return nil, err
	}
	if pkg != nil {
		if err := json.Unmarshal(pkg, &shipment.Package); err != nil {
			return nil, err
		}
	}
	if insurance != nil {
		if err := json.Unmarshal(insurance, &shipment.Insurance); err != nil {
			return nil, err
		}
	}
	if timeframe != nil {
		if err := json.Unmarshal(timeframe, &shipment.DeliveryTimeframe); err != nil {
			return nil, err
		}
	}
	if confirmation != nil {
		if err := json.Unmarshal(confirmation, &shipment.DeliveryConfirmation); err != nil {
			return nil, err
		}
	}
	if returnInfo != nil {
		if err := json.Unmarshal(returnInfo, &shipment.Return); err != nil {
			return nil, err
		}
	}
	if label != nil {
		if err := json.Unmarshal(label, &shipment.Label); err != nil {
			return nil, err
		}
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &shipment.CarrierMetadata); err != nil {
			return nil, err
		}
	}

	if shippedAt.Valid {
		shipment.ShippedAt = &shippedAt.Time
	}
	if estimated.Valid {
		shipment.EstimatedDeliveryDate = &estimated.Time
	}
	if actual.Valid {
		shipment.ActualDeliveryDate = &actual.Time
	}
	if lastUpdate.Valid {
		shipment.LastTrackingUpdate = &lastUpdate.Time
	}
	shipment.CreatedAt = createdAt.Time
	shipment.UpdatedAt = updatedAt.Time

	return &shipment, nil
}

// translateError maps unique-index violations to the conflict sentinel naming
// the offending field.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch {
		case strings.Contains(pgErr.ConstraintName, "tracking_number"):
			return ErrDuplicateTrackingNumber
		case strings.Contains(pgErr.ConstraintName, "order_id"):
			return ErrDuplicateOrderID
		}
	}
	return err
}
