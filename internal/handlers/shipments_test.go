package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/colisapp/colis/internal/cache"
	"github.com/colisapp/colis/internal/config"
	"github.com/colisapp/colis/internal/db"
	"github.com/colisapp/colis/internal/models"
	"github.com/colisapp/colis/internal/services"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type fakeStore struct {
	shipments   map[uuid.UUID]*models.Shipment
	updateCalls int
	late        []*db.LateShipment
	stats       *db.ShippingStats
}

func newFakeStore() *fakeStore {
	return &fakeStore{shipments: map[uuid.UUID]*models.Shipment{}}
}

func (f *fakeStore) Create(ctx context.Context, shipment *db.Shipment) error {
	for _, existing := range f.shipments {
		if existing.TrackingNumber == shipment.TrackingNumber {
			return db.ErrDuplicateTrackingNumber
		}
		if existing.OrderID == shipment.OrderID {
			return db.ErrDuplicateOrderID
		}
	}
	f.shipments[shipment.ID] = shipment
	return nil
}

func (f *fakeStore) Update(ctx context.Context, shipment *db.Shipment) error {
	f.updateCalls++
	if _, ok := f.shipments[shipment.ID]; !ok {
		return db.ErrNotFound
	}
	f.shipments[shipment.ID] = shipment
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*db.Shipment, error) {
	shipment, ok := f.shipments[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return shipment, nil
}

func (f *fakeStore) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*db.Shipment, error) {
	for _, shipment := range f.shipments {
		if shipment.TrackingNumber == trackingNumber {
			return shipment, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) GetByOrderID(ctx context.Context, orderID string) (*db.Shipment, error) {
	for _, shipment := range f.shipments {
		if shipment.OrderID == orderID {
			return shipment, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) LateShipments(ctx context.Context, now time.Time) ([]*db.LateShipment, error) {
	return f.late, nil
}

func (f *fakeStore) Stats(ctx context.Context, sellerID string, from, to *time.Time) (*db.ShippingStats, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &db.ShippingStats{Carriers: []string{}}, nil
}

func newTestHandlers(t *testing.T) (*Handlers, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cacheProvider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = cacheProvider.Close() })

	h := &Handlers{
		config:          &config.Config{WebhookDedupeTTL: time.Hour},
		db:              stubPinger{},
		shipmentService: services.NewShipmentService(store, logger),
		cacheProvider:   cacheProvider,
		logger:          logger,
	}
	return h, store
}

func seedShipment(t *testing.T, h *Handlers, store *fakeStore) *models.Shipment {
	t.Helper()

	shipment, err := h.shipmentService.Create(context.Background(), services.CreateShipmentInput{
		OrderID:        "ord_123",
		SellerID:       "sel_456",
		TrackingNumber: "6A12345678901",
		ShippingAddress: models.DeliveryAddress{
			Name:       "Marie Dupont",
			Street1:    "12 rue de la Paix",
			City:       "Paris",
			PostalCode: "75002",
		},
		ReturnAddress: models.DeliveryAddress{
			Name:       "Atelier Colis",
			Street1:    "3 avenue des Ternes",
			City:       "Paris",
			PostalCode: "75017",
		},
	})
	if err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	return shipment
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)
	h.db = stubPinger{err: errors.New("connection refused")}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCreateShipment(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	payload := `{
		"order_id": "ord_123",
		"seller_id": "sel_456",
		"tracking_number": "6A12345678901",
		"shipping_address": {"name": "Marie Dupont", "street1": "12 rue de la Paix", "city": "Paris", "postal_code": "75002"},
		"return_address": {"name": "Atelier Colis", "street1": "3 avenue des Ternes", "city": "Paris", "postal_code": "75017"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/shipments", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.CreateShipment(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var created models.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Status != models.StatusPending {
		t.Fatalf("status = %q, want %q", created.Status, models.StatusPending)
	}
	if created.Carrier != "La Poste" {
		t.Fatalf("carrier = %q, want La Poste", created.Carrier)
	}
}

func TestCreateShipment_MissingField(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/api/shipments", strings.NewReader(`{"order_id": "ord_123"}`))
	rec := httptest.NewRecorder()
	h.CreateShipment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorResponse(t, rec); body.Field == "" {
		t.Fatalf("expected the offending field in the error response")
	}
}

func TestCreateShipment_DuplicateTrackingNumber(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	seedShipment(t, h, store)

	payload := `{
		"order_id": "ord_999",
		"seller_id": "sel_456",
		"tracking_number": "6A12345678901",
		"shipping_address": {"name": "Marie Dupont", "street1": "12 rue de la Paix", "city": "Paris", "postal_code": "75002"},
		"return_address": {"name": "Atelier Colis", "street1": "3 avenue des Ternes", "city": "Paris", "postal_code": "75017"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/shipments", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.CreateShipment(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusConflict)
	}
	if body := decodeErrorResponse(t, rec); body.Field != "tracking_number" {
		t.Fatalf("field = %q, want tracking_number", body.Field)
	}
}

func TestGetShipment_NotFound(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/shipments/"+uuid.NewString(), nil)
	req = mux.SetURLVars(req, map[string]string{"id": uuid.NewString()})
	rec := httptest.NewRecorder()
	h.GetShipment(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestGetShipment_InvalidID(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/shipments/not-a-uuid", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "not-a-uuid"})
	rec := httptest.NewRecorder()
	h.GetShipment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorResponse(t, rec); body.Field != "id" {
		t.Fatalf("field = %q, want id", body.Field)
	}
}

func TestGetShipmentByTracking(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	seeded := seedShipment(t, h, store)

	req := httptest.NewRequest(http.MethodGet, "/api/shipments/tracking/"+seeded.TrackingNumber, nil)
	req = mux.SetURLVars(req, map[string]string{"trackingNumber": seeded.TrackingNumber})
	rec := httptest.NewRecorder()
	h.GetShipmentByTracking(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}

	var got models.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != seeded.ID {
		t.Fatalf("id = %s, want %s", got.ID, seeded.ID)
	}
}

func TestUpdateShipmentStatus(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	seeded := seedShipment(t, h, store)

	payload := `{"status": "In Transit", "description": "left the sorting hub"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/shipments/"+seeded.ID.String()+"/status", strings.NewReader(payload))
	req = mux.SetURLVars(req, map[string]string{"id": seeded.ID.String()})
	rec := httptest.NewRecorder()
	h.UpdateShipmentStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got models.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != models.StatusInTransit {
		t.Fatalf("status = %q, want In Transit", got.Status)
	}
	if len(got.Events) != 1 || got.Events[0].Status != "in_transit" {
		t.Fatalf("expected one in_transit event, got %+v", got.Events)
	}
}

func TestUpdateShipmentStatus_UnknownStatus(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	seeded := seedShipment(t, h, store)

	req := httptest.NewRequest(http.MethodPatch, "/api/shipments/"+seeded.ID.String()+"/status", strings.NewReader(`{"status": "Teleported"}`))
	req = mux.SetURLVars(req, map[string]string{"id": seeded.ID.String()})
	rec := httptest.NewRecorder()
	h.UpdateShipmentStatus(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorResponse(t, rec); body.Field != "status" {
		t.Fatalf("field = %q, want status", body.Field)
	}
}

func TestAddShipmentEvent(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	seeded := seedShipment(t, h, store)

	payload := `{"status": "delivered", "description": "left at the door"}`
	req := httptest.NewRequest(http.MethodPost, "/api/shipments/"+seeded.ID.String()+"/events", strings.NewReader(payload))
	req = mux.SetURLVars(req, map[string]string{"id": seeded.ID.String()})
	rec := httptest.NewRecorder()
	h.AddShipmentEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got models.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != models.StatusDelivered {
		t.Fatalf("status = %q, want Delivered", got.Status)
	}
}

func TestMarkShipmentDelivered(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	seeded := seedShipment(t, h, store)

	payload := `{"received_by": "Marie Dupont", "signature": "MD"}`
	req := httptest.NewRequest(http.MethodPost, "/api/shipments/"+seeded.ID.String()+"/delivered", strings.NewReader(payload))
	req = mux.SetURLVars(req, map[string]string{"id": seeded.ID.String()})
	rec := httptest.NewRecorder()
	h.MarkShipmentDelivered(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got models.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.DeliveryConfirmation == nil || got.DeliveryConfirmation.ReceivedBy != "Marie Dupont" {
		t.Fatalf("delivery confirmation missing: %+v", got.DeliveryConfirmation)
	}
	if got.ActualDeliveryDate == nil {
		t.Fatalf("expected actual delivery date to be set")
	}
}

func TestProcessShipmentReturn(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	seeded := seedShipment(t, h, store)

	payload := `{"reason": "damaged_package", "return_tracking_number": "RT123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/shipments/"+seeded.ID.String()+"/return", strings.NewReader(payload))
	req = mux.SetURLVars(req, map[string]string{"id": seeded.ID.String()})
	rec := httptest.NewRecorder()
	h.ProcessShipmentReturn(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var got models.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Return == nil || !got.Return.IsReturned {
		t.Fatalf("return not recorded: %+v", got.Return)
	}
	if got.Status != models.StatusReturned {
		t.Fatalf("status = %q, want Returned", got.Status)
	}
}

func TestLateShipments_EmptyIsArray(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/shipments/late", nil)
	rec := httptest.NewRecorder()
	h.LateShipments(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("body = %s, want []", body)
	}
}

func TestShippingStats_InvalidDate(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/shipments/stats?start_date=yesterday", nil)
	rec := httptest.NewRecorder()
	h.ShippingStats(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	if body := decodeErrorResponse(t, rec); body.Field != "start_date" {
		t.Fatalf("field = %q, want start_date", body.Field)
	}
}

func TestShippingStats(t *testing.T) {
	t.Parallel()

	h, store := newTestHandlers(t)
	store.stats = &db.ShippingStats{
		Total:     4,
		Delivered: 2,
		InTransit: 1,
		Carriers:  []string{"La Poste", "Chronopost"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/shipments/stats?seller_id=sel_456&start_date=2025-06-01", nil)
	rec := httptest.NewRecorder()
	h.ShippingStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}

	var got db.ShippingStats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 4 || got.Delivered != 2 {
		t.Fatalf("stats = %+v", got)
	}
}
