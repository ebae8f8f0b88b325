package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/colisapp/colis/internal/cache"
	"github.com/colisapp/colis/internal/config"
	"github.com/colisapp/colis/internal/db"
	"github.com/colisapp/colis/internal/logging"
	"github.com/colisapp/colis/internal/models"
	"github.com/colisapp/colis/internal/services"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

var requestValidator = validator.New()

// Pinger is the slice of the pgx pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers provides the HTTP request handlers for the shipment API.
type Handlers struct {
	config          *config.Config
	db              Pinger
	shipmentService *services.ShipmentService
	cacheProvider   cache.Provider
	logger          *slog.Logger
}

type Dependencies struct {
	Config          *config.Config
	DB              Pinger
	ShipmentService *services.ShipmentService
	CacheProvider   cache.Provider
	Logger          *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.ShipmentService == nil {
		return nil, fmt.Errorf("handlers dependencies: shipmentService is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}

	return &Handlers{
		config:          deps.Config,
		db:              deps.DB,
		shipmentService: deps.ShipmentService,
		cacheProvider:   deps.CacheProvider,
		logger:          logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *models.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeJSON(w, r, http.StatusBadRequest, errorResponse{
			Error: validationErr.Message,
			Field: validationErr.Field,
		})
	case errors.Is(err, db.ErrDuplicateTrackingNumber):
		h.writeJSON(w, r, http.StatusConflict, errorResponse{
			Error: err.Error(),
			Field: "tracking_number",
		})
	case errors.Is(err, db.ErrDuplicateOrderID):
		h.writeJSON(w, r, http.StatusConflict, errorResponse{
			Error: err.Error(),
			Field: "order_id",
		})
	case errors.Is(err, db.ErrNotFound):
		h.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		h.loggerFromContext(r.Context()).Error("request failed", "error", err)
		h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeBody decodes a size-capped JSON request body into dst and runs the
// struct validation tags.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Message: "invalid JSON payload: " + err.Error()}
	}

	if err := requestValidator.Struct(dst); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			first := fieldErrors[0]
			return &models.ValidationError{
				Field:   first.Field(),
				Message: fmt.Sprintf("failed %q validation", first.Tag()),
			}
		}
		return &models.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
