package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/colisapp/colis/internal/config"
	"github.com/colisapp/colis/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)

	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/webhooks/carrier", h.CarrierWebhook).Methods("POST").Name("webhooks.carrier")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/shipments", h.CreateShipment).Methods("POST").Name("shipments.create")
	api.HandleFunc("/shipments/late", h.LateShipments).Methods("GET").Name("shipments.late")
	api.HandleFunc("/shipments/stats", h.ShippingStats).Methods("GET").Name("shipments.stats")
	api.HandleFunc("/shipments/tracking/{trackingNumber}", h.GetShipmentByTracking).Methods("GET").Name("shipments.tracking")
	api.HandleFunc("/shipments/{id}", h.GetShipment).Methods("GET").Name("shipments.get")
	api.HandleFunc("/shipments/{id}/status", h.UpdateShipmentStatus).Methods("PATCH").Name("shipments.status")
	api.HandleFunc("/shipments/{id}/events", h.AddShipmentEvent).Methods("POST").Name("shipments.events")
	api.HandleFunc("/shipments/{id}/delivered", h.MarkShipmentDelivered).Methods("POST").Name("shipments.delivered")
	api.HandleFunc("/shipments/{id}/return", h.ProcessShipmentReturn).Methods("POST").Name("shipments.return")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})

	return r
}
