//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in order.CreateInput) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID string) (*storage.Order, error)
	Track(ctx context.Context, trackingNumber string) (*storage.Order, error)
	UpdateStatus(ctx context.Context, orderID string, upd order.StatusUpdate) (*storage.Order, error)
	UpdateOrder(ctx context.Context, orderID string, patch order.Patch) (*storage.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, f order.Filter) (*order.ListResult, error)
	ExportRows(ctx context.Context, f order.Filter) ([]storage.Order, error)
	Stats(ctx context.Context) (*order.Stats, error)
	Reference(ctx context.Context) (stages, serviceTypes []string, err error)
}

type AuthService interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.Profile, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
	List(ctx context.Context) ([]auth.Profile, error)
	Get(ctx context.Context, id string) (*auth.Profile, error)
	SetActive(ctx context.Context, id string, active bool) (*auth.Profile, error)
	Delete(ctx context.Context, id string) error
}

type LiveTracker interface {
	Serve(w http.ResponseWriter, r *http.Request, trackingNumber string, snapshot any) error
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PublicAccess skips bearer token checks on every protected route.
	PublicAccess bool
	AllowSignup  bool
}

type Server struct {
	orders       OrderService
	admins       AuthService
	live         LiveTracker
	AuditManager *AuditManager
	config       Config
	logger       *zap.Logger
	server       *http.Server

	mu     sync.Mutex
	closed bool
}

func New(orders OrderService, admins AuthService, live LiveTracker, auditManager *AuditManager, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{
		orders:       orders,
		admins:       admins,
		live:         live,
		AuditManager: auditManager,
		config:       cfg,
		logger:       logger.With(zap.String("component", "http_server")),
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called. Run after
// Shutdown returns immediately.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server.BaseContext = func(_ net.Listener) context.Context { return ctx }
	if s.AuditManager != nil {
		s.AuditManager.Start(ctx)
	}
	s.mu.Unlock()

	s.logger.Info("Server starting", zap.String("addr", s.config.Addr), zap.Bool("public_access", s.config.PublicAccess))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("HTTP server shutdown completed")

	if s.AuditManager != nil {
		s.AuditManager.Shutdown(ctx)
	}
	s.logger.Info("Server shutdown completed successfully")
	return nil
}

// Handler builds the router. Export routes are registered before /orders/{id}
// so "export" is never taken for an order id.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metricsMiddleware)
	r.Use(limitBodyMiddleware)
	if s.AuditManager != nil {
		r.Use(s.auditLogMiddleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet).Name("health")
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet).Name("metrics")

	r.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost).Name("signup")
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost).Name("login")
	r.Handle("/auth/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet).Name("me")

	r.HandleFunc("/track/{trackingNumber}", s.handleTrack).Methods(http.MethodGet).Name("track")
	r.HandleFunc("/ws/track/{trackingNumber}", s.handleLiveTrack).Methods(http.MethodGet).Name("live_track")
	r.HandleFunc("/reference", s.handleReference).Methods(http.MethodGet).Name("reference")

	r.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost).Name("create_order")
	r.Handle("/orders", s.requireAuth(s.handleListOrders)).Methods(http.MethodGet).Name("list_orders")
	r.Handle("/orders/export/csv", s.requireAuth(s.handleExportCSV)).Methods(http.MethodGet).Name("export_csv")
	r.Handle("/orders/export/xlsx", s.requireAuth(s.handleExportXLSX)).Methods(http.MethodGet).Name("export_xlsx")
	r.Handle("/orders/{id}", s.requireAuth(s.handleGetOrder)).Methods(http.MethodGet).Name("get_order")
	r.Handle("/orders/{id}", s.requireAuth(s.handleUpdateOrder)).Methods(http.MethodPut).Name("update_order")
	r.Handle("/orders/{id}", s.requireAuth(s.handleDeleteOrder)).Methods(http.MethodDelete).Name("delete_order")
	r.Handle("/orders/{id}/status", s.requireAuth(s.handleUpdateOrderStatus)).Methods(http.MethodPatch, http.MethodPost).Name("update_status")

	r.Handle("/dashboard/stats", s.requireAuth(s.handleStats)).Methods(http.MethodGet).Name("dashboard_stats")

	r.Handle("/admins", s.requireAuth(s.handleListAdmins)).Methods(http.MethodGet).Name("list_admins")
	r.Handle("/admins/{id}", s.requireAuth(s.handleGetAdmin)).Methods(http.MethodGet).Name("get_admin")
	r.Handle("/admins/{id}", s.requireAuth(s.handleDeleteAdmin)).Methods(http.MethodDelete).Name("delete_admin")
	r.Handle("/admins/{id}/active", s.requireAuth(s.handleSetAdminActive)).Methods(http.MethodPatch).Name("set_admin_active")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Error("Failed to encode response", zap.Error(err))
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as a 500 without details.
func (s *Server) respondServiceError(w http.ResponseWriter, l *zap.Logger, operation string, err error) {
	switch {
	case errors.Is(err, order.ErrValidation), errors.Is(err, auth.ErrValidation):
		l.Warn("Validation failed", zap.Error(err))
		respondError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, storage.ErrOrderNotFound):
		l.Warn("Order not found")
		respondError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, storage.ErrAdminNotFound):
		l.Warn("Admin not found")
		respondError(w, http.StatusNotFound, "Admin not found")
	case errors.Is(err, storage.ErrAdminExists):
		l.Warn("Admin already exists")
		respondError(w, http.StatusConflict, "An admin with this email already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, auth.ErrInactiveAccount):
		respondError(w, http.StatusUnauthorized, "Account is deactivated")
	case errors.Is(err, auth.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "Invalid or expired token")
	default:
		l.Error("Operation failed", zap.Error(err))
		metrics.OperationErrorsTotal.WithLabelValues(operation).Inc()
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// validationMessage strips the wrapping down to the part after the sentinel.
func validationMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{order.ErrValidation, auth.ErrValidation} {
		prefix := sentinel.Error() + ": "
		if i := strings.Index(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
	}
	return msg
}
