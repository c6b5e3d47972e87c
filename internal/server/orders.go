package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

type createOrderRequest struct {
	CustomerName    string `json:"customerName"`
	CustomerEmail   string `json:"customerEmail"`
	CustomerPhone   string `json:"customerPhone"`
	PickupAddress   string `json:"pickupAddress"`
	DeliveryAddress string `json:"deliveryAddress"`
	ServiceType     string `json:"serviceType"`
	PackageDetails  struct {
		Weight      *flexNumber `json:"weight"`
		Description string      `json:"description"`
		Quantity    *flexInt    `json:"quantity"`
	} `json:"packageDetails"`
	Notes string `json:"notes"`
}

func (req createOrderRequest) toInput() order.CreateInput {
	in := order.CreateInput{
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		PickupAddress:   req.PickupAddress,
		DeliveryAddress: req.DeliveryAddress,
		ServiceType:     req.ServiceType,
		Weight:          req.PackageDetails.Weight.toFloat(),
		Description:     req.PackageDetails.Description,
		Notes:           req.Notes,
	}
	if q := req.PackageDetails.Quantity.toInt(); q != nil {
		in.Quantity = *q
	}
	return in
}

type updateOrderRequest struct {
	CustomerName      *string    `json:"customerName"`
	CustomerEmail     *string    `json:"customerEmail"`
	CustomerPhone     *string    `json:"customerPhone"`
	PickupAddress     *string    `json:"pickupAddress"`
	DeliveryAddress   *string    `json:"deliveryAddress"`
	ServiceType       *string    `json:"serviceType"`
	Notes             *string    `json:"notes"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	Status            *string    `json:"status"`
	Location          *string    `json:"location"`
	Description       *string    `json:"description"`
	PackageDetails    *struct {
		Weight      *flexNumber `json:"weight"`
		Description *string     `json:"description"`
		Quantity    *flexInt    `json:"quantity"`
	} `json:"packageDetails"`
}

func (req updateOrderRequest) toPatch() order.Patch {
	p := order.Patch{
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerPhone:     req.CustomerPhone,
		PickupAddress:     req.PickupAddress,
		DeliveryAddress:   req.DeliveryAddress,
		ServiceType:       req.ServiceType,
		Notes:             req.Notes,
		EstimatedDelivery: req.EstimatedDelivery,
		Status:            req.Status,
		Location:          req.Location,
		Description:       req.Description,
	}
	if pd := req.PackageDetails; pd != nil {
		p.PackageDetails = &order.PackagePatch{
			Weight:      pd.Weight.toFloat(),
			Description: pd.Description,
			Quantity:    pd.Quantity.toInt(),
		}
	}
	return p
}

type statusRequest struct {
	Status      string `json:"status"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "create_order"))

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Warn("Invalid request body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	created, err := s.orders.CreateOrder(r.Context(), req.toInput())
	if err != nil {
		s.respondServiceError(w, l, "create_order", err)
		return
	}

	metrics.OrdersCreatedTotal.Inc()
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "Missing order ID")
		return
	}
	l := s.logger.With(zap.String("handler", "get_order"), zap.String("order_id", orderID))

	o, err := s.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		s.respondServiceError(w, l, "get_order", err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "Missing order ID")
		return
	}
	l := s.logger.With(zap.String("handler", "update_order"), zap.String("order_id", orderID))

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Warn("Invalid request body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	updated, err := s.orders.UpdateOrder(r.Context(), orderID, req.toPatch())
	if err != nil {
		s.respondServiceError(w, l, "update_order", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "Missing order ID")
		return
	}
	l := s.logger.With(zap.String("handler", "update_status"), zap.String("order_id", orderID))

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Warn("Invalid request body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := s.orders.UpdateStatus(r.Context(), orderID, order.StatusUpdate{
		Status:      req.Status,
		Location:    req.Location,
		Description: req.Description,
	})
	if err != nil {
		s.respondServiceError(w, l, "update_status", err)
		return
	}

	metrics.StatusUpdatesTotal.WithLabelValues(updated.Status).Inc()
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "Missing order ID")
		return
	}
	l := s.logger.With(zap.String("handler", "delete_order"), zap.String("order_id", orderID))

	if err := s.orders.DeleteOrder(r.Context(), orderID); err != nil {
		s.respondServiceError(w, l, "delete_order", err)
		return
	}

	metrics.OrdersDeletedTotal.Inc()
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Order deleted successfully",
	})
}

// parseFilter reads search, status, serviceType, page and limit.
func parseFilter(r *http.Request) (order.Filter, error) {
	q := r.URL.Query()
	f := order.Filter{
		Search:      q.Get("search"),
		Status:      q.Get("status"),
		ServiceType: q.Get("serviceType"),
	}

	if pageStr := q.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page <= 0 {
			return f, errors.New("Invalid value for 'page' parameter")
		}
		f.Page = page
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return f, errors.New("Invalid value for 'limit' parameter")
		}
		f.Limit = limit
	}
	return f, nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "list_orders"))

	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.orders.ListOrders(r.Context(), f)
	if err != nil {
		s.respondServiceError(w, l, "list_orders", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "dashboard_stats"))

	stats, err := s.orders.Stats(r.Context())
	if err != nil {
		s.respondServiceError(w, l, "dashboard_stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "reference"))

	stages, serviceTypes, err := s.orders.Reference(r.Context())
	if err != nil {
		s.respondServiceError(w, l, "reference", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{
		"trackingStages": stages,
		"serviceTypes":   serviceTypes,
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	trackingNumber := mux.Vars(r)["trackingNumber"]
	l := s.logger.With(zap.String("handler", "track"), zap.String("tracking_number", trackingNumber))

	o, err := s.orders.Track(r.Context(), trackingNumber)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			metrics.TrackingLookupsTotal.WithLabelValues("not_found").Inc()
			respondError(w, http.StatusNotFound, "No order found with this tracking number")
			return
		}
		s.respondServiceError(w, l, "track", err)
		return
	}

	metrics.TrackingLookupsTotal.WithLabelValues("found").Inc()
	respondJSON(w, http.StatusOK, o)
}

// handleLiveTrack streams status changes of one order over a websocket. The
// first message is the current order.
func (s *Server) handleLiveTrack(w http.ResponseWriter, r *http.Request) {
	trackingNumber := mux.Vars(r)["trackingNumber"]
	l := s.logger.With(zap.String("handler", "live_track"), zap.String("tracking_number", trackingNumber))

	if s.live == nil {
		respondError(w, http.StatusNotFound, "Live tracking is not enabled")
		return
	}

	o, err := s.orders.Track(r.Context(), trackingNumber)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "No order found with this tracking number")
			return
		}
		s.respondServiceError(w, l, "live_track", err)
		return
	}

	if err := s.live.Serve(w, r, o.TrackingNumber, o); err != nil {
		l.Debug("Live tracking session ended", zap.Error(err))
	}
}
