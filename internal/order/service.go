//go:generate mockgen -source ./service.go -destination=./mocks/service.go -package=mock_order
package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

var ErrValidation = errors.New("validation failed")

const (
	initialLocation    = "Online"
	initialDescription = "Order has been placed successfully"
	defaultLocation    = "Processing Center"

	trackingPrefix = "TRK"
	trackingDigits = 6

	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100

	maxWeight   = 100000
	maxQuantity = 10000
)

type Storage interface {
	View(ctx context.Context, fn func(doc *storage.Document) error) error
	Update(ctx context.Context, fn func(doc *storage.Document) error) error
}

type Cache interface {
	Get(trackingNumber string) (*storage.Order, bool)
	Set(order storage.Order)
	Delete(trackingNumber string)
}

type CreateInput struct {
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	PickupAddress   string
	DeliveryAddress string
	ServiceType     string
	Weight          *float64
	Description     string
	Quantity        int
	Notes           string
}

type StatusUpdate struct {
	Status      string
	Location    string
	Description string
}

type PackagePatch struct {
	Weight      *float64 `json:"weight"`
	Description *string  `json:"description"`
	Quantity    *int     `json:"quantity"`
}

// Patch holds the fields of a merge update; nil fields are left as they are.
type Patch struct {
	CustomerName      *string       `json:"customerName"`
	CustomerEmail     *string       `json:"customerEmail"`
	CustomerPhone     *string       `json:"customerPhone"`
	PickupAddress     *string       `json:"pickupAddress"`
	DeliveryAddress   *string       `json:"deliveryAddress"`
	ServiceType       *string       `json:"serviceType"`
	PackageDetails    *PackagePatch `json:"packageDetails"`
	Notes             *string       `json:"notes"`
	EstimatedDelivery *time.Time    `json:"estimatedDelivery"`
	Status            *string       `json:"status"`
	Location          *string       `json:"location"`
	Description       *string       `json:"description"`
}

type Filter struct {
	Search      string
	Status      string
	ServiceType string
	Page        int
	Limit       int
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type ListResult struct {
	Orders     []storage.Order `json:"orders"`
	Pagination Pagination      `json:"pagination"`
}

type Stats struct {
	TotalOrders          int            `json:"totalOrders"`
	PendingOrders        int            `json:"pendingOrders"`
	InTransitOrders      int            `json:"inTransitOrders"`
	OutForDeliveryOrders int            `json:"outForDeliveryOrders"`
	DeliveredOrders      int            `json:"deliveredOrders"`
	TotalRevenue         int64          `json:"totalRevenue"`
	ByStatus             map[string]int `json:"byStatus"`
	ByServiceType        map[string]int `json:"byServiceType"`
}

// Service owns the order lifecycle: derived fields at creation, status
// transitions with their stage history, and the read side used by the API.
type Service struct {
	storage  Storage
	cache    Cache
	notifier Notifier
	logger   *zap.Logger
	location *time.Location

	timeNow   func() time.Time
	newID     func() string
	newDigits func(n int) (string, error)
}

func NewService(st Storage, cache Cache, notifier Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		storage:   st,
		cache:     cache,
		notifier:  notifier,
		logger:    logger.With(zap.String("component", "order_service")),
		location:  time.Local,
		timeNow:   time.Now,
		newID:     uuid.NewString,
		newDigits: randomDigits,
	}
}

// SetLocation sets the time zone estimated deliveries are computed in.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

func (s *Service) now() time.Time {
	return s.timeNow().In(s.location)
}

func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (*storage.Order, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now()
	serviceType := strings.TrimSpace(in.ServiceType)
	tariff := GetTariff(serviceType)
	quantity := in.Quantity
	if quantity < 1 {
		quantity = 1
	}

	order := storage.Order{
		ID:              s.newID(),
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
		PickupAddress:   strings.TrimSpace(in.PickupAddress),
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
		ServiceType:     serviceType,
		PackageDetails: storage.PackageDetails{
			Weight:      *in.Weight,
			Description: in.Description,
			Quantity:    quantity,
		},
		Status:       storage.StageOrderPlaced,
		CurrentStage: storage.StageOrderPlaced,
		Stages: []storage.Stage{{
			Stage:       storage.StageOrderPlaced,
			Timestamp:   now,
			Location:    initialLocation,
			Description: initialDescription,
		}},
		Price:             tariff.Price(*in.Weight),
		Notes:             in.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
		EstimatedDelivery: tariff.EstimateDelivery(now),
	}

	err := s.storage.Update(ctx, func(doc *storage.Document) error {
		trackingNumber, err := s.generateTrackingNumber(doc, now)
		if err != nil {
			return err
		}
		order.TrackingNumber = trackingNumber
		doc.Orders = append(doc.Orders, order)
		doc.NextOrderID++
		doc.NextTrackingNumber++
		s.cacheSet(order)
		return nil
	})
	if err != nil {
		s.cacheDrop(order.TrackingNumber)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.notifier.Publish(ctx, Event{
		Type:           EventCreated,
		OrderID:        order.ID,
		TrackingNumber: order.TrackingNumber,
		Status:         order.Status,
		Location:       initialLocation,
		Description:    initialDescription,
		Timestamp:      now,
	})
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("tracking_number", order.TrackingNumber),
		zap.String("service_type", order.ServiceType),
		zap.Int64("price", order.Price))

	return &order, nil
}

func validateCreate(in CreateInput) error {
	required := []struct {
		name  string
		value string
	}{
		{"customerName", in.CustomerName},
		{"customerEmail", in.CustomerEmail},
		{"customerPhone", in.CustomerPhone},
		{"pickupAddress", in.PickupAddress},
		{"deliveryAddress", in.DeliveryAddress},
		{"serviceType", in.ServiceType},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if in.Weight == nil {
		missing = append(missing, "packageDetails.weight")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if err := validateWeight(*in.Weight); err != nil {
		return err
	}
	return validateQuantity(in.Quantity)
}

func validateWeight(weight float64) error {
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
		return fmt.Errorf("%w: weight must be a positive number", ErrValidation)
	}
	if weight > maxWeight {
		return fmt.Errorf("%w: weight can't exceed %d kg", ErrValidation, maxWeight)
	}
	return nil
}

// validateQuantity only bounds the upper end; non-positive values fall back to one.
func validateQuantity(quantity int) error {
	if quantity > maxQuantity {
		return fmt.Errorf("%w: quantity can't exceed %d", ErrValidation, maxQuantity)
	}
	return nil
}

func (s *Service) generateTrackingNumber(doc *storage.Document, now time.Time) (string, error) {
	const attempts = 10
	prefix := trackingPrefix + now.Format("20060102")
	for i := 0; i < attempts; i++ {
		digits, err := s.newDigits(trackingDigits)
		if err != nil {
			return "", fmt.Errorf("failed to generate tracking number: %w", err)
		}
		candidate := prefix + digits
		if !trackingNumberTaken(doc, candidate) {
			return candidate, nil
		}
	}
	return "", errors.New("failed to generate a unique tracking number")
}

func trackingNumberTaken(doc *storage.Document, trackingNumber string) bool {
	for i := range doc.Orders {
		if strings.EqualFold(doc.Orders[i].TrackingNumber, trackingNumber) {
			return true
		}
	}
	return false
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// UpdateStatus appends a stage for the new status. Any status may follow any other.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, upd StatusUpdate) (*storage.Order, error) {
	if strings.TrimSpace(upd.Status) == "" {
		return nil, fmt.Errorf("%w: status is required", ErrValidation)
	}

	var (
		updated storage.Order
		stage   storage.Stage
	)
	err := s.storage.Update(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindOrder(orderID)
		if !ok {
			return storage.ErrOrderNotFound
		}
		stage = s.applyStatus(doc, &doc.Orders[i], upd)
		updated = doc.Orders[i].Clone()
		s.cacheSet(updated)
		return nil
	})
	if err != nil {
		s.cacheDrop(updated.TrackingNumber)
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	s.publishStage(ctx, updated, stage)
	s.logger.Info("Order status updated",
		zap.String("order_id", updated.ID),
		zap.String("status", updated.Status),
		zap.String("location", stage.Location))

	return &updated, nil
}

// applyStatus mutates o in place; callers hold the store lock.
func (s *Service) applyStatus(doc *storage.Document, o *storage.Order, upd StatusUpdate) storage.Stage {
	now := s.now()
	status := canonicalStage(doc.TrackingStages, strings.TrimSpace(upd.Status))

	location := strings.TrimSpace(upd.Location)
	if location == "" {
		location = defaultLocation
	}
	description := strings.TrimSpace(upd.Description)
	if description == "" {
		description = "Status updated to " + status
	}

	stage := storage.Stage{
		Stage:       status,
		Timestamp:   now,
		Location:    location,
		Description: description,
	}
	o.Stages = append(o.Stages, stage)
	o.Status = status
	o.CurrentStage = status
	o.UpdatedAt = now
	if status == storage.StageDelivered {
		delivered := now
		o.ActualDelivery = &delivered
	}
	return stage
}

// canonicalStage maps a case-insensitive match of a reference stage to its
// reference spelling; unknown statuses pass through unchanged.
func canonicalStage(stages []string, status string) string {
	for _, st := range stages {
		if strings.EqualFold(st, status) {
			return st
		}
	}
	return status
}

// UpdateOrder merges patch into the order. Identity, price, creation time and
// stage history are never touched by a merge; a changed status goes through
// the same path as UpdateStatus.
func (s *Service) UpdateOrder(ctx context.Context, orderID string, patch Patch) (*storage.Order, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	var (
		updated storage.Order
		stage   *storage.Stage
	)
	err := s.storage.Update(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindOrder(orderID)
		if !ok {
			return storage.ErrOrderNotFound
		}
		o := &doc.Orders[i]
		mergePatch(o, patch)
		o.UpdatedAt = s.now()

		if patch.Status != nil && !strings.EqualFold(strings.TrimSpace(*patch.Status), o.Status) {
			st := s.applyStatus(doc, o, StatusUpdate{
				Status:      *patch.Status,
				Location:    deref(patch.Location),
				Description: deref(patch.Description),
			})
			stage = &st
		}
		updated = o.Clone()
		s.cacheSet(updated)
		return nil
	})
	if err != nil {
		s.cacheDrop(updated.TrackingNumber)
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if stage != nil {
		s.publishStage(ctx, updated, *stage)
	}
	s.notifier.Publish(ctx, Event{
		Type:           EventUpdated,
		OrderID:        updated.ID,
		TrackingNumber: updated.TrackingNumber,
		Status:         updated.Status,
		Timestamp:      updated.UpdatedAt,
	})
	s.logger.Info("Order updated", zap.String("order_id", updated.ID))

	return &updated, nil
}

func validatePatch(p Patch) error {
	blank := func(v *string) bool { return v != nil && strings.TrimSpace(*v) == "" }
	switch {
	case blank(p.CustomerName), blank(p.CustomerEmail), blank(p.CustomerPhone),
		blank(p.PickupAddress), blank(p.DeliveryAddress), blank(p.ServiceType):
		return fmt.Errorf("%w: required fields can't be blank", ErrValidation)
	case blank(p.Status):
		return fmt.Errorf("%w: status can't be blank", ErrValidation)
	}
	if pd := p.PackageDetails; pd != nil {
		if pd.Weight != nil {
			if err := validateWeight(*pd.Weight); err != nil {
				return err
			}
		}
		if pd.Quantity != nil {
			return validateQuantity(*pd.Quantity)
		}
	}
	return nil
}

func mergePatch(o *storage.Order, p Patch) {
	setString(&o.CustomerName, p.CustomerName)
	setString(&o.CustomerEmail, p.CustomerEmail)
	setString(&o.CustomerPhone, p.CustomerPhone)
	setString(&o.PickupAddress, p.PickupAddress)
	setString(&o.DeliveryAddress, p.DeliveryAddress)
	setString(&o.ServiceType, p.ServiceType)
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
	if p.EstimatedDelivery != nil {
		o.EstimatedDelivery = *p.EstimatedDelivery
	}
	if pd := p.PackageDetails; pd != nil {
		if pd.Weight != nil {
			o.PackageDetails.Weight = *pd.Weight
		}
		if pd.Description != nil {
			o.PackageDetails.Description = *pd.Description
		}
		if pd.Quantity != nil && *pd.Quantity > 0 {
			o.PackageDetails.Quantity = *pd.Quantity
		}
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	var removed storage.Order
	err := s.storage.Update(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindOrder(orderID)
		if !ok {
			return storage.ErrOrderNotFound
		}
		removed = doc.Orders[i]
		doc.Orders = append(doc.Orders[:i], doc.Orders[i+1:]...)
		s.cacheDrop(removed.TrackingNumber)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	s.notifier.Publish(ctx, Event{
		Type:           EventDeleted,
		OrderID:        removed.ID,
		TrackingNumber: removed.TrackingNumber,
		Status:         removed.Status,
		Timestamp:      s.now(),
	})
	s.logger.Info("Order deleted", zap.String("order_id", removed.ID))
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*storage.Order, error) {
	var found storage.Order
	err := s.storage.View(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindOrder(orderID)
		if !ok {
			return storage.ErrOrderNotFound
		}
		found = doc.Orders[i]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &found, nil
}

// Track looks an order up by tracking number, ignoring case.
func (s *Service) Track(ctx context.Context, trackingNumber string) (*storage.Order, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, fmt.Errorf("%w: tracking number is required", ErrValidation)
	}
	if s.cache != nil {
		if o, ok := s.cache.Get(trackingNumber); ok {
			return o, nil
		}
	}

	var found storage.Order
	err := s.storage.View(ctx, func(doc *storage.Document) error {
		for i := range doc.Orders {
			if strings.EqualFold(doc.Orders[i].TrackingNumber, trackingNumber) {
				found = doc.Orders[i]
				s.cacheSet(found)
				return nil
			}
		}
		return storage.ErrOrderNotFound
	})
	if err != nil {
		return nil, fmt.Errorf("failed to track order: %w", err)
	}
	return &found, nil
}

func (s *Service) ListOrders(ctx context.Context, f Filter) (*ListResult, error) {
	page := f.Page
	if page < 1 {
		page = defaultPage
	}
	limit := f.Limit
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	matched, err := s.ExportRows(ctx, f)
	if err != nil {
		return nil, err
	}

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &ListResult{
		Orders: matched[start:end],
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// ExportRows returns every order matching the filter, newest first. Page and
// limit are ignored.
func (s *Service) ExportRows(ctx context.Context, f Filter) ([]storage.Order, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	status := strings.TrimSpace(f.Status)
	serviceType := strings.TrimSpace(f.ServiceType)

	matched := []storage.Order{}
	err := s.storage.View(ctx, func(doc *storage.Document) error {
		for _, o := range doc.Orders {
			if status != "" && !strings.EqualFold(o.Status, status) {
				continue
			}
			if serviceType != "" && !strings.EqualFold(o.ServiceType, serviceType) {
				continue
			}
			if search != "" && !matchesSearch(o, search) {
				continue
			}
			matched = append(matched, o)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

func matchesSearch(o storage.Order, search string) bool {
	fields := []string{o.TrackingNumber, o.ID, o.CustomerName, o.CustomerEmail, o.CustomerPhone}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:      map[string]int{},
		ByServiceType: map[string]int{},
	}
	err := s.storage.View(ctx, func(doc *storage.Document) error {
		for _, o := range doc.Orders {
			stats.TotalOrders++
			stats.TotalRevenue += o.Price
			stats.ByStatus[o.Status]++
			stats.ByServiceType[o.ServiceType]++
			switch o.Status {
			case storage.StageOrderPlaced:
				stats.PendingOrders++
			case storage.StageInTransit:
				stats.InTransitOrders++
			case storage.StageOutForDelivery:
				stats.OutForDeliveryOrders++
			case storage.StageDelivered:
				stats.DeliveredOrders++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

// Reference returns the tracking stages and service types stored in the document.
func (s *Service) Reference(ctx context.Context) (stages, serviceTypes []string, err error) {
	err = s.storage.View(ctx, func(doc *storage.Document) error {
		stages = doc.TrackingStages
		serviceTypes = doc.ServiceTypes
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load reference lists: %w", err)
	}
	return stages, serviceTypes, nil
}

// cacheSet and cacheDrop are called with the store lock held, so cache
// writes land in the same order as store writes.
func (s *Service) cacheSet(o storage.Order) {
	if s.cache != nil {
		s.cache.Set(o)
	}
}

// cacheDrop also undoes a cacheSet whose store write then failed.
func (s *Service) cacheDrop(trackingNumber string) {
	if s.cache != nil && trackingNumber != "" {
		s.cache.Delete(trackingNumber)
	}
}

func (s *Service) publishStage(ctx context.Context, o storage.Order, stage storage.Stage) {
	s.notifier.Publish(ctx, Event{
		Type:           EventStatusChanged,
		OrderID:        o.ID,
		TrackingNumber: o.TrackingNumber,
		Status:         stage.Stage,
		Location:       stage.Location,
		Description:    stage.Description,
		Timestamp:      stage.Timestamp,
	})
}
