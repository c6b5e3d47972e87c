//go:generate mockgen -source ./handler.go -destination=./mocks/handler.go -package=mock_cli
package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

const timeLayout = "2006-01-02 15:04"

type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (*storage.Order, error)
	Track(ctx context.Context, trackingNumber string) (*storage.Order, error)
	UpdateStatus(ctx context.Context, orderID string, upd order.StatusUpdate) (*storage.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, f order.Filter) (*order.ListResult, error)
	Stats(ctx context.Context) (*order.Stats, error)
}

type AdminService interface {
	Signup(ctx context.Context, in auth.SignupInput) (*auth.Profile, error)
	List(ctx context.Context) ([]auth.Profile, error)
	SetActive(ctx context.Context, id string, active bool) (*auth.Profile, error)
}

// Handler runs operator commands against the store and prints the results.
type Handler struct {
	orders OrderService
	admins AdminService
	out    io.Writer
}

func New(orders OrderService, admins AdminService, out io.Writer) *Handler {
	return &Handler{orders: orders, admins: admins, out: out}
}

func (h *Handler) printf(format string, args ...any) {
	fmt.Fprintf(h.out, format, args...)
}

func (h *Handler) ListOrders(ctx context.Context, f order.Filter) error {
	res, err := h.orders.ListOrders(ctx, f)
	if err != nil {
		return err
	}

	if len(res.Orders) == 0 {
		h.printf("No orders found\n")
		return nil
	}

	h.printf("Orders (page %d of %d, %d total):\n", res.Pagination.Page, res.Pagination.TotalPages, res.Pagination.Total)
	for _, o := range res.Orders {
		h.printf("- %s | %s | %s | %s | $%d\n",
			o.TrackingNumber, o.CustomerName, o.ServiceType, statusLabel(o), o.Price)
	}
	return nil
}

// ShowOrder accepts either an order id or a tracking number.
func (h *Handler) ShowOrder(ctx context.Context, ref string) error {
	o, err := h.lookup(ctx, ref)
	if err != nil {
		return err
	}
	h.printOrder(o)
	return nil
}

func (h *Handler) Track(ctx context.Context, trackingNumber string) error {
	o, err := h.orders.Track(ctx, trackingNumber)
	if err != nil {
		return err
	}
	h.printOrder(o)
	return nil
}

func (h *Handler) UpdateStatus(ctx context.Context, ref string, upd order.StatusUpdate) error {
	o, err := h.lookup(ctx, ref)
	if err != nil {
		return err
	}

	updated, err := h.orders.UpdateStatus(ctx, o.ID, upd)
	if err != nil {
		return err
	}
	h.printf("Order %s is now %s\n", updated.TrackingNumber, statusLabel(*updated))
	return nil
}

func (h *Handler) DeleteOrder(ctx context.Context, ref string) error {
	o, err := h.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if err := h.orders.DeleteOrder(ctx, o.ID); err != nil {
		return err
	}
	h.printf("Order %s deleted\n", o.TrackingNumber)
	return nil
}

func (h *Handler) Stats(ctx context.Context) error {
	stats, err := h.orders.Stats(ctx)
	if err != nil {
		return err
	}

	h.printf("Total orders:      %d\n", stats.TotalOrders)
	h.printf("Pending:           %d\n", stats.PendingOrders)
	h.printf("In transit:        %d\n", stats.InTransitOrders)
	h.printf("Out for delivery:  %d\n", stats.OutForDeliveryOrders)
	h.printf("Delivered:         %d\n", stats.DeliveredOrders)
	h.printf("Revenue:           $%d\n", stats.TotalRevenue)

	if len(stats.ByServiceType) > 0 {
		h.printf("By service type:\n")
		for _, name := range sortedKeys(stats.ByServiceType) {
			h.printf("- %s: %d\n", name, stats.ByServiceType[name])
		}
	}
	return nil
}

func (h *Handler) CreateAdmin(ctx context.Context, in auth.SignupInput) error {
	profile, err := h.admins.Signup(ctx, in)
	if err != nil {
		return err
	}
	h.printf("Admin %s created with id %s\n", profile.Email, profile.ID)
	return nil
}

func (h *Handler) ListAdmins(ctx context.Context) error {
	admins, err := h.admins.List(ctx)
	if err != nil {
		return err
	}

	if len(admins) == 0 {
		h.printf("No admin accounts found\n")
		return nil
	}

	h.printf("Admins:\n")
	for _, a := range admins {
		state := "active"
		if !a.IsActive {
			state = "inactive"
		}
		h.printf("- %s | %s %s | %s | %s | %s\n", a.ID, a.FirstName, a.LastName, a.Email, a.Role, state)
	}
	return nil
}

func (h *Handler) SetAdminActive(ctx context.Context, id string, active bool) error {
	profile, err := h.admins.SetActive(ctx, id, active)
	if err != nil {
		return err
	}
	if profile.IsActive {
		h.printf("Admin %s activated\n", profile.Email)
	} else {
		h.printf("Admin %s deactivated\n", profile.Email)
	}
	return nil
}

func (h *Handler) lookup(ctx context.Context, ref string) (*storage.Order, error) {
	if strings.HasPrefix(strings.ToUpper(ref), "TRK") {
		return h.orders.Track(ctx, ref)
	}
	return h.orders.GetOrder(ctx, ref)
}

func (h *Handler) printOrder(o *storage.Order) {
	h.printf("Order %s (%s)\n", o.TrackingNumber, o.ID)
	h.printf("Customer:  %s <%s> %s\n", o.CustomerName, o.CustomerEmail, o.CustomerPhone)
	h.printf("Route:     %s -> %s\n", o.PickupAddress, o.DeliveryAddress)
	h.printf("Service:   %s, %.2f kg x %d, $%d\n", o.ServiceType, o.PackageDetails.Weight, o.PackageDetails.Quantity, o.Price)
	h.printf("Status:    %s\n", statusLabel(*o))
	h.printf("ETA:       %s\n", o.EstimatedDelivery.Format(timeLayout))
	if o.Notes != "" {
		h.printf("Notes:     %s\n", o.Notes)
	}

	h.printf("History:\n")
	for _, s := range o.Stages {
		line := fmt.Sprintf("- %s: %s", s.Timestamp.Format(timeLayout), s.Stage)
		if s.Location != "" {
			line += " @ " + s.Location
		}
		if s.Description != "" {
			line += " (" + s.Description + ")"
		}
		h.printf("%s\n", line)
	}
}

func statusLabel(o storage.Order) string {
	label := fmt.Sprintf("[%s]", o.Status)
	if o.ActualDelivery != nil {
		label += " delivered " + o.ActualDelivery.Format(timeLayout)
	}
	return label
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
