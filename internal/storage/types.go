package storage

import "time"

const (
	StageOrderPlaced    = "Order Placed"
	StagePickedUp       = "Picked Up"
	StageInTransit      = "In Transit"
	StageOutForDelivery = "Out for Delivery"
	StageDelivered      = "Delivered"
	StageCancelled      = "Cancelled"
)

const (
	ServiceStandard = "Standard Delivery"
	ServiceExpress  = "Express Delivery"
	ServiceAir      = "Air Freight"
	ServiceOcean    = "Ocean Freight"
)

// DefaultTrackingStages is the reference list of stages seeded into a new store.
var DefaultTrackingStages = []string{
	StageOrderPlaced,
	StagePickedUp,
	StageInTransit,
	StageOutForDelivery,
	StageDelivered,
	StageCancelled,
}

// DefaultServiceTypes is the reference list of service types seeded into a new store.
var DefaultServiceTypes = []string{
	ServiceStandard,
	ServiceExpress,
	ServiceAir,
	ServiceOcean,
}

type PackageDetails struct {
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
}

// Stage is one timestamped point of an order's delivery history.
type Stage struct {
	Stage       string    `json:"stage"`
	Timestamp   time.Time `json:"timestamp"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
}

type Order struct {
	ID                string         `json:"id"`
	TrackingNumber    string         `json:"trackingNumber"`
	CustomerName      string         `json:"customerName"`
	CustomerEmail     string         `json:"customerEmail"`
	CustomerPhone     string         `json:"customerPhone"`
	PickupAddress     string         `json:"pickupAddress"`
	DeliveryAddress   string         `json:"deliveryAddress"`
	ServiceType       string         `json:"serviceType"`
	PackageDetails    PackageDetails `json:"packageDetails"`
	Status            string         `json:"status"`
	CurrentStage      string         `json:"currentStage"`
	Stages            []Stage        `json:"stages"`
	Price             int64          `json:"price"`
	Notes             string         `json:"notes,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	EstimatedDelivery time.Time      `json:"estimatedDelivery"`
	ActualDelivery    *time.Time     `json:"actualDelivery"`
}

// Clone returns a deep copy so callers can't alias the stage slice of a stored order.
func (o Order) Clone() Order {
	c := o
	if o.Stages != nil {
		c.Stages = make([]Stage, len(o.Stages))
		copy(c.Stages, o.Stages)
	}
	if o.ActualDelivery != nil {
		t := *o.ActualDelivery
		c.ActualDelivery = &t
	}
	return c
}

type AdminAccount struct {
	ID          string     `json:"id"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Company     string     `json:"company"`
	Role        string     `json:"role"`
	Password    string     `json:"password"`
	CreatedAt   time.Time  `json:"createdAt"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Document is the whole persisted application state.
type Document struct {
	Orders             []Order        `json:"orders"`
	AdminAccounts      []AdminAccount `json:"adminAccounts"`
	TrackingStages     []string       `json:"trackingStages"`
	ServiceTypes       []string       `json:"serviceTypes"`
	NextOrderID        int64          `json:"nextOrderId"`
	NextTrackingNumber int64          `json:"nextTrackingNumber"`
}

// NewDocument returns an empty document carrying the reference lists.
func NewDocument() *Document {
	return &Document{
		Orders:             []Order{},
		AdminAccounts:      []AdminAccount{},
		TrackingStages:     append([]string(nil), DefaultTrackingStages...),
		ServiceTypes:       append([]string(nil), DefaultServiceTypes...),
		NextOrderID:        1,
		NextTrackingNumber: 1,
	}
}

func (d *Document) FindOrder(id string) (int, bool) {
	for i := range d.Orders {
		if d.Orders[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (d *Document) FindAdmin(id string) (int, bool) {
	for i := range d.AdminAccounts {
		if d.AdminAccounts[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// normalize fills collections a hand-edited or legacy file may omit.
func (d *Document) normalize() {
	if d.Orders == nil {
		d.Orders = []Order{}
	}
	if d.AdminAccounts == nil {
		d.AdminAccounts = []AdminAccount{}
	}
	if len(d.TrackingStages) == 0 {
		d.TrackingStages = append([]string(nil), DefaultTrackingStages...)
	}
	if len(d.ServiceTypes) == 0 {
		d.ServiceTypes = append([]string(nil), DefaultServiceTypes...)
	}
	if d.NextOrderID == 0 {
		d.NextOrderID = 1
	}
	if d.NextTrackingNumber == 0 {
		d.NextTrackingNumber = 1
	}
	for i := range d.Orders {
		if d.Orders[i].Stages == nil {
			d.Orders[i].Stages = []Stage{}
		}
	}
}
