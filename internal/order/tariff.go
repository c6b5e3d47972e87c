package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

// Tariff prices a shipment and estimates its delivery date for one service type.
type Tariff interface {
	Price(weight float64) int64
	EstimateDelivery(from time.Time) time.Time
	GetType() string
}

// deliveryHour is the local hour estimated deliveries are pinned to.
const deliveryHour = 17

type BaseTariff struct {
	Type        string
	BasePrice   int64
	PerKg       int64
	TransitDays int
}

func (b BaseTariff) GetType() string {
	return b.Type
}

// Price returns round(base + weight*perKg), rounding half away from zero.
func (b BaseTariff) Price(weight float64) int64 {
	total := decimal.NewFromInt(b.BasePrice).
		Add(decimal.NewFromFloat(weight).Mul(decimal.NewFromInt(b.PerKg)))
	return total.Round(0).IntPart()
}

func (b BaseTariff) EstimateDelivery(from time.Time) time.Time {
	d := from.AddDate(0, 0, b.TransitDays)
	return time.Date(d.Year(), d.Month(), d.Day(), deliveryHour, 0, 0, 0, from.Location())
}

type StandardTariff struct {
	BaseTariff
}

func NewStandardTariff() *StandardTariff {
	return &StandardTariff{BaseTariff{Type: storage.ServiceStandard, BasePrice: 150, PerKg: 5, TransitDays: 4}}
}

type ExpressTariff struct {
	BaseTariff
}

func NewExpressTariff() *ExpressTariff {
	return &ExpressTariff{BaseTariff{Type: storage.ServiceExpress, BasePrice: 250, PerKg: 8, TransitDays: 2}}
}

type AirFreightTariff struct {
	BaseTariff
}

func NewAirFreightTariff() *AirFreightTariff {
	return &AirFreightTariff{BaseTariff{Type: storage.ServiceAir, BasePrice: 400, PerKg: 12, TransitDays: 3}}
}

type OceanFreightTariff struct {
	BaseTariff
}

func NewOceanFreightTariff() *OceanFreightTariff {
	return &OceanFreightTariff{BaseTariff{Type: storage.ServiceOcean, BasePrice: 200, PerKg: 3, TransitDays: 10}}
}

// GetTariff resolves the tariff for a service type. Unknown types are priced
// and scheduled as Standard Delivery.
func GetTariff(serviceType string) Tariff {
	switch strings.TrimSpace(serviceType) {
	case storage.ServiceExpress:
		return NewExpressTariff()
	case storage.ServiceAir:
		return NewAirFreightTariff()
	case storage.ServiceOcean:
		return NewOceanFreightTariff()
	default:
		return NewStandardTariff()
	}
}
