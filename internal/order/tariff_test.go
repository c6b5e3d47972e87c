package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

func TestGetTariff_Price(t *testing.T) {
	tests := []struct {
		serviceType string
		weight      float64
		want        int64
	}{
		{serviceType: storage.ServiceStandard, weight: 10, want: 200},
		{serviceType: storage.ServiceExpress, weight: 10, want: 330},
		{serviceType: storage.ServiceAir, weight: 2.5, want: 430},
		{serviceType: storage.ServiceOcean, weight: 100, want: 500},
		{serviceType: storage.ServiceStandard, weight: 0.1, want: 151},
		{serviceType: storage.ServiceStandard, weight: 0.3, want: 152},
		{serviceType: storage.ServiceOcean, weight: 0.5, want: 202},
		{serviceType: storage.ServiceExpress, weight: 1.0625, want: 259},
		{serviceType: " Express Delivery ", weight: 10, want: 330},
		{serviceType: "Drone Delivery", weight: 10, want: 200},
		{serviceType: "", weight: 1, want: 155},
	}

	for _, tc := range tests {
		t.Run(tc.serviceType, func(t *testing.T) {
			assert.Equal(t, tc.want, GetTariff(tc.serviceType).Price(tc.weight))
		})
	}
}

func TestGetTariff_EstimateDelivery(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	from := time.Date(2025, 12, 30, 9, 30, 15, 0, loc)

	tests := []struct {
		serviceType string
		want        time.Time
	}{
		{serviceType: storage.ServiceStandard, want: time.Date(2026, 1, 3, 17, 0, 0, 0, loc)},
		{serviceType: storage.ServiceExpress, want: time.Date(2026, 1, 1, 17, 0, 0, 0, loc)},
		{serviceType: storage.ServiceAir, want: time.Date(2026, 1, 2, 17, 0, 0, 0, loc)},
		{serviceType: storage.ServiceOcean, want: time.Date(2026, 1, 9, 17, 0, 0, 0, loc)},
		{serviceType: "unknown", want: time.Date(2026, 1, 3, 17, 0, 0, 0, loc)},
	}

	for _, tc := range tests {
		t.Run(tc.serviceType, func(t *testing.T) {
			got := GetTariff(tc.serviceType).EstimateDelivery(from)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
			assert.Equal(t, loc, got.Location())
		})
	}
}

func TestGetTariff_Type(t *testing.T) {
	assert.Equal(t, storage.ServiceAir, GetTariff(storage.ServiceAir).GetType())
	assert.Equal(t, storage.ServiceStandard, GetTariff("Teleport").GetType())
}
