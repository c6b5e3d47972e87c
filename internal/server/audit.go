package server

import (
	"time"
)

type AuditLogEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Handler        string    `json:"handler"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	StatusCode     int       `json:"status_code"`
	DurationMs     int64     `json:"duration_ms"`
	AdminID        string    `json:"admin_id,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	OldStatus      string    `json:"old_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	Request        string    `json:"request,omitempty"`
	Response       string    `json:"response,omitempty"`
}

// key partitions audit messages so one order's history stays ordered.
func (e AuditLogEntry) key() []byte {
	switch {
	case e.OrderID != "":
		return []byte(e.OrderID)
	case e.TrackingNumber != "":
		return []byte(e.TrackingNumber)
	default:
		return []byte(e.Handler)
	}
}
