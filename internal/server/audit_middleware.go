package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const redacted = "[redacted]"

// Routes never audited: probes and long-lived streams.
var auditSkipped = map[string]bool{
	"health":     true,
	"metrics":    true,
	"live_track": true,
}

// Routes whose bodies carry credentials or tokens.
var auditRedacted = map[string]bool{
	"signup": true,
	"login":  true,
}

// Routes whose responses are files rather than JSON.
var auditNoResponseBody = map[string]bool{
	"export_csv":  true,
	"export_xlsx": true,
}

func (s *Server) auditLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler := "unknown"
		if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
			handler = route.GetName()
		}
		if auditSkipped[handler] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		vars := mux.Vars(r)
		entry := AuditLogEntry{
			Timestamp:      start,
			Method:         r.Method,
			Path:           r.URL.Path,
			Handler:        handler,
			TrackingNumber: vars["trackingNumber"],
		}
		if strings.HasPrefix(r.URL.Path, "/orders/") {
			entry.OrderID = vars["id"]
		}
		authenticated := s.config.PublicAccess
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			if claims, err := s.admins.Authenticate(r.Context(), strings.TrimSpace(token)); err == nil {
				entry.AdminID = claims.AdminID
				authenticated = true
			}
		}

		contentType := r.Header.Get("Content-Type")
		skipRequestBody := strings.Contains(contentType, "multipart/form-data")

		var requestBody []byte
		if !skipRequestBody && r.Body != nil {
			var err error
			requestBody, err = io.ReadAll(r.Body)
			if err != nil {
				status, message := http.StatusBadRequest, "Invalid request body"
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					status, message = http.StatusRequestEntityTooLarge, "Request body too large"
				}
				respondError(w, status, message)
				entry.StatusCode = status
				entry.DurationMs = time.Since(start).Milliseconds()
				s.AuditManager.LogEntry(r.Context(), entry)
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			entry.Request = string(requestBody)
			if auditRedacted[handler] {
				entry.Request = redacted
			}

			// Unauthenticated requests are rejected downstream; don't read the store for them.
			if authenticated && entry.OrderID != "" && (handler == "update_status" || handler == "update_order") {
				var statusRequest struct {
					Status string `json:"status"`
				}
				if err := json.Unmarshal(requestBody, &statusRequest); err == nil && statusRequest.Status != "" {
					entry.NewStatus = statusRequest.Status
					if o, err := s.orders.GetOrder(r.Context(), entry.OrderID); err == nil {
						entry.OldStatus = o.Status
					}
				}
			}
		}

		wrw := newResponseWriterWrapper(w, !auditNoResponseBody[handler])

		next.ServeHTTP(wrw, r)

		entry.StatusCode = wrw.GetStatusCode()
		entry.DurationMs = time.Since(start).Milliseconds()
		entry.Response = string(wrw.GetBody())
		if auditRedacted[handler] {
			entry.Response = redacted
		}

		s.AuditManager.LogEntry(r.Context(), entry)
	})
}
