package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
	mock_server "gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/server/mocks"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

var testCreatedAt = time.Date(2025, 6, 2, 10, 15, 0, 0, time.UTC)

func sampleOrder() *storage.Order {
	return &storage.Order{
		ID:              "ord-1",
		TrackingNumber:  "TRK20250602000001",
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		CustomerPhone:   "+1 555 0100",
		PickupAddress:   "1 Main St",
		DeliveryAddress: "9 Elm St",
		ServiceType:     storage.ServiceExpress,
		PackageDetails: storage.PackageDetails{
			Weight:      10,
			Description: "Books",
			Quantity:    1,
		},
		Status:            storage.StageOrderPlaced,
		CurrentStage:      storage.StageOrderPlaced,
		Price:             330,
		CreatedAt:         testCreatedAt,
		UpdatedAt:         testCreatedAt,
		EstimatedDelivery: time.Date(2025, 6, 4, 17, 0, 0, 0, time.UTC),
	}
}

type testDeps struct {
	orders *mock_server.MockOrderService
	admins *mock_server.MockAuthService
	live   *mock_server.MockLiveTracker
}

func newTestServer(t *testing.T, cfg Config) (*Server, testDeps) {
	ctrl := gomock.NewController(t)
	deps := testDeps{
		orders: mock_server.NewMockOrderService(ctrl),
		admins: mock_server.NewMockAuthService(ctrl),
		live:   mock_server.NewMockLiveTracker(ctrl),
	}
	return New(deps.orders, deps.admins, deps.live, nil, cfg, zap.NewNop()), deps
}

func TestHandleCreateOrder(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	tests := []struct {
		name           string
		requestBody    string
		setupMocks     func()
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "successful order creation",
			requestBody: `{"customerName":"Jane Doe","customerEmail":"jane@example.com","customerPhone":"+1 555 0100",
				"pickupAddress":"1 Main St","deliveryAddress":"9 Elm St","serviceType":"Express Delivery",
				"packageDetails":{"weight":"10","description":"Books","quantity":2}}`,
			setupMocks: func() {
				deps.orders.EXPECT().
					CreateOrder(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, in order.CreateInput) (*storage.Order, error) {
						assert.Equal(t, "Jane Doe", in.CustomerName)
						require.NotNil(t, in.Weight)
						assert.Equal(t, 10.0, *in.Weight)
						assert.Equal(t, 2, in.Quantity)
						assert.Equal(t, "Books", in.Description)
						return sampleOrder(), nil
					})
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"trackingNumber":"TRK20250602000001"`,
		},
		{
			name:           "weight is not a number",
			requestBody:    `{"customerName":"Jane","packageDetails":{"weight":"heavy"}}`,
			setupMocks:     func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `Invalid request body`,
		},
		{
			name:           "fractional quantity",
			requestBody:    `{"customerName":"Jane","packageDetails":{"weight":1,"quantity":2.5}}`,
			setupMocks:     func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `Invalid request body`,
		},
		{
			name:           "quantity beyond int range",
			requestBody:    `{"customerName":"Jane","packageDetails":{"weight":1,"quantity":1e19}}`,
			setupMocks:     func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `Invalid request body`,
		},
		{
			name:        "validation error",
			requestBody: `{"customerEmail":"jane@example.com"}`,
			setupMocks: func() {
				deps.orders.EXPECT().
					CreateOrder(gomock.Any(), gomock.Any()).
					Return(nil, fmt.Errorf("%w: missing required fields: customerName", order.ErrValidation))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"missing required fields: customerName"}`,
		},
		{
			name:        "storage error",
			requestBody: `{"customerName":"Jane"}`,
			setupMocks: func() {
				deps.orders.EXPECT().
					CreateOrder(gomock.Any(), gomock.Any()).
					Return(nil, errors.New("disk full"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"Internal server error"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMocks()

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.requestBody))
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()

			server.handleCreateOrder(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if strings.HasPrefix(tc.expectedBody, "{") {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			} else {
				assert.Contains(t, rr.Body.String(), tc.expectedBody)
			}
		})
	}
}

func TestHandleGetOrder(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	tests := []struct {
		name           string
		orderID        string
		setupMocks     func()
		expectedStatus int
		expectedBody   string
	}{
		{
			name:    "order found",
			orderID: "ord-1",
			setupMocks: func() {
				deps.orders.EXPECT().
					GetOrder(gomock.Any(), "ord-1").
					Return(sampleOrder(), nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"id":"ord-1"`,
		},
		{
			name:    "order not found",
			orderID: "nonexistent",
			setupMocks: func() {
				deps.orders.EXPECT().
					GetOrder(gomock.Any(), "nonexistent").
					Return(nil, fmt.Errorf("failed to get order: %w", storage.ErrOrderNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"Order not found"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMocks()

			req := httptest.NewRequest(http.MethodGet, "/orders/"+tc.orderID, nil)
			req = mux.SetURLVars(req, map[string]string{"id": tc.orderID})

			rr := httptest.NewRecorder()

			server.handleGetOrder(rr, req)
			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedStatus == http.StatusOK {
				assert.Contains(t, rr.Body.String(), tc.expectedBody)
			} else {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestHandleUpdateOrderStatus(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	tests := []struct {
		name           string
		orderID        string
		requestBody    string
		setupMocks     func()
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "successful status update",
			orderID:     "ord-1",
			requestBody: `{"status":"In Transit","location":"Memphis hub","description":"Departed"}`,
			setupMocks: func() {
				deps.orders.EXPECT().
					UpdateStatus(gomock.Any(), "ord-1", order.StatusUpdate{
						Status:      "In Transit",
						Location:    "Memphis hub",
						Description: "Departed",
					}).
					DoAndReturn(func(_ context.Context, _ string, _ order.StatusUpdate) (*storage.Order, error) {
						o := sampleOrder()
						o.Status = storage.StageInTransit
						return o, nil
					})
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"In Transit"`,
		},
		{
			name:           "invalid request body",
			orderID:        "ord-1",
			requestBody:    `{"status":`,
			setupMocks:     func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Invalid request body"}`,
		},
		{
			name:        "missing status",
			orderID:     "ord-1",
			requestBody: `{"location":"Memphis hub"}`,
			setupMocks: func() {
				deps.orders.EXPECT().
					UpdateStatus(gomock.Any(), "ord-1", gomock.Any()).
					Return(nil, fmt.Errorf("%w: status is required", order.ErrValidation))
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"status is required"}`,
		},
		{
			name:        "order not found",
			orderID:     "nonexistent",
			requestBody: `{"status":"Delivered"}`,
			setupMocks: func() {
				deps.orders.EXPECT().
					UpdateStatus(gomock.Any(), "nonexistent", gomock.Any()).
					Return(nil, storage.ErrOrderNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"Order not found"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMocks()

			req := httptest.NewRequest(http.MethodPatch, "/orders/"+tc.orderID+"/status", strings.NewReader(tc.requestBody))
			req = mux.SetURLVars(req, map[string]string{"id": tc.orderID})

			rr := httptest.NewRecorder()

			server.handleUpdateOrderStatus(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedStatus == http.StatusOK {
				assert.Contains(t, rr.Body.String(), tc.expectedBody)
			} else {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestHandleUpdateOrder(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	deps.orders.EXPECT().
		UpdateOrder(gomock.Any(), "ord-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, p order.Patch) (*storage.Order, error) {
			require.NotNil(t, p.CustomerName)
			assert.Equal(t, "John Roe", *p.CustomerName)
			assert.Nil(t, p.CustomerEmail)
			require.NotNil(t, p.PackageDetails)
			require.NotNil(t, p.PackageDetails.Weight)
			assert.Equal(t, 4.5, *p.PackageDetails.Weight)
			assert.Nil(t, p.PackageDetails.Quantity)
			o := sampleOrder()
			o.CustomerName = "John Roe"
			return o, nil
		})

	body := `{"customerName":"John Roe","packageDetails":{"weight":4.5}}`
	req := httptest.NewRequest(http.MethodPut, "/orders/ord-1", strings.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"id": "ord-1"})
	rr := httptest.NewRecorder()

	server.handleUpdateOrder(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"customerName":"John Roe"`)
}

func TestHandleDeleteOrder(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	deps.orders.EXPECT().DeleteOrder(gomock.Any(), "ord-1").Return(nil)
	deps.orders.EXPECT().DeleteOrder(gomock.Any(), "missing").Return(storage.ErrOrderNotFound)

	for id, want := range map[string]int{"ord-1": http.StatusOK, "missing": http.StatusNotFound} {
		req := httptest.NewRequest(http.MethodDelete, "/orders/"+id, nil)
		req = mux.SetURLVars(req, map[string]string{"id": id})
		rr := httptest.NewRecorder()

		server.handleDeleteOrder(rr, req)
		assert.Equal(t, want, rr.Code, id)
	}
}

func TestHandleListOrders(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	tests := []struct {
		name           string
		queryParams    map[string]string
		setupMocks     func()
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "filters are passed through",
			queryParams: map[string]string{
				"search":      "jane",
				"status":      "In Transit",
				"serviceType": "Air Freight",
				"page":        "2",
				"limit":       "5",
			},
			setupMocks: func() {
				deps.orders.EXPECT().
					ListOrders(gomock.Any(), order.Filter{
						Search:      "jane",
						Status:      "In Transit",
						ServiceType: "Air Freight",
						Page:        2,
						Limit:       5,
					}).
					Return(&order.ListResult{
						Orders:     []storage.Order{*sampleOrder()},
						Pagination: order.Pagination{Page: 2, Limit: 5, Total: 6, TotalPages: 2},
					}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"trackingNumber":"TRK20250602000001"`,
		},
		{
			name:           "invalid page",
			queryParams:    map[string]string{"page": "abc"},
			setupMocks:     func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Invalid value for 'page' parameter"}`,
		},
		{
			name:           "invalid limit",
			queryParams:    map[string]string{"limit": "0"},
			setupMocks:     func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"Invalid value for 'limit' parameter"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMocks()

			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			q := req.URL.Query()
			for k, v := range tc.queryParams {
				q.Add(k, v)
			}
			req.URL.RawQuery = q.Encode()

			rr := httptest.NewRecorder()

			server.handleListOrders(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedStatus == http.StatusOK {
				assert.Contains(t, rr.Body.String(), tc.expectedBody)
			} else {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestHandleTrack(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	deps.orders.EXPECT().Track(gomock.Any(), "trk20250602000001").Return(sampleOrder(), nil)
	deps.orders.EXPECT().Track(gomock.Any(), "TRKNOPE").Return(nil, storage.ErrOrderNotFound)

	req := httptest.NewRequest(http.MethodGet, "/track/trk20250602000001", nil)
	req = mux.SetURLVars(req, map[string]string{"trackingNumber": "trk20250602000001"})
	rr := httptest.NewRecorder()
	server.handleTrack(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"trackingNumber":"TRK20250602000001"`)

	req = httptest.NewRequest(http.MethodGet, "/track/TRKNOPE", nil)
	req = mux.SetURLVars(req, map[string]string{"trackingNumber": "TRKNOPE"})
	rr = httptest.NewRecorder()
	server.handleTrack(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"No order found with this tracking number"}`, rr.Body.String())
}

func TestHandleLiveTrack(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	deps.orders.EXPECT().Track(gomock.Any(), "TRK20250602000001").Return(sampleOrder(), nil)
	deps.live.EXPECT().
		Serve(gomock.Any(), gomock.Any(), "TRK20250602000001", gomock.Any()).
		DoAndReturn(func(w http.ResponseWriter, _ *http.Request, _ string, snapshot any) error {
			o, ok := snapshot.(*storage.Order)
			require.True(t, ok)
			assert.Equal(t, "ord-1", o.ID)
			w.WriteHeader(http.StatusSwitchingProtocols)
			return nil
		})
	deps.orders.EXPECT().Track(gomock.Any(), "TRKNOPE").Return(nil, storage.ErrOrderNotFound)

	req := httptest.NewRequest(http.MethodGet, "/ws/track/TRK20250602000001", nil)
	req = mux.SetURLVars(req, map[string]string{"trackingNumber": "TRK20250602000001"})
	rr := httptest.NewRecorder()
	server.handleLiveTrack(rr, req)
	assert.Equal(t, http.StatusSwitchingProtocols, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws/track/TRKNOPE", nil)
	req = mux.SetURLVars(req, map[string]string{"trackingNumber": "TRKNOPE"})
	rr = httptest.NewRecorder()
	server.handleLiveTrack(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleReferenceAndStats(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	deps.orders.EXPECT().Reference(gomock.Any()).Return(storage.DefaultTrackingStages, storage.DefaultServiceTypes, nil)
	deps.orders.EXPECT().Stats(gomock.Any()).Return(&order.Stats{TotalOrders: 3, DeliveredOrders: 1}, nil)

	rr := httptest.NewRecorder()
	server.handleReference(rr, httptest.NewRequest(http.MethodGet, "/reference", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var ref map[string][]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ref))
	assert.Equal(t, storage.DefaultTrackingStages, ref["trackingStages"])
	assert.Equal(t, storage.DefaultServiceTypes, ref["serviceTypes"])

	rr = httptest.NewRecorder()
	server.handleStats(rr, httptest.NewRequest(http.MethodGet, "/dashboard/stats", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"totalOrders":3`)
}

func TestHandleExportCSV(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	delivered := sampleOrder()
	at := time.Date(2025, 6, 4, 12, 30, 0, 0, time.UTC)
	delivered.ID = "ord-2"
	delivered.ActualDelivery = &at

	deps.orders.EXPECT().
		ExportRows(gomock.Any(), order.Filter{Status: "Delivered"}).
		Return([]storage.Order{*sampleOrder(), *delivered}, nil)

	rr := httptest.NewRecorder()
	server.handleExportCSV(rr, httptest.NewRequest(http.MethodGet, "/orders/export/csv?status=Delivered", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="orders.csv"`, rr.Header().Get("Content-Disposition"))

	records, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, []string{
		"ord-1", "TRK20250602000001", "Jane Doe", "jane@example.com", "+1 555 0100",
		"1 Main St", "9 Elm St", "Express Delivery", "10", "1", "Order Placed", "330",
		"2025-06-02 10:15", "2025-06-04 17:00", "",
	}, records[1])
	assert.Equal(t, "2025-06-04 12:30", records[2][14])
}

func TestHandleExportXLSX(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	deps.orders.EXPECT().
		ExportRows(gomock.Any(), order.Filter{}).
		Return([]storage.Order{*sampleOrder()}, nil)

	rr := httptest.NewRecorder()
	server.handleExportXLSX(rr, httptest.NewRequest(http.MethodGet, "/orders/export/xlsx", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="orders.xlsx"`, rr.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, "TRK20250602000001", rows[1][1])
	assert.Equal(t, "Jane Doe", rows[1][2])
}

func TestHandleSignup(t *testing.T) {
	body := `{"firstName":"Ann","lastName":"Lee","email":"ann@example.com","password":"secret1"}`

	t.Run("disabled", func(t *testing.T) {
		server, _ := newTestServer(t, Config{AllowSignup: false})
		rr := httptest.NewRecorder()
		server.handleSignup(rr, httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body)))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("created", func(t *testing.T) {
		server, deps := newTestServer(t, Config{AllowSignup: true})
		deps.admins.EXPECT().
			Signup(gomock.Any(), auth.SignupInput{FirstName: "Ann", LastName: "Lee", Email: "ann@example.com", Password: "secret1"}).
			Return(&auth.Profile{ID: "a1", Email: "ann@example.com", Role: auth.RoleAdmin, IsActive: true}, nil)

		rr := httptest.NewRecorder()
		server.handleSignup(rr, httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body)))
		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Contains(t, rr.Body.String(), `"id":"a1"`)
		assert.NotContains(t, rr.Body.String(), "password")
	})

	t.Run("duplicate email", func(t *testing.T) {
		server, deps := newTestServer(t, Config{AllowSignup: true})
		deps.admins.EXPECT().Signup(gomock.Any(), gomock.Any()).Return(nil, storage.ErrAdminExists)

		rr := httptest.NewRecorder()
		server.handleSignup(rr, httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body)))
		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestHandleLogin(t *testing.T) {
	server, deps := newTestServer(t, Config{})

	tests := []struct {
		name           string
		requestBody    string
		setupMocks     func()
		expectedStatus int
		expectedBody   string
	}{
		{
			name:        "success",
			requestBody: `{"email":"ann@example.com","password":"secret1"}`,
			setupMocks: func() {
				deps.admins.EXPECT().
					Login(gomock.Any(), "ann@example.com", "secret1").
					Return(&auth.Session{Token: "tok", Admin: auth.Profile{ID: "a1"}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"token":"tok"`,
		},
		{
			name:           "missing password",
			requestBody:    `{"email":"ann@example.com"}`,
			setupMocks:     func() {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"Email and password are required"`,
		},
		{
			name:        "wrong password",
			requestBody: `{"email":"ann@example.com","password":"nope"}`,
			setupMocks: func() {
				deps.admins.EXPECT().
					Login(gomock.Any(), "ann@example.com", "nope").
					Return(nil, auth.ErrInvalidCredentials)
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"Invalid email or password"`,
		},
		{
			name:        "inactive account",
			requestBody: `{"email":"ann@example.com","password":"secret1"}`,
			setupMocks: func() {
				deps.admins.EXPECT().
					Login(gomock.Any(), "ann@example.com", "secret1").
					Return(nil, auth.ErrInactiveAccount)
			},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `"error":"Account is deactivated"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMocks()

			rr := httptest.NewRecorder()
			server.handleLogin(rr, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tc.requestBody)))

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.expectedBody)
		})
	}
}

func TestAdminManagement(t *testing.T) {
	server, deps := newTestServer(t, Config{})
	self := &auth.Claims{AdminID: "a1", Email: "ann@example.com", Role: auth.RoleSuperAdmin}

	t.Run("cannot delete self", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/admins/a1", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "a1"})
		req = req.WithContext(auth.WithClaims(req.Context(), self))
		rr := httptest.NewRecorder()

		server.handleDeleteAdmin(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("delete other", func(t *testing.T) {
		deps.admins.EXPECT().Delete(gomock.Any(), "a2").Return(nil)

		req := httptest.NewRequest(http.MethodDelete, "/admins/a2", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "a2"})
		req = req.WithContext(auth.WithClaims(req.Context(), self))
		rr := httptest.NewRecorder()

		server.handleDeleteAdmin(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("deactivate", func(t *testing.T) {
		deps.admins.EXPECT().
			SetActive(gomock.Any(), "a2", false).
			Return(&auth.Profile{ID: "a2", IsActive: false}, nil)

		req := httptest.NewRequest(http.MethodPatch, "/admins/a2/active", strings.NewReader(`{"isActive":false}`))
		req = mux.SetURLVars(req, map[string]string{"id": "a2"})
		rr := httptest.NewRecorder()

		server.handleSetAdminActive(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"isActive":false`)
	})

	t.Run("active flag missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/admins/a2/active", strings.NewReader(`{}`))
		req = mux.SetURLVars(req, map[string]string{"id": "a2"})
		rr := httptest.NewRecorder()

		server.handleSetAdminActive(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown admin", func(t *testing.T) {
		deps.admins.EXPECT().Get(gomock.Any(), "zzz").Return(nil, storage.ErrAdminNotFound)

		req := httptest.NewRequest(http.MethodGet, "/admins/zzz", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "zzz"})
		rr := httptest.NewRecorder()

		server.handleGetAdmin(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error":"Admin not found"}`, rr.Body.String())
	})

	t.Run("list", func(t *testing.T) {
		deps.admins.EXPECT().List(gomock.Any()).Return(nil, nil)

		rr := httptest.NewRecorder()
		server.handleListAdmins(rr, httptest.NewRequest(http.MethodGet, "/admins", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})
}

func TestRouterAuthentication(t *testing.T) {
	t.Run("protected route without token", func(t *testing.T) {
		server, _ := newTestServer(t, Config{})
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"Authorization header is missing"}`, rr.Body.String())
	})

	t.Run("malformed header", func(t *testing.T) {
		server, _ := newTestServer(t, Config{})
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Basic abc")
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejected token", func(t *testing.T) {
		server, deps := newTestServer(t, Config{})
		deps.admins.EXPECT().Authenticate(gomock.Any(), "bad").Return(nil, auth.ErrInvalidToken)

		req := httptest.NewRequest(http.MethodGet, "/dashboard/stats", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"Invalid or expired token"}`, rr.Body.String())
	})

	t.Run("deactivated account", func(t *testing.T) {
		server, deps := newTestServer(t, Config{})
		deps.admins.EXPECT().Authenticate(gomock.Any(), "stale").Return(nil, auth.ErrInactiveAccount)

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer stale")
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":"Account is deactivated"}`, rr.Body.String())
	})

	t.Run("account lookup failure", func(t *testing.T) {
		server, deps := newTestServer(t, Config{})
		deps.admins.EXPECT().Authenticate(gomock.Any(), "good").Return(nil, errors.New("disk on fire"))

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer good")
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("claims reach the handler", func(t *testing.T) {
		server, deps := newTestServer(t, Config{})
		deps.admins.EXPECT().Authenticate(gomock.Any(), "good").Return(&auth.Claims{AdminID: "a1", Role: auth.RoleAdmin}, nil)
		deps.admins.EXPECT().Get(gomock.Any(), "a1").Return(&auth.Profile{ID: "a1", Email: "ann@example.com"}, nil)

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer good")
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"email":"ann@example.com"`)
	})

	t.Run("public access skips verification", func(t *testing.T) {
		server, deps := newTestServer(t, Config{PublicAccess: true})
		deps.orders.EXPECT().ListOrders(gomock.Any(), order.Filter{}).Return(&order.ListResult{Orders: []storage.Order{}}, nil)

		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("me without claims in public mode", func(t *testing.T) {
		server, _ := newTestServer(t, Config{PublicAccess: true})

		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("export path is not an order id", func(t *testing.T) {
		server, deps := newTestServer(t, Config{PublicAccess: true})
		deps.orders.EXPECT().ExportRows(gomock.Any(), gomock.Any()).Return(nil, nil)

		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/export/csv", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	})

	t.Run("unknown route", func(t *testing.T) {
		server, _ := newTestServer(t, Config{})
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.JSONEq(t, `{"error":"Route not found"}`, rr.Body.String())
	})

	t.Run("health", func(t *testing.T) {
		server, _ := newTestServer(t, Config{})
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})
}

func TestRouterRejectsOversizedBody(t *testing.T) {
	server, _ := newTestServer(t, Config{})

	body := `{"customerName":"` + strings.Repeat("x", maxRequestBodyBytes) + `"}`
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid request body")
}

func TestServerShutdown(t *testing.T) {
	tests := []struct {
		name          string
		shutdownFirst bool
	}{
		{name: "shutdown before run", shutdownFirst: true},
		{name: "shutdown racing run"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			server := New(nil, nil, nil, nil, Config{Addr: "127.0.0.1:0"}, zap.NewNop())
			if tc.shutdownFirst {
				require.NoError(t, server.Shutdown(context.Background()))
			}

			done := make(chan error, 1)
			go func() {
				done <- server.Run(context.Background())
			}()
			if !tc.shutdownFirst {
				require.NoError(t, server.Shutdown(context.Background()))
			}

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Run kept serving after Shutdown")
			}
		})
	}
}

func TestFlexNumber(t *testing.T) {
	tests := []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{input: `12.5`, want: 12.5},
		{input: `"7"`, want: 7},
		{input: `" 3.25 "`, want: 3.25},
		{input: `"abc"`, wantErr: true},
		{input: `true`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			var n flexNumber
			err := json.Unmarshal([]byte(tc.input), &n)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n.Value)
		})
	}

	var absent *flexNumber
	assert.Nil(t, absent.toFloat())
	var absentInt *flexInt
	assert.Nil(t, absentInt.toInt())
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: `3`, want: 3},
		{input: `"12"`, want: 12},
		{input: `-1`, want: -1},
		{input: `2.5`, wantErr: true},
		{input: `"0.1"`, wantErr: true},
		{input: `1e19`, wantErr: true},
		{input: `"9223372036854775808"`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			var n flexInt
			err := json.Unmarshal([]byte(tc.input), &n)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, *n.toInt())
		})
	}
}
