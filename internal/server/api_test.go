package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/cache"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/live"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/server"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

const (
	adminEmail    = "ops@example.com"
	adminPassword = "s3cret!"
)

var newOrderBody = map[string]interface{}{
	"customerName":    "Jane Doe",
	"customerEmail":   "jane@example.com",
	"customerPhone":   "+1 555 0100",
	"pickupAddress":   "1 Main St, Chicago",
	"deliveryAddress": "9 Elm St, Atlanta",
	"serviceType":     "Express Delivery",
	"packageDetails": map[string]interface{}{
		"weight":      10,
		"description": "Books",
		"quantity":    1,
	},
}

type apiEnv struct {
	handler http.Handler
	store   *storage.FileStorage
	hub     *live.Hub
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()

	store := storage.NewFileStorage(filepath.Join(t.TempDir(), "store.json"))
	seed, err := auth.NewAdminAccount(auth.SignupInput{
		FirstName: "Ops",
		LastName:  "Team",
		Email:     adminEmail,
		Password:  adminPassword,
	}, auth.RoleSuperAdmin, time.Now())
	require.NoError(t, err)
	_, err = store.Initialize(context.Background(), seed)
	require.NoError(t, err)

	hub := live.NewHub(nil)
	t.Cleanup(hub.Close)

	orders := order.NewService(store, cache.NewOrderCache(store, nil), hub, nil)
	admins := auth.NewService(store, auth.NewTokenManager("test-secret", time.Hour), nil)

	srv := server.New(orders, admins, hub, nil, server.Config{AllowSignup: true}, nil)
	return &apiEnv{handler: srv.Handler(), store: store, hub: hub}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) login(t *testing.T) string {
	t.Helper()

	w := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    strings.ToUpper(adminEmail),
		"password": adminPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session auth.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.NotEmpty(t, session.Token)
	assert.Equal(t, auth.RoleSuperAdmin, session.Admin.Role)
	return session.Token
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) storage.Order {
	t.Helper()
	var o storage.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o), w.Body.String())
	return o
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	env := newAPI(t)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/orders", "", newOrderBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeOrder(t, w)
	assert.EqualValues(t, 330, created.Price)
	assert.Equal(t, storage.StageOrderPlaced, created.Status)
	assert.Regexp(t, `^TRK\d{14}$`, created.TrackingNumber)
	assert.Nil(t, created.ActualDelivery)

	w = env.do(t, http.MethodGet, "/track/"+strings.ToLower(created.TrackingNumber), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decodeOrder(t, w).ID)

	w = env.do(t, http.MethodGet, "/orders/"+created.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPatch, "/orders/"+created.ID+"/status", token, map[string]string{
		"status":   "In Transit",
		"location": "Memphis hub",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	inTransit := decodeOrder(t, w)
	require.Len(t, inTransit.Stages, 2)
	assert.Equal(t, "Memphis hub", inTransit.Stages[1].Location)
	assert.Equal(t, storage.StageInTransit, inTransit.CurrentStage)

	w = env.do(t, http.MethodPost, "/orders/"+created.ID+"/status", token, map[string]string{"status": "Delivered"})
	require.Equal(t, http.StatusOK, w.Code)
	delivered := decodeOrder(t, w)
	assert.NotNil(t, delivered.ActualDelivery)
	assert.Equal(t, created.Price, delivered.Price)
	assert.True(t, created.EstimatedDelivery.Equal(delivered.EstimatedDelivery))

	// The public lookup must not serve the cached pre-delivery copy.
	w = env.do(t, http.MethodGet, "/track/"+created.TrackingNumber, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, storage.StageDelivered, decodeOrder(t, w).Status)

	w = env.do(t, http.MethodGet, "/orders?status=Delivered", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list order.ListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Pagination.Total)

	w = env.do(t, http.MethodGet, "/dashboard/stats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats order.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.DeliveredOrders)
	assert.EqualValues(t, 330, stats.TotalRevenue)

	w = env.do(t, http.MethodDelete, "/orders/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/orders/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	doc, err := env.store.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Orders)
	assert.Len(t, doc.AdminAccounts, 1)
}

func TestCreateOrderInvalidData(t *testing.T) {
	env := newAPI(t)

	w := env.do(t, http.MethodPost, "/orders", "", map[string]string{"customerName": "Jane"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing required fields")

	doc, err := env.store.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Orders)
}

func TestSignupThenLogin(t *testing.T) {
	env := newAPI(t)

	w := env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"firstName": "Ann",
		"lastName":  "Lee",
		"email":     "Ann@Example.com",
		"password":  "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	w = env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"firstName": "Ann",
		"lastName":  "Lee",
		"email":     "ann@example.com",
		"password":  "secret1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ann@example.com", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ann@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusOK, w.Code)

	doc, err := env.store.Read(context.Background())
	require.NoError(t, err)
	for _, a := range doc.AdminAccounts {
		assert.NotEqual(t, "secret1", a.Password)
	}
}

func TestDeactivatedAdminLosesAccess(t *testing.T) {
	env := newAPI(t)
	superToken := env.login(t)

	w := env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"firstName": "Ann",
		"lastName":  "Lee",
		"email":     "ann@example.com",
		"password":  "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ann auth.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ann))

	w = env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ann@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	var session auth.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))

	w = env.do(t, http.MethodGet, "/orders", session.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPatch, "/admins/"+ann.ID+"/active", superToken, map[string]bool{"isActive": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/orders", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodDelete, "/admins/"+ann.ID, superToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/dashboard/stats", session.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLiveTrackingThroughRouter(t *testing.T) {
	env := newAPI(t)
	token := env.login(t)

	w := env.do(t, http.MethodPost, "/orders", "", newOrderBody)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeOrder(t, w)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/track/" + strings.ToLower(created.TrackingNumber)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot struct {
		Type  string        `json:"type"`
		Order storage.Order `json:"order"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	assert.Equal(t, created.ID, snapshot.Order.ID)

	w = env.do(t, http.MethodPatch, "/orders/"+created.ID+"/status", token, map[string]string{
		"status":   "Picked Up",
		"location": "Chicago depot",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var event live.Message
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, live.MessageEvent, event.Type)
	require.NotNil(t, event.Event)
	assert.Equal(t, order.EventStatusChanged, event.Event.Type)
	assert.Equal(t, storage.StagePickedUp, event.Event.Status)
	assert.Equal(t, "Chicago depot", event.Event.Location)
}
