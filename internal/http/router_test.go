package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/clinic_triage/backend/internal/catalog"
	"github.com/clinic_triage/backend/internal/config"
	"github.com/clinic_triage/backend/internal/http/handlers"
	"github.com/clinic_triage/backend/internal/http/middleware"
	"github.com/clinic_triage/backend/internal/occupancy"
	"github.com/clinic_triage/backend/internal/simulation"
)

func testRouter(adminKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	c := catalog.Default()
	store := occupancy.NewStore(c, occupancy.StoreOptions{Logger: zerolog.Nop()})
	h := &handlers.Handler{
		Occupancy: store,
		Catalog:   c,
		Evolution: simulation.NewModel(c, store.Overflow()),
		Validator: validator.New(),
		Logger:    zerolog.Nop(),
	}
	return Router(config.Config{AdminKey: adminKey, CORSAllowed: "*"}, h, zerolog.Nop())
}

func TestAdminRoutesRequireKey(t *testing.T) {
	r := testRouter("s3cret")
	body := []byte(`{"hours":24,"seed":1}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/occupancy/seed", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/occupancy/seed", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.AdminKeyHeader, "s3cret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublicRoutesAndRequestID(t *testing.T) {
	r := testRouter("s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/occupancy/current", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/decisions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := testRouter("")
	req := httptest.NewRequest(http.MethodOptions, "/api/triage", nil)
	req.Header.Set("Origin", "http://ward.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
