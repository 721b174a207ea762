package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

func newEcho() *echo.Echo {
	e := echo.New()
	e.Use(Metrics(logger.Nop(), 0))
	e.Use(Recover(logger.Nop()))
	e.Use(RequestLogging(logger.Nop()))
	e.Use(CORS(CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{echo.HeaderContentType},
		MaxAge:       600,
	}))
	e.GET("/ok/:id", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/panic", func(c echo.Context) error { panic("boom") })
	e.GET("/fail", func(c echo.Context) error { return errors.New("backend down") })
	return e
}

func serve(e *echo.Echo, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMetricsUseRouteTemplate(t *testing.T) {
	e := newEcho()
	counter := httpRequestsTotal.WithLabelValues("/ok/:id", http.MethodGet, "200")
	before := testutil.ToFloat64(counter)

	serve(e, http.MethodGet, "/ok/1", nil)
	serve(e, http.MethodGet, "/ok/2", nil)

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecoverAndErrorsBecome500(t *testing.T) {
	e := newEcho()

	rec := serve(e, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")

	rec = serve(e, http.MethodGet, "/fail", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS(t *testing.T) {
	e := newEcho()

	rec := serve(e, http.MethodOptions, "/ok/1", map[string]string{echo.HeaderOrigin: "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, http.MethodGet, rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, "600", rec.Header().Get(echo.HeaderAccessControlMaxAge))

	rec = serve(e, http.MethodGet, "/ok/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	strict := CORSConfig{AllowOrigins: []string{"https://app.example"}}
	_, ok := strict.allowed("https://evil.example")
	assert.False(t, ok)
}
