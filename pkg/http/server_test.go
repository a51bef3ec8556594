package http

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type routesFunc func(e *echo.Echo)

func (f routesFunc) RegisterRoutes(e *echo.Echo) { f(e) }

type sample struct {
	route, method string
	status        int
}

type recordingObserver struct {
	mu      sync.Mutex
	samples []sample
}

func (o *recordingObserver) ObserveHTTP(route, method string, status int, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, sample{route, method, status})
}

func testRoutes() Handler {
	return routesFunc(func(e *echo.Echo) {
		e.GET("/items/:id", func(c echo.Context) error {
			if c.Param("id") == "missing" {
				return AppErrorResponse(c, NotFoundError("id"))
			}
			return SuccessResponse(c, map[string]string{"id": c.Param("id")})
		})
		e.GET("/boom", func(echo.Context) error { panic("boom") })
	})
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServerRecordsRouteTemplates(t *testing.T) {
	obs := &recordingObserver{}
	s := NewServer([]Handler{testRoutes()}, WithObserver(obs))

	assert.Equal(t, http.StatusOK, serve(s, "/items/1").Code)
	assert.Equal(t, http.StatusNotFound, serve(s, "/items/missing").Code)

	assert.Equal(t, []sample{
		{"/items/:id", http.MethodGet, http.StatusOK},
		{"/items/:id", http.MethodGet, http.StatusNotFound},
	}, obs.samples)
}

func TestServerRecoversPanics(t *testing.T) {
	s := NewServer([]Handler{testRoutes()})
	rec := serve(s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestMetricsRoute(t *testing.T) {
	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("oiwatch_up 1\n"))
	})

	s := NewServer(nil, WithMetricsHandler(scrape))
	rec := serve(s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "oiwatch_up 1\n", rec.Body.String())

	s = NewServer(nil, WithMetricsHandler(scrape), WithMetricsPath(""))
	assert.Equal(t, http.StatusNotFound, serve(s, "/metrics").Code)
}

func TestAddr(t *testing.T) {
	s := NewServer(nil, WithHost("127.0.0.1"), WithPort(9090))
	assert.Equal(t, "127.0.0.1:9090", s.Addr())
}
