package httpserver_test

import (
	"context"
	"net/http/httptest"
	"testing"

	httpserver "github.com/graphscript/evalserver/internal/adapter/httpserver"
	"github.com/graphscript/evalserver/internal/config"
)

func TestReadyzHandler_AllOK(t *testing.T) {
	cfg := config.Config{Port: 8080}
	s := httpserver.NewServer(cfg, nil, nil,
		func(_ context.Context) error { return nil },
		func(_ context.Context) error { return nil },
	)
	rw := httptest.NewRecorder()
	s.ReadyzHandler()(rw, httptest.NewRequest("GET", "/readyz", nil))
	if rw.Result().StatusCode != 200 {
		t.Fatalf("want 200, got %d", rw.Result().StatusCode)
	}
}

func TestHealthzHandler(t *testing.T) {
	cfg := config.Config{Port: 8080}
	s := httpserver.NewServer(cfg, nil, nil)
	rw := httptest.NewRecorder()
	s.HealthzHandler()(rw, httptest.NewRequest("GET", "/healthz", nil))
	if rw.Result().StatusCode != 200 {
		t.Fatalf("want 200, got %d", rw.Result().StatusCode)
	}
}
