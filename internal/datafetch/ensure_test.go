package datafetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EnsureTestSuite struct {
	suite.Suite
}

func TestEnsureSuite(t *testing.T) {
	suite.Run(t, new(EnsureTestSuite))
}

func (s *EnsureTestSuite) TestEnsureTimeframeBarsOK() {
	router := mux.NewRouter()
	router.HandleFunc("/ensure_timeframe_bars", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok": true, "path": "/data/AAPL/5min.parquet"}`))
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := EnsureTimeframeBars(context.Background(), srv.URL, EnsureRequest{
		Symbol:       "AAPL",
		Timeframe:    "M5",
		RequestedEnd: "2026-01-02T00:00:00Z",
		LookbackDays: 5,
		WarmupDays:   1,
	})
	require.NoError(s.T(), err)
	s.True(resp.OK)
	s.Equal("/data/AAPL/5min.parquet", resp.Path)
}

func (s *EnsureTestSuite) TestEnsureTimeframeBarsNonOKStatus() {
	router := mux.NewRouter()
	router.HandleFunc("/ensure_timeframe_bars", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(router)
	defer srv.Close()

	_, err := EnsureTimeframeBars(context.Background(), srv.URL, EnsureRequest{Symbol: "AAPL", Timeframe: "M5"})
	s.Error(err)
}
