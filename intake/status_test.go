package intake

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/fiscalstream/nfeflow/dbopen"
	"github.com/fiscalstream/nfeflow/nfe"
	"github.com/fiscalstream/nfeflow/store"
)

func newStatusServer(t *testing.T) (*store.Store, *Metrics, *httptest.Server) {
	t.Helper()
	st := store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewStatusHandler(st, reg, logger))
	t.Cleanup(srv.Close)
	return st, metrics, srv
}

func TestStatusHealthz(t *testing.T) {
	_, _, srv := newStatusServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d", resp.StatusCode)
	}
}

func TestStatusCounts(t *testing.T) {
	st, _, srv := newStatusServer(t)

	header := &nfe.Header{AccessKey: strings.Repeat("8", 44)}
	if err := st.SaveDocument(context.Background(), header, nil, "a.xml", "a.xml"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		DocumentsTotal int `json:"documents_total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.DocumentsTotal != 1 {
		t.Errorf("documents_total: got %d, want 1", body.DocumentsTotal)
	}
}

func TestStatusMetricsExposed(t *testing.T) {
	_, metrics, srv := newStatusServer(t)
	metrics.FilesTotal.WithLabelValues("success").Inc()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "nfeflow_files_total") {
		t.Error("pipeline counters missing from scrape output")
	}
}
