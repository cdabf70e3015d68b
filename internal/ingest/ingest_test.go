package ingest

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func testFetcher() *Fetcher {
	f := NewFetcher()
	f.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return f
}

func readFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "permits.xml"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func TestSchemeOf(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"https://esploradati.istat.it/SDMXWS/rest/data/x", "http"},
		{"HTTP://example.org", "http"},
		{"ftp://ftp.example.org/pub/data.xml", "ftp"},
		{"file:///tmp/data.xml", "file"},
		{"testdata/permits.xml", "file"},
	}
	for _, tt := range tests {
		if got := schemeOf(tt.location); got != tt.want {
			t.Errorf("schemeOf(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "" {
			t.Error("missing Accept header")
		}
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<ok/>"))
	}))
	defer srv.Close()

	res, err := testFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(res.Body) != "<ok/>" {
		t.Errorf("Body = %q", res.Body)
	}
	if res.HTTPStatus != http.StatusOK || res.Scheme != "http" {
		t.Errorf("result = %+v", res)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such dataflow", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", statusErr.Status)
	}
	if statusErr.Body != "no such dataflow" {
		t.Errorf("Body = %q", statusErr.Body)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestFetch_File(t *testing.T) {
	res, err := testFetcher().Fetch(context.Background(), filepath.Join("testdata", "permits.xml"))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Scheme != "file" || len(res.Body) == 0 {
		t.Errorf("result = %s %d bytes", res.Scheme, len(res.Body))
	}

	if _, err := testFetcher().Fetch(context.Background(), "testdata/missing.xml"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestPipeline_FetchAndBuild(t *testing.T) {
	fixture := readFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write(fixture)
	}))
	defer srv.Close()

	st := setupTestStore(t)
	p := NewPipeline(st, testFetcher(), nil)
	ctx := context.Background()

	doc, err := p.FetchDocument(ctx, srv.URL)
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}

	build, err := p.BuildFeatures(ctx, "permits", doc)
	if err != nil {
		t.Fatalf("BuildFeatures: %v", err)
	}
	if len(build.Observations) != 5 {
		t.Errorf("observations = %d, want 5", len(build.Observations))
	}
	if len(build.Quarterly) != 5 {
		t.Fatalf("quarterly = %d, want 5", len(build.Quarterly))
	}
	if len(build.Monthly) != 15 {
		t.Fatalf("monthly = %d, want 15 (Oct 2023 to Dec 2024)", len(build.Monthly))
	}

	jan := build.Monthly[3]
	if !jan.Month.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("month[3] = %v, want 2024-01", jan.Month)
	}
	if jan.Dwellings.Int64 != 14918 || jan.Lag1.Int64 != 13702 || jan.Change.Int64 != 1216 {
		t.Errorf("January features = %+v", jan)
	}
	if !jan.IsGrowth.Bool {
		t.Error("2024-Q1 should be a growth quarter")
	}

	stored, err := st.GetMonthly("permits", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 15 {
		t.Errorf("stored monthly = %d, want 15", len(stored))
	}

	runs, err := st.GetRecentFetchRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || !runs[0].Success || runs[0].HTTPStatus.Int64 != 200 {
		t.Errorf("fetch runs = %+v", runs)
	}

	latest, err := p.LatestDocument()
	if err != nil {
		t.Fatalf("LatestDocument: %v", err)
	}
	if len(latest) != len(fixture) {
		t.Errorf("latest payload = %d bytes, want %d", len(latest), len(fixture))
	}
}

func TestPipeline_FailedFetchIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer srv.Close()

	st := setupTestStore(t)
	p := NewPipeline(st, testFetcher(), nil)

	if _, err := p.FetchDocument(context.Background(), srv.URL); err == nil {
		t.Fatal("expected fetch error")
	}

	runs, err := st.GetRecentFetchRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Success || !runs[0].ErrorMessage.Valid {
		t.Errorf("run = %+v, want failure with message", runs[0])
	}
	if runs[0].HTTPStatus.Int64 != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", runs[0].HTTPStatus.Int64)
	}

	if _, err := p.LatestDocument(); err == nil {
		t.Error("LatestDocument should fail with nothing stored")
	}
}

func TestPipeline_NoMatchingSeries(t *testing.T) {
	p := NewPipeline(nil, testFetcher(), map[string]string{"DATA_TYPE": "MISSING"})

	_, err := p.BuildFeatures(context.Background(), "permits", readFixture(t))
	if !errors.Is(err, models.ErrNoRecords) {
		t.Errorf("err = %v, want ErrNoRecords", err)
	}
}

func TestScheduler_RefreshOnce(t *testing.T) {
	st := setupTestStore(t)
	p := NewPipeline(st, testFetcher(), nil)
	s := NewScheduler(p, filepath.Join("testdata", "permits.xml"), "permits", time.Hour)

	build, err := s.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}
	if build.Dataset != "permits" || len(build.Quarterly) != 5 {
		t.Errorf("build = %s %d quarters", build.Dataset, len(build.Quarterly))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestScheduler_RunNotifiesAfterRebuild(t *testing.T) {
	st := setupTestStore(t)
	p := NewPipeline(st, testFetcher(), nil)
	s := NewScheduler(p, filepath.Join("testdata", "permits.xml"), "permits", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got *Build
	s.OnRefresh(func(b *Build) {
		got = b
		cancel()
	})

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	if got == nil || len(got.Monthly) != 15 {
		t.Fatalf("hook build = %+v", got)
	}
}
