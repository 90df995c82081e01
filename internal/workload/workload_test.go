package workload

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/FairForge/loadprobe/internal/metrics"
)

func TestCountCalls(t *testing.T) {
	assert.Equal(t, cpuCalls, countCalls(0))
	assert.Equal(t, 1, countCalls(cpuDepth))
}

func TestGrow(t *testing.T) {
	assert.Len(t, ramSeed, 64)
	assert.Len(t, grow(ramSeed, ramDoublings), 16*1024*1024)
	assert.Equal(t, "abab", grow("ab", 1))
}

func TestRun_WithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	w := New(nil, Options{DataDir: dir}, nil, zaptest.NewLogger(t))

	var out bytes.Buffer
	require.NoError(t, w.Run(context.Background(), &out))

	body := out.String()
	assert.True(t, strings.HasPrefix(body, "CPU: "))
	assert.Contains(t, body, "\nRAM: ")
	assert.Contains(t, body, "\n FS: ")
	assert.NotContains(t, body, "DB1")
	assert.True(t, strings.HasSuffix(body, "ms\n\nFinished OK\n"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be removed")
}

func expectDatabaseStages(mock sqlmock.Sqlmock) {
	for i := 0; i < dbLookups; i++ {
		mock.ExpectQuery("SELECT value FROM loadprobe_config WHERE name").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
	}
	mock.ExpectQuery(`SELECT COUNT\(1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3042)))
	mock.ExpectExec("INSERT INTO loadprobe_log").
		WithArgs(sqlmock.AnyArg(), "test", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestRun_WithDatabase(t *testing.T) {
	db, mock := newMockDB(t)
	expectDatabaseStages(mock)

	w := New(db, Options{DataDir: t.TempDir()}, nil, nil)

	var out bytes.Buffer
	require.NoError(t, w.Run(context.Background(), &out))

	body := out.String()
	assert.Contains(t, body, "\nDB1: ")
	assert.Contains(t, body, "ms (result = 3042)\n")
	assert.Contains(t, body, "\nDB3: ")
	assert.True(t, strings.HasSuffix(body, "Finished OK\n"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SillyRecordExists(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT value FROM loadprobe_config").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("surprise"))

	w := New(db, Options{DataDir: t.TempDir()}, nil, nil)

	var out bytes.Buffer
	err := w.Run(context.Background(), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should not exist")
	assert.NotContains(t, out.String(), "Finished OK")
}

func TestHandler_Success(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := New(nil, Options{DataDir: t.TempDir()}, metrics.NewTargetCollector(reg), nil)
	srv := httptest.NewServer(w.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/loadtest")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "\nFinished OK\n")

	expected := `
# HELP loadprobe_target_workloads_total Workload runs by result
# TYPE loadprobe_target_workloads_total counter
loadprobe_target_workloads_total{result="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "loadprobe_target_workloads_total"))
}

func TestHandler_StageFailure(t *testing.T) {
	db, mock := newMockDB(t)
	for i := 0; i < dbLookups; i++ {
		mock.ExpectQuery("SELECT value FROM loadprobe_config").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
	}
	mock.ExpectQuery(`SELECT COUNT\(1\)`).WillReturnError(errors.New("connection reset"))

	w := New(db, Options{DataDir: t.TempDir()}, nil, nil)
	rec := httptest.NewRecorder()
	w.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loadtest", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "[Error] join count: connection reset")
	assert.NotContains(t, rec.Body.String(), "Finished OK")
}

func TestHandler_CapacityCeiling(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := New(nil, Options{DataDir: t.TempDir(), RateLimit: 0.001, Burst: 1}, metrics.NewTargetCollector(reg), nil)
	router := w.Routes()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/loadtest", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/loadtest", nil))
	assert.Equal(t, http.StatusServiceUnavailable, second.Code)
	assert.NotContains(t, second.Body.String(), "Finished OK")

	expected := `
# HELP loadprobe_target_rejected_total Requests refused by the capacity ceiling
# TYPE loadprobe_target_rejected_total counter
loadprobe_target_rejected_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "loadprobe_target_rejected_total"))
}

func TestEnsureSchema(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS loadprobe_config").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS loadprobe_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM loadprobe_config`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO loadprobe_config").
		WithArgs(seedRows).
		WillReturnResult(sqlmock.NewResult(0, seedRows))

	w := New(db, Options{}, nil, nil)
	require.NoError(t, w.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_AlreadySeeded(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(seedRows))

	w := New(db, Options{}, nil, nil)
	require.NoError(t, w.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_NoDatabase(t *testing.T) {
	assert.NoError(t, New(nil, Options{}, nil, nil).EnsureSchema(context.Background()))
}
