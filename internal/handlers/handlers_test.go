package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sjperalta/school-ledger-api/internal/config"
	"github.com/sjperalta/school-ledger-api/internal/jobs"
	"github.com/sjperalta/school-ledger-api/internal/ledger"
	"github.com/sjperalta/school-ledger-api/internal/locking"
	"github.com/sjperalta/school-ledger-api/internal/metrics"
	"github.com/sjperalta/school-ledger-api/internal/middleware"
	"github.com/sjperalta/school-ledger-api/internal/repository"
	"github.com/sjperalta/school-ledger-api/internal/services"
	"github.com/sjperalta/school-ledger-api/internal/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type apiEnv struct {
	db     *gorm.DB
	f      *testsupport.Fixture
	svcs   *services.Services
	router *gin.Engine
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testsupport.NewDB(t)
	f := testsupport.Seed(t, db)

	m := metrics.NewLedgerMetrics(prometheus.NewRegistry())
	repos := repository.NewRepositories(db, repository.LedgerOptions{ReceiptAttempts: 5, Metrics: m})

	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)

	cfg := &config.Config{
		JWTSecret:          testSecret,
		CommitMaxRetries:   3,
		ReceiptMaxAttempts: 5,
		ReceiptPrefix:      ledger.DefaultReceiptPrefix,
		SettingsTimeout:    2 * time.Second,
		ScheduleCacheTTL:   time.Minute,
		LockTTL:            time.Second,
	}
	svcs := services.NewServices(repos, worker, locking.NewLocalLocker(), cfg, db, m)

	router := gin.New()
	router.Use(middleware.RequestID())
	NewHandlers(svcs, db).RegisterRoutes(router.Group("/api/v1"), testSecret)

	return &apiEnv{db: db, f: f, svcs: svcs, router: router}
}

// do sends a JSON request as a user with the given role. An empty role sends no token.
func (e *apiEnv) do(t *testing.T, role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := middleware.SignToken(testSecret, 7, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
