package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytedance/sonic"

	"github.com/mocklab/backend/internal/engine/bundle"
	"github.com/mocklab/backend/internal/engine/bus"
	"github.com/mocklab/backend/internal/engine/pipeline"
	"github.com/mocklab/backend/internal/engine/registry"
	"github.com/mocklab/backend/internal/engine/scheduler"
	"github.com/mocklab/backend/internal/infrastructure/logging"
	"github.com/mocklab/backend/internal/shared/types"
)

func newTestRouter(t *testing.T) (*gin.Engine, *bus.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewNop()
	b := bus.New()
	reg := registry.New(b, logger, nil)
	sched := scheduler.New(reg, pipeline.New(), b, logger, nil)
	reg.SetSimulations(sched)
	bundles := bundle.New(reg, b, logger, nil)

	router := gin.New()
	NewHandlers(reg, sched, bundles, nil, logger).RegisterRoutes(router)

	t.Cleanup(sched.StopAll)
	return router, b
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const orderServiceJSON = `{
	"name": "orders",
	"type": "api",
	"data_streams": [
		{"id": "in", "name": "Inbound", "source": "gateway", "destination": "orders", "format": "json"}
	]
}`

func createService(t *testing.T, router *gin.Engine) string {
	t.Helper()
	rec := doJSON(t, router, "POST", "/services", orderServiceJSON)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	return body["service"].(map[string]interface{})["id"].(string)
}

func TestCreateAndGetService(t *testing.T) {
	router, _ := newTestRouter(t)

	instanceID := createService(t, router)
	assert.NotEmpty(t, instanceID)

	rec := doJSON(t, router, "GET", "/services/"+instanceID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	svc := decode(t, rec)["service"].(map[string]interface{})
	assert.Equal(t, "orders", svc["name"])
	assert.Equal(t, "running", svc["status"])
	assert.Len(t, svc["streams"], 1)
}

func TestCreateServiceValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/services", `{"type": "api"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "POST", "/services", `{
		"name": "dup", "type": "api",
		"data_streams": [
			{"id": "s", "name": "a", "format": "json"},
			{"id": "s", "name": "b", "format": "json"}
		]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownServiceIs404(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, doJSON(t, router, "GET", "/services/inst_missing", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, router, "DELETE", "/services/inst_missing", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, router, "POST", "/services/inst_missing/simulate", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, router, "GET", "/services/inst_missing/recordings", "").Code)
}

func TestStopService(t *testing.T) {
	router, _ := newTestRouter(t)
	instanceID := createService(t, router)

	rec := doJSON(t, router, "DELETE", "/services/"+instanceID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "GET", "/services/"+instanceID, "")
	svc := decode(t, rec)["service"].(map[string]interface{})
	assert.Equal(t, "stopped", svc["status"])
	assert.NotNil(t, svc["stopped_at"])
}

func TestSimulationLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)
	instanceID := createService(t, router)

	rec := doJSON(t, router, "POST", "/services/"+instanceID+"/simulate", `{"duration": 60000, "data_rate": 5}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["run_id"])

	rec = doJSON(t, router, "POST", "/services/"+instanceID+"/simulate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, "DELETE", "/services/"+instanceID+"/simulate", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Idempotent with no active run.
	rec = doJSON(t, router, "DELETE", "/services/"+instanceID+"/simulate", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStreamSnapshotIncludesBuffer(t *testing.T) {
	router, b := newTestRouter(t)
	instanceID := createService(t, router)

	completed := make(chan struct{}, 1)
	b.Subscribe(func(bus.Event) { completed <- struct{}{} }, bus.SimulationComplete)

	rec := doJSON(t, router, "POST", "/services/"+instanceID+"/simulate", `{"duration": 200, "data_rate": 20}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("simulation did not complete")
	}

	rec = doJSON(t, router, "GET", "/services/"+instanceID+"/streams/in", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stream := decode(t, rec)["stream"].(map[string]interface{})
	assert.Equal(t, "in", stream["id"])
	assert.NotEmpty(t, stream["buffer"])

	rec = doJSON(t, router, "GET", "/services/"+instanceID+"/streams/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingsExport(t *testing.T) {
	router, b := newTestRouter(t)
	instanceID := createService(t, router)

	completed := make(chan struct{}, 1)
	b.Subscribe(func(bus.Event) { completed <- struct{}{} }, bus.SimulationComplete)

	rec := doJSON(t, router, "POST", "/services/"+instanceID+"/simulate", `{"duration": 200, "data_rate": 20}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("simulation did not complete")
	}

	rec = doJSON(t, router, "GET", "/services/"+instanceID+"/recordings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	var export struct {
		InstanceID string            `json:"instance_id"`
		Count      int               `json:"count"`
		Recordings []types.Recording `json:"recordings"`
	}
	require.NoError(t, sonic.Unmarshal(raw, &export))
	assert.Equal(t, instanceID, export.InstanceID)
	assert.Positive(t, export.Count)
	assert.Len(t, export.Recordings, export.Count)
}

func TestBundleEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/bundles", `{
		"enable_data_flow": true,
		"configs": [
			{"name": "orders", "type": "api", "data_streams": [
				{"id": "orders-out", "name": "Out", "source": "gateway", "destination": "billing", "format": "json"}
			]},
			{"name": "billing", "type": "worker", "data_streams": [
				{"id": "billing-in", "name": "In", "source": "billing", "destination": "ledger", "format": "json"}
			]}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bnd := decode(t, rec)["bundle"].(map[string]interface{})
	bundleID := bnd["id"].(string)
	assert.Len(t, bnd["links"], 1)
	assert.Len(t, bnd["services"], 2)

	rec = doJSON(t, router, "GET", "/bundles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["bundles"], 1)

	rec = doJSON(t, router, "GET", "/bundles/"+bundleID+"/api-config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode(t, rec)["api_config"].(map[string]interface{})
	assert.Len(t, cfg["endpoints"], 6)

	assert.Equal(t, http.StatusNotFound, doJSON(t, router, "GET", "/bundles/bndl_missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, router, "POST", "/bundles", `{"configs": []}`).Code)
}

func TestFleetMetrics(t *testing.T) {
	router, _ := newTestRouter(t)
	createService(t, router)

	rec := doJSON(t, router, "GET", "/metrics/json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	instances := body["instances"].(map[string]interface{})
	assert.EqualValues(t, 1, instances["total"])
	assert.EqualValues(t, 1, instances["running"])
	assert.Contains(t, body, "response_time_ms")
	assert.Contains(t, body, "totals")
}

func TestHealthAndRoot(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mocklab-backend", decode(t, rec)["service"])

	rec = doJSON(t, router, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}
