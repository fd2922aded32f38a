package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manyworlds/continuum/pkg/api"
	"github.com/manyworlds/continuum/pkg/models"
)

// newAPIServer exposes the app over a real HTTP listener.
func newAPIServer(t *testing.T, app *testApp) *httptest.Server {
	t.Helper()
	server := api.NewServer(app.db, app.store, app.orch, app.universe, app.evidence, app.blobs, app.pool)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func getJSON(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// TestHTTPRunLifecycle drives a run entirely over the HTTP surface:
// project creation, admission, status polling, telemetry download, and
// evidence retrieval.
func TestHTTPRunLifecycle(t *testing.T) {
	app := newTestApp(t)
	ts := newAPIServer(t, app)

	resp, body := postJSON(t, ts.URL+"/api/v1/projects", map[string]any{
		"tenant_id":       uuid.NewString(),
		"name":            "http-e2e",
		"engine_version":  "1.4.0",
		"ruleset_version": "2024.2",
		"dataset_version": "ds-7",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		Project  models.Project `json:"project"`
		RootNode models.Node    `json:"root_node"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEqual(t, uuid.Nil, created.Project.ID)
	assert.True(t, created.RootNode.IsBaseline)

	resp, body = postJSON(t, fmt.Sprintf("%s/api/v1/projects/%s/runs", ts.URL, created.Project.ID), map[string]any{
		"node_id":    created.RootNode.ID,
		"run_config": baseRunConfig(30, 17),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var run models.Run
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, int64(17), run.SeedUsed)

	// Poll the run endpoint until terminal.
	deadline := time.Now().Add(runWait)
	for run.Status != models.RunStatusSucceeded {
		require.False(t, time.Now().After(deadline), "run stuck in %s", run.Status)
		require.False(t, run.Status.IsTerminal(), "run ended %s: %v", run.Status, run.ErrorMessage)
		time.Sleep(20 * time.Millisecond)

		resp, body = getJSON(t, fmt.Sprintf("%s/api/v1/runs/%s", ts.URL, run.ID))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &run))
	}
	assert.Equal(t, 30, run.TicksExecuted)

	// The memory backend cannot mint signed URLs, so the blob is served
	// inline.
	resp, body = getJSON(t, fmt.Sprintf("%s/api/v1/runs/%s/telemetry", ts.URL, run.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, body)

	// Evidence lands shortly after the terminal status.
	deadline = time.Now().Add(runWait)
	for {
		resp, body = getJSON(t, fmt.Sprintf("%s/api/v1/evidence/%s", ts.URL, run.ID))
		if resp.StatusCode == http.StatusOK {
			break
		}
		require.Equal(t, http.StatusNotFound, resp.StatusCode, string(body))
		require.False(t, time.Now().After(deadline), "evidence pack never appeared")
		time.Sleep(20 * time.Millisecond)
	}
	var pack models.EvidencePack
	require.NoError(t, json.Unmarshal(body, &pack))
	assert.Equal(t, run.ID, pack.RunID)

	resp, body = getJSON(t, fmt.Sprintf("%s/api/v1/universe-map/%s", ts.URL, created.Project.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var umap models.UniverseMap
	require.NoError(t, json.Unmarshal(body, &umap))
	assert.Len(t, umap.Nodes, 1)

	resp, _ = getJSON(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestHTTPErrorContract spot-checks the error status mapping against real
// services: unknown ids are 404, invalid admission is 400, illegal
// transitions are 409.
func TestHTTPErrorContract(t *testing.T) {
	app := newTestApp(t, withoutWorkers())
	ts := newAPIServer(t, app)
	project, root := app.createProject(t)

	resp, _ := getJSON(t, fmt.Sprintf("%s/api/v1/runs/%s", ts.URL, uuid.New()))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = getJSON(t, fmt.Sprintf("%s/api/v1/projects/%s", ts.URL, uuid.New()))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Neither node_id nor fork.
	resp, body := postJSON(t, fmt.Sprintf("%s/api/v1/projects/%s/runs", ts.URL, project.ID), map[string]any{
		"run_config": baseRunConfig(30, 1),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	// Cancel an already-canceled run.
	run := app.queueRun(t, project.ID, root.ID, baseRunConfig(30, 2))
	resp, _ = postJSON(t, fmt.Sprintf("%s/api/v1/runs/%s/cancel", ts.URL, run.ID), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = postJSON(t, fmt.Sprintf("%s/api/v1/runs/%s/cancel", ts.URL, run.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
