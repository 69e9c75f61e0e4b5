package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scatter-lod/server/internal/data/points"
	"github.com/scatter-lod/server/internal/frame"
	"github.com/scatter-lod/server/internal/lod"
	"github.com/scatter-lod/server/internal/service"
	"github.com/scatter-lod/server/internal/store"
)

// testServer holds the test server and its dependencies
type testServer struct {
	server *httptest.Server
	store  *store.Store
	jobs   *JobManager
	svc    *service.LODService
}

// testTable builds a 10x10 grid of bins with 5 points each (500 rows).
func testTable(t *testing.T) *frame.Table {
	t.Helper()

	ranks := []float64{100, 80, 60, 40, 20}
	var (
		ids  []int64
		xs   []float64
		ys   []float64
		vals []float64
		cats []string
	)
	id := int64(0)
	for bx := 0; bx < 10; bx++ {
		for by := 0; by < 10; by++ {
			cat := "even"
			if (bx+by)%2 == 1 {
				cat = "odd"
			}
			for k := 0; k < 5; k++ {
				ids = append(ids, id)
				xs = append(xs, float64(bx)+0.5)
				ys = append(ys, float64(by)+0.5)
				vals = append(vals, ranks[k]+float64(bx*10+by)*0.001)
				cats = append(cats, cat)
				id++
			}
		}
	}
	tab, err := frame.NewTable(
		frame.IntCol("row_id", ids),
		frame.FloatCol("x", xs),
		frame.FloatCol("y", ys),
		frame.FloatCol("intensity", vals),
		frame.StringCol("cat", cats),
	)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return tab
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	strat, err := lod.ForName("exact")
	if err != nil {
		t.Fatalf("ForName failed: %v", err)
	}
	svc := service.NewLODService(service.LODServiceConfig{
		DatasetID: "demo",
		Table:     testTable(t),
		Spec: points.Spec{
			XColumn:        "x",
			YColumn:        "y",
			RankColumn:     "intensity",
			CategoryColumn: "cat",
		},
		MinPoints:     100,
		MinLevelSize:  100,
		Strategy:      strat,
		Mode:          lod.BuildCascading,
		MaxCategories: 8,
	})
	if err := svc.LoadOrBuild(nil); err != nil {
		t.Fatalf("LoadOrBuild failed: %v", err)
	}

	registry := NewDatasetRegistry("demo", []string{"demo"}, "")
	registry.Register("demo", svc)

	jm := NewJobManager(st, JobManagerConfig{MaxConcurrent: 1})
	jm.Executor = func(ctx context.Context, datasetID string) error {
		return svc.Rebuild(st)
	}

	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
		JobManager:  jm,
	})

	return &testServer{
		server: httptest.NewServer(router),
		store:  st,
		jobs:   jm,
		svc:    svc,
	}
}

func (ts *testServer) close() {
	ts.jobs.Stop()
	ts.server.Close()
	ts.store.Close()
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s response: %v", url, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	resp := getJSON(t, ts.server.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health returned %d", resp.StatusCode)
	}
}

func TestDatasetsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	var body struct {
		Default  string        `json:"default"`
		Datasets []DatasetInfo `json:"datasets"`
		Title    string        `json:"title"`
	}
	getJSON(t, ts.server.URL+"/api/datasets", &body)
	if body.Default != "demo" || len(body.Datasets) != 1 {
		t.Errorf("unexpected datasets response: %+v", body)
	}
	if body.Datasets[0].Rows != 500 {
		t.Errorf("rows = %d, want 500", body.Datasets[0].Rows)
	}
	if body.Title == "" {
		t.Error("expected a default title")
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	var body struct {
		Datasets int `json:"datasets"`
	}
	resp := getJSON(t, ts.server.URL+"/api/stats", &body)
	if resp.StatusCode != http.StatusOK || body.Datasets != 1 {
		t.Errorf("stats = %+v (status %d)", body, resp.StatusCode)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	var md service.Metadata
	resp := getJSON(t, ts.server.URL+"/d/demo/api/metadata", &md)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata returned %d", resp.StatusCode)
	}
	if md.ID != "demo" || md.TotalRows != 500 || md.Levels != 2 {
		t.Errorf("metadata = %+v", md)
	}
}

func TestUnknownDataset(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	resp := getJSON(t, ts.server.URL+"/d/nope/api/metadata", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLevelsAndRangesEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	var levels struct {
		Dataset string              `json:"dataset"`
		Levels  []service.LevelInfo `json:"levels"`
	}
	getJSON(t, ts.server.URL+"/d/demo/api/levels", &levels)
	if len(levels.Levels) != 2 || levels.Levels[0].Target != 100 {
		t.Errorf("levels = %+v", levels)
	}

	var ranges struct {
		X lod.Range `json:"x"`
		Y lod.Range `json:"y"`
	}
	getJSON(t, ts.server.URL+"/d/demo/api/ranges", &ranges)
	if ranges.X.Min != 0.5 || ranges.X.Max != 9.5 {
		t.Errorf("x range = %+v, want [0.5, 9.5]", ranges.X)
	}
}

func TestViewportEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	// No bounds: whole dataset at the smallest level.
	var res service.ViewportResult
	resp := getJSON(t, ts.server.URL+"/d/demo/api/viewport", &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("viewport returned %d", resp.StatusCode)
	}
	if res.Count != 100 {
		t.Errorf("count = %d, want 100", res.Count)
	}

	// Full-extent bounds with a budget above the smallest level refine.
	var refined service.ViewportResult
	getJSON(t, ts.server.URL+"/d/demo/api/viewport?x0=0&x1=10&y0=0&y1=10&min_points=150", &refined)
	if refined.Count != 150 || !refined.Refined {
		t.Errorf("refined = %+v, want exactly 150 refined rows", refined)
	}

	// Category filter routed to the partition ladder.
	var part service.ViewportResult
	getJSON(t, ts.server.URL+"/d/demo/api/viewport?filter.cat=even", &part)
	if part.Partition != "even" || part.Count != 100 {
		t.Errorf("partition result = %+v", part)
	}
}

func TestViewportEndpointBadRequests(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	cases := []string{
		"?x0=0&x1=10",            // partial bounds
		"?x0=a&x1=10&y0=0&y1=10", // bad float
		"?min_points=notanumber", // bad budget
		"?min_points=-5",         // negative budget
	}
	for _, qs := range cases {
		resp := getJSON(t, ts.server.URL+"/d/demo/api/viewport"+qs, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", qs, resp.StatusCode)
		}
	}
}

func TestCategoriesEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	var cats struct {
		Categories []string `json:"categories"`
	}
	getJSON(t, ts.server.URL+"/d/demo/api/categories", &cats)
	if len(cats.Categories) != 1 || cats.Categories[0] != "cat" {
		t.Errorf("categories = %+v", cats)
	}

	var values struct {
		Column string                      `json:"column"`
		Values []service.CategoryValueItem `json:"values"`
	}
	getJSON(t, ts.server.URL+"/d/demo/api/categories/cat/values", &values)
	if len(values.Values) != 2 {
		t.Errorf("values = %+v", values)
	}

	resp := getJSON(t, ts.server.URL+"/d/demo/api/categories/nope/values", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown column, got %d", resp.StatusCode)
	}
}

func TestRebuildJobLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()
	ts.jobs.Start()

	body := bytes.NewBufferString(`{"dataset_id":"demo"}`)
	resp, err := http.Post(ts.server.URL+"/api/jobs/rebuild", "application/json", body)
	if err != nil {
		t.Fatalf("POST rebuild failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var job store.RebuildJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	if job.ID == "" || job.DatasetID != "demo" {
		t.Fatalf("job = %+v", job)
	}

	// Poll until the job reaches a terminal state.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var got store.RebuildJob
		getJSON(t, ts.server.URL+"/api/jobs/"+job.ID, &got)
		if got.Status == store.JobStatusCompleted {
			break
		}
		if got.Status == store.JobStatusFailed || got.Status == store.JobStatusCancelled {
			t.Fatalf("job finished with status %s: %s", got.Status, got.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, last status %s", got.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRebuildJobValidation(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()

	post := func(payload string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.server.URL+"/api/jobs/rebuild", "application/json", bytes.NewBufferString(payload))
		if err != nil {
			t.Fatalf("POST rebuild failed: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp
	}

	if resp := post(`{}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing dataset_id: expected 400, got %d", resp.StatusCode)
	}
	if resp := post(`{"dataset_id":"nope"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown dataset: expected 404, got %d", resp.StatusCode)
	}
	if resp := getJSON(t, ts.server.URL+"/api/jobs/doesnotexist", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", resp.StatusCode)
	}
}

func TestJobCancelBeforeStart(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.close()
	// Workers never started: the job stays queued and can be cancelled.

	job, err := ts.jobs.Submit("demo")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.server.URL+"/api/jobs/"+job.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		JobID     string `json:"job_id"`
		Cancelled bool   `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode cancel response: %v", err)
	}
	if !out.Cancelled {
		t.Error("expected the queued job to cancel")
	}

	got := ts.jobs.Get(job.ID)
	if got == nil || got.Status != store.JobStatusCancelled {
		t.Errorf("job status = %+v, want cancelled", got)
	}
}
