package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/scatter-lod/server/internal/cache"
	"github.com/scatter-lod/server/internal/lod"
	"github.com/scatter-lod/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
	Cache       *cache.Manager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Cache statistics
	r.Get("/api/stats", statsHandler(cfg.Registry, cfg.Cache))

	// Rebuild job endpoints
	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/rebuild", rebuildSubmitHandler(cfg.Registry, cfg.JobManager))
		r.Get("/{job_id}", jobStatusHandler(cfg.JobManager))
		r.Delete("/{job_id}", jobCancelHandler(cfg.JobManager))
	})

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", datasetMetadataHandler)
			r.Get("/levels", datasetLevelsHandler)
			r.Get("/ranges", datasetRangesHandler)
			r.Get("/viewport", datasetViewportHandler)
			r.Get("/categories", datasetCategoriesHandler)
			r.Get("/categories/{column}/values", datasetCategoryValuesHandler)
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the LOD service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.LODService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.LODService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

// statsHandler reports dataset and cache counters.
func statsHandler(registry *DatasetRegistry, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]interface{}{
			"datasets": len(registry.DatasetIDs()),
		}
		if c != nil {
			out["cache"] = c.Stats()
		}
		writeJSON(w, out)
	}
}

func datasetMetadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not available", http.StatusInternalServerError)
		return
	}
	writeJSON(w, svc.Metadata())
}

func datasetLevelsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not available", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"dataset": svc.DatasetID(),
		"levels":  svc.Levels(),
	})
}

func datasetRangesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not available", http.StatusInternalServerError)
		return
	}
	xr, yr := svc.Ranges()
	writeJSON(w, map[string]interface{}{
		"x": xr,
		"y": yr,
	})
}

// datasetViewportHandler answers one interactive viewport query.
//
// Query parameters: x0, x1, y0, y1 (all four or none; none means the whole
// dataset), min_points, and attribute filters as filter.<column>=<value>.
func datasetViewportHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not available", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	vp := lod.NoViewport()
	bounds := []string{"x0", "x1", "y0", "y1"}
	present := 0
	for _, b := range bounds {
		if q.Get(b) != "" {
			present++
		}
	}
	if present > 0 {
		if present < len(bounds) {
			http.Error(w, "viewport requires all of x0, x1, y0, y1", http.StatusBadRequest)
			return
		}
		vals := make([]float64, len(bounds))
		for i, b := range bounds {
			f, err := strconv.ParseFloat(q.Get(b), 64)
			if err != nil {
				http.Error(w, "invalid "+b+": "+q.Get(b), http.StatusBadRequest)
				return
			}
			vals[i] = f
		}
		vp = lod.Viewport{X0: vals[0], X1: vals[1], Y0: vals[2], Y1: vals[3]}
	}

	minPoints := 0
	if s := q.Get("min_points"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid min_points: "+s, http.StatusBadRequest)
			return
		}
		minPoints = n
	}

	var filters map[string]string
	for key, vals := range q {
		if col := strings.TrimPrefix(key, "filter."); col != key && col != "" && len(vals) > 0 {
			if filters == nil {
				filters = make(map[string]string)
			}
			filters[col] = vals[0]
		}
	}

	res, err := svc.SelectViewport(vp, minPoints, filters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, res)
}

func datasetCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not available", http.StatusInternalServerError)
		return
	}
	cols := svc.CategoryColumns()
	if cols == nil {
		cols = []string{}
	}
	writeJSON(w, map[string]interface{}{
		"dataset":    svc.DatasetID(),
		"categories": cols,
	})
}

func datasetCategoryValuesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not available", http.StatusInternalServerError)
		return
	}
	column := chi.URLParam(r, "column")
	values, err := svc.CategoryValues(column)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"column": column,
		"values": values,
	})
}

type rebuildSubmitRequest struct {
	DatasetID string `json:"dataset_id"`
}

func rebuildSubmitHandler(registry *DatasetRegistry, jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req rebuildSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.DatasetID == "" {
			http.Error(w, "dataset_id is required", http.StatusBadRequest)
			return
		}
		if registry.Get(req.DatasetID) == nil {
			http.Error(w, "dataset not found: "+req.DatasetID, http.StatusNotFound)
			return
		}

		job, err := jm.Submit(req.DatasetID)
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(job)
	}
}

func jobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, job)
	}
}

func jobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		cancelled := jm.Cancel(jobID)
		writeJSON(w, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": cancelled,
		})
	}
}
