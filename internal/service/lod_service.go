// Package service provides business logic for the scatter-LOD server.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"

	"github.com/scatter-lod/server/internal/cache"
	"github.com/scatter-lod/server/internal/data/points"
	"github.com/scatter-lod/server/internal/frame"
	"github.com/scatter-lod/server/internal/lod"
	"github.com/scatter-lod/server/internal/store"
)

// ladderFormatVersion participates in the configuration hash so persisted
// ladders from older level-file layouts are rebuilt rather than misread.
const ladderFormatVersion = "1"

// MaxPointBudget caps a single viewport request.
const MaxPointBudget = 200000

// LODServiceConfig contains LOD service configuration.
type LODServiceConfig struct {
	DatasetID     string
	Table         *frame.Table
	Spec          points.Spec
	MinPoints     int
	MinLevelSize  int
	Strategy      lod.Strategy
	Mode          lod.BuildMode
	MaxCategories int
	Cache         *cache.Manager
}

// ladderState bundles the global and per-category ladders so a rebuild can
// replace both in one atomic swap.
type ladderState struct {
	ladder     *lod.Ladder
	catLadders *lod.CategoryLadders
}

// LODService serves viewport queries for one dataset from its precomputed
// ladder. Ladders are immutable once built; a rebuild swaps in a fresh state
// atomically, so readers never need locking.
type LODService struct {
	datasetID string
	tab       *frame.Table

	xCol, yCol, rankCol, idCol, catCol string

	minPoints     int
	maxCategories int
	strategy      lod.Strategy
	mode          lod.BuildMode
	minLevelSize  int

	params     lod.Params
	configHash string

	state atomic.Pointer[ladderState]

	cache *cache.Manager
}

// NewLODService creates the service and pins the dataset's axis ranges.
// Call LoadOrBuild before serving queries.
func NewLODService(cfg LODServiceConfig) *LODService {
	raw := cfg.Table.View()

	xr := lod.Range{}
	if lo, hi, ok := raw.MinMax(cfg.Spec.XColumn); ok {
		xr = lod.Range{Min: lo, Max: hi}
	}
	yr := lod.Range{}
	if lo, hi, ok := raw.MinMax(cfg.Spec.YColumn); ok {
		yr = lod.Range{Min: lo, Max: hi}
	}

	s := &LODService{
		datasetID:     cfg.DatasetID,
		tab:           cfg.Table,
		xCol:          cfg.Spec.XColumn,
		yCol:          cfg.Spec.YColumn,
		rankCol:       cfg.Spec.RankColumn,
		idCol:         cfg.Spec.IDColumnName(),
		catCol:        cfg.Spec.CategoryColumn,
		minPoints:     cfg.MinPoints,
		minLevelSize:  cfg.MinLevelSize,
		maxCategories: cfg.MaxCategories,
		strategy:      cfg.Strategy,
		mode:          cfg.Mode,
		cache:         cfg.Cache,
	}
	s.params = lod.Params{
		XCol:    s.xCol,
		YCol:    s.yCol,
		RankCol: s.rankCol,
		XRange:  &xr,
		YRange:  &yr,
	}
	s.configHash = cache.ConfigHash(
		s.rankCol, s.xCol, s.yCol, s.catCol,
		fmt.Sprint(s.minLevelSize), s.strategy.Name(), s.mode.String(),
		ladderFormatVersion,
	)
	return s
}

// DatasetID returns the dataset identifier.
func (s *LODService) DatasetID() string { return s.datasetID }

// ConfigHash returns the ladder's invalidation key.
func (s *LODService) ConfigHash() string { return s.configHash }

func (s *LODService) partitionKey(value string) string {
	return s.datasetID + "#" + s.catCol + "=" + value
}

// LoadOrBuild restores the ladder from the store when the persisted
// configuration matches, otherwise builds it from raw data and persists the
// result. A nil store always builds in memory.
func (s *LODService) LoadOrBuild(st *store.Store) error {
	if st != nil {
		if err := s.loadPersisted(st); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrStaleConfig) {
			return err
		} else {
			log.Printf("[%s] persisted ladder unusable (%v), rebuilding", s.datasetID, err)
		}
	}
	return s.Rebuild(st)
}

func (s *LODService) loadPersisted(st *store.Store) error {
	raw := s.tab.View()
	bounded, err := st.LoadLadder(s.datasetID, s.configHash)
	if err != nil {
		return err
	}
	ladder := &lod.Ladder{Levels: append(bounded, lod.Level{Target: lod.FullResolution, View: raw})}

	var catLadders *lod.CategoryLadders
	if s.catCol != "" {
		values, _ := lod.DistinctValues(raw, s.catCol)
		if s.maxCategories <= 0 || len(values) <= s.maxCategories {
			catLadders = &lod.CategoryLadders{Column: s.catCol, Ladders: make(map[string]*lod.Ladder, len(values))}
			for _, value := range values {
				part := raw.FilterEqual(s.catCol, value)
				partLevels, err := st.LoadLadder(s.partitionKey(value), s.configHash)
				if err != nil {
					return err
				}
				catLadders.Ladders[value] = &lod.Ladder{
					Levels: append(partLevels, lod.Level{Target: lod.FullResolution, View: part}),
				}
			}
		}
	}

	s.state.Store(&ladderState{ladder: ladder, catLadders: catLadders})
	return nil
}

// Rebuild constructs the global and per-category ladders from raw data and,
// when a store is given, persists them.
func (s *LODService) Rebuild(st *store.Store) error {
	raw := s.tab.View()
	sizes := lod.PlanLevels(uint64(s.minLevelSize), uint64(raw.Len()))

	ladder, err := lod.BuildLadder(raw, sizes, s.mode, s.strategy, s.params)
	if err != nil {
		return fmt.Errorf("failed to build ladder for %s: %w", s.datasetID, err)
	}

	var catLadders *lod.CategoryLadders
	if s.catCol != "" {
		values, _ := lod.DistinctValues(raw, s.catCol)
		if s.maxCategories > 0 && len(values) > s.maxCategories {
			log.Printf("[%s] category %s has %d values, above limit %d; per-category ladders disabled",
				s.datasetID, s.catCol, len(values), s.maxCategories)
		} else {
			catLadders, err = lod.BuildCategoryLadders(
				raw, s.catCol, uint64(s.minLevelSize), s.maxCategories, s.mode, s.strategy, s.params)
			if err != nil {
				return fmt.Errorf("failed to build category ladders for %s: %w", s.datasetID, err)
			}
		}
	}

	if st != nil {
		if err := st.SaveLadder(s.datasetID, s.configHash, ladder, raw.Len()); err != nil {
			return fmt.Errorf("failed to persist ladder for %s: %w", s.datasetID, err)
		}
		if catLadders != nil {
			for value, part := range catLadders.Ladders {
				if err := st.SaveLadder(s.partitionKey(value), s.configHash, part, part.Full().View.Len()); err != nil {
					return fmt.Errorf("failed to persist partition %s=%s: %w", s.catCol, value, err)
				}
			}
		}
	}

	s.state.Store(&ladderState{ladder: ladder, catLadders: catLadders})
	return nil
}

// Ladder returns the global ladder, or nil before the first build.
func (s *LODService) Ladder() *lod.Ladder {
	if st := s.state.Load(); st != nil {
		return st.ladder
	}
	return nil
}

// ViewportResult is the columnar response for a viewport query.
type ViewportResult struct {
	IDs         []int64   `json:"ids"`
	X           []float64 `json:"x"`
	Y           []float64 `json:"y"`
	Rank        []float64 `json:"rank"`
	Categories  []string  `json:"categories,omitempty"`
	Count       int       `json:"count"`
	LevelIndex  int       `json:"level_index"`
	LevelTarget uint64    `json:"level_target,omitempty"`
	Full        bool      `json:"full_resolution"`
	Refined     bool      `json:"refined"`
	Partition   string    `json:"partition,omitempty"`
}

// SelectViewport answers one interactive query: the coarsest level with at
// least minPoints rows inside the viewport, refined down to the budget on
// overshoot. Results are cached under a key that includes the ladder's
// configuration hash.
func (s *LODService) SelectViewport(vp lod.Viewport, minPoints int, filters map[string]string) (*ViewportResult, error) {
	state := s.state.Load()
	if state == nil {
		return nil, fmt.Errorf("ladder not built for dataset %s", s.datasetID)
	}
	if minPoints <= 0 {
		minPoints = s.minPoints
	}
	if minPoints > MaxPointBudget {
		minPoints = MaxPointBudget
	}

	cacheKey := cache.ViewportKey(s.datasetID, s.configHash, vp.X0, vp.X1, vp.Y0, vp.Y1, minPoints, filters)
	if s.cache != nil {
		if data, ok := s.cache.GetResult(cacheKey); ok {
			var cached ViewportResult
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	ladder := state.ladder
	partition := ""
	effective := filters
	if state.catLadders != nil {
		if value, ok := filters[s.catCol]; ok {
			if part := state.catLadders.Get(value); part != nil {
				// The partition is pre-filtered; drop the category predicate.
				ladder = part
				partition = value
				effective = make(map[string]string, len(filters))
				for k, v := range filters {
					if k != s.catCol {
						effective[k] = v
					}
				}
			}
		}
	}

	lodFilters := make([]lod.Filter, 0, len(effective))
	keys := make([]string, 0, len(effective))
	for k := range effective {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lodFilters = append(lodFilters, lod.Filter{Column: k, Value: effective[k]})
	}

	sel, err := lod.SelectForViewport(ladder, vp, minPoints, lodFilters, s.strategy, s.params)
	if err != nil {
		return nil, fmt.Errorf("viewport selection failed: %w", err)
	}

	result := s.buildResult(sel, partition)

	if s.cache != nil {
		if data, err := json.Marshal(result); err == nil {
			s.cache.SetResult(cacheKey, data)
		}
	}
	return result, nil
}

func (s *LODService) buildResult(sel lod.Selection, partition string) *ViewportResult {
	n := sel.View.Len()
	out := &ViewportResult{
		IDs:        make([]int64, n),
		X:          make([]float64, n),
		Y:          make([]float64, n),
		Rank:       make([]float64, n),
		Count:      n,
		LevelIndex: sel.LevelIndex,
		Refined:    sel.Refined,
		Partition:  partition,
	}
	if sel.Target == lod.FullResolution {
		out.Full = true
	} else {
		out.LevelTarget = sel.Target
	}
	hasCat := s.catCol != "" && s.tab.HasColumn(s.catCol)
	if hasCat {
		out.Categories = make([]string, n)
	}
	for i := 0; i < n; i++ {
		out.IDs[i] = sel.View.Int(s.idCol, i)
		out.X[i] = sel.View.Float(s.xCol, i)
		out.Y[i] = sel.View.Float(s.yCol, i)
		out.Rank[i] = sel.View.Float(s.rankCol, i)
		if hasCat {
			out.Categories[i] = sel.View.Str(s.catCol, i)
		}
	}
	return out
}

// LevelInfo describes one ladder level for the API.
type LevelInfo struct {
	Position int    `json:"position"`
	Target   uint64 `json:"target,omitempty"`
	Full     bool   `json:"full_resolution"`
	Rows     int    `json:"rows"`
}

// Levels returns ladder metadata, smallest level first.
func (s *LODService) Levels() []LevelInfo {
	state := s.state.Load()
	if state == nil {
		return nil
	}
	out := make([]LevelInfo, len(state.ladder.Levels))
	for i, lv := range state.ladder.Levels {
		info := LevelInfo{Position: i, Rows: lv.View.Len()}
		if lv.Target == lod.FullResolution {
			info.Full = true
		} else {
			info.Target = lv.Target
		}
		out[i] = info
	}
	return out
}

// Metadata describes the dataset for the API.
type Metadata struct {
	ID             string    `json:"id"`
	TotalRows      int       `json:"total_rows"`
	XColumn        string    `json:"x_column"`
	YColumn        string    `json:"y_column"`
	RankColumn     string    `json:"rank_column"`
	IDColumn       string    `json:"id_column"`
	CategoryColumn string    `json:"category_column,omitempty"`
	XRange         lod.Range `json:"x_range"`
	YRange         lod.Range `json:"y_range"`
	MinPoints      int       `json:"min_points"`
	Strategy       string    `json:"strategy"`
	BuildMode      string    `json:"build_mode"`
	LadderVersion  string    `json:"ladder_version"`
	Levels         int       `json:"levels"`
}

// Metadata returns dataset metadata.
func (s *LODService) Metadata() Metadata {
	md := Metadata{
		ID:             s.datasetID,
		TotalRows:      s.tab.NumRows(),
		XColumn:        s.xCol,
		YColumn:        s.yCol,
		RankColumn:     s.rankCol,
		IDColumn:       s.idCol,
		CategoryColumn: s.catCol,
		XRange:         *s.params.XRange,
		YRange:         *s.params.YRange,
		MinPoints:      s.minPoints,
		Strategy:       s.strategy.Name(),
		BuildMode:      s.mode.String(),
		LadderVersion:  s.configHash,
	}
	if state := s.state.Load(); state != nil {
		md.Levels = len(state.ladder.Levels)
	}
	return md
}

// Ranges returns the dataset's pinned axis ranges.
func (s *LODService) Ranges() (x, y lod.Range) {
	return *s.params.XRange, *s.params.YRange
}

// CategoryColumns lists the string-typed columns usable as filter targets.
func (s *LODService) CategoryColumns() []string {
	var out []string
	for _, name := range s.tab.ColumnNames() {
		if c, ok := s.tab.Column(name); ok && c.Type == frame.String {
			out = append(out, name)
		}
	}
	return out
}

// CategoryValueItem is one distinct category value with its row count and
// whether a dedicated ladder partition exists for it.
type CategoryValueItem struct {
	Value       string `json:"value"`
	Count       int    `json:"count"`
	Partitioned bool   `json:"partitioned"`
}

// CategoryValues returns the distinct values of a category column. The scan
// is cached in the shared query LRU.
func (s *LODService) CategoryValues(column string) ([]CategoryValueItem, error) {
	if !s.tab.HasColumn(column) {
		return nil, fmt.Errorf("category column not found: %s", column)
	}

	cacheKey := "catvals:" + s.datasetID + ":" + s.configHash + ":" + column
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(cacheKey); ok {
			var cached []CategoryValueItem
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var catLadders *lod.CategoryLadders
	if state := s.state.Load(); state != nil {
		catLadders = state.catLadders
	}
	values, counts := lod.DistinctValues(s.tab.View(), column)
	out := make([]CategoryValueItem, len(values))
	for i, value := range values {
		out[i] = CategoryValueItem{
			Value:       value,
			Count:       counts[value],
			Partitioned: column == s.catCol && catLadders.Get(value) != nil,
		}
	}

	if s.cache != nil {
		if data, err := json.Marshal(out); err == nil {
			s.cache.SetQuery(cacheKey, data)
		}
	}
	return out, nil
}
