package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/spf13/afero"
)

// memQueue is an in-memory Queue ordered by priority then ID.
type memQueue struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*domain.QueueTask

	// runningOverride, when set, replaces the processing count.
	runningOverride *int
	// loseClaims makes every Claim report that another worker won.
	loseClaims bool

	released []int64
	removed  []int64
}

func newMemQueue() *memQueue {
	return &memQueue{tasks: map[int64]*domain.QueueTask{}}
}

func (q *memQueue) add(datasetID int64, taskType domain.TaskType, priority int) *domain.QueueTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	t := &domain.QueueTask{
		ID:        q.nextID,
		DatasetID: datasetID,
		UserID:    testUserID,
		Priority:  priority,
		BuildArgs: domain.DefaultProcessOptions(),
		TaskType:  taskType,
		CreatedAt: time.Now().UTC(),
	}
	q.tasks[t.ID] = t
	cp := *t
	return &cp
}

func (q *memQueue) get(id int64) (domain.QueueTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return domain.QueueTask{}, false
	}
	return *t, true
}

func (q *memQueue) RunningCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.runningOverride != nil {
		return *q.runningOverride, nil
	}
	n := 0
	for _, t := range q.tasks {
		if t.IsProcessing {
			n++
		}
	}
	return n, nil
}

func (q *memQueue) waiting() []*domain.QueueTask {
	var out []*domain.QueueTask
	for _, t := range q.tasks {
		if !t.IsProcessing {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q *memQueue) QueueLength(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting()), nil
}

func (q *memQueue) NextTask(ctx context.Context) (*domain.QueueTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w := q.waiting()
	if len(w) == 0 {
		return nil, nil
	}
	cp := *w[0]
	cp.CurrentPosition = 1
	return &cp, nil
}

func (q *memQueue) Claim(ctx context.Context, id int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok || t.IsProcessing || q.loseClaims {
		return false, nil
	}
	now := time.Now()
	t.IsProcessing = true
	t.ClaimedAt = &now
	return true, nil
}

func (q *memQueue) Release(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, id)
	if t, ok := q.tasks[id]; ok {
		t.IsProcessing = false
		t.ClaimedAt = nil
	}
	return nil
}

func (q *memQueue) Remove(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(q.tasks, id)
	q.removed = append(q.removed, id)
	return nil
}

func (q *memQueue) ResetStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.IsProcessing && (t.ClaimedAt == nil || t.ClaimedAt.Before(claimedBefore)) {
			t.IsProcessing = false
			t.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

var testUserID = uuid.MustParse("8f14e45f-ceea-4e7a-9b5c-1d2e3f4a5b6c")

// memDatasets serves DatasetGetter and StatusSetter.
type memDatasets struct {
	mu       sync.Mutex
	datasets map[int64]*domain.Dataset
	history  map[int64][]domain.DatasetStatus
	statusFn func(id int64, status domain.DatasetStatus) error
}

func newMemDatasets(ds ...*domain.Dataset) *memDatasets {
	m := &memDatasets{datasets: map[int64]*domain.Dataset{}, history: map[int64][]domain.DatasetStatus{}}
	for _, d := range ds {
		m.datasets[d.ID] = d
	}
	return m
}

func (m *memDatasets) GetByID(ctx context.Context, id int64) (*domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.datasets[id]
	if !ok {
		return nil, store.ErrDatasetNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDatasets) SetStatus(ctx context.Context, id int64, status domain.DatasetStatus) error {
	if m.statusFn != nil {
		if err := m.statusFn(id, status); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.datasets[id]
	if !ok {
		return store.ErrDatasetNotFound
	}
	d.Status = status
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *memDatasets) status(id int64) domain.DatasetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.datasets[id].Status
}

func (m *memDatasets) statuses(id int64) []domain.DatasetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DatasetStatus(nil), m.history[id]...)
}

func testDataset(id int64, status domain.DatasetStatus) *domain.Dataset {
	box := domain.BoundingBox{Left: 8.0, Bottom: 47.0, Right: 8.1, Top: 47.1}
	return &domain.Dataset{
		ID:        id,
		UploadID:  fmt.Sprintf("upload-%d", id),
		FileName:  fmt.Sprintf("0d4c6a55-0000-4000-8000-00000000000%d_ortho.tif", id),
		FileAlias: "ortho.tif",
		FileSize:  4,
		SHA256:    "abc",
		BBox:      &box,
		Status:    status,
		UserID:    testUserID,
	}
}

type memProducts struct {
	mu      sync.Mutex
	cogs    []*domain.CogRecord
	thumbs  []*domain.ThumbnailRecord
	infos   []*domain.GeoTiffInfo
	failErr error
}

func (m *memProducts) UpsertCog(ctx context.Context, rec *domain.CogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.cogs = append(m.cogs, rec)
	return nil
}

func (m *memProducts) UpsertThumbnail(ctx context.Context, rec *domain.ThumbnailRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.thumbs = append(m.thumbs, rec)
	return nil
}

func (m *memProducts) UpsertGeoTiffInfo(ctx context.Context, info *domain.GeoTiffInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.infos = append(m.infos, info)
	return nil
}

type memLabels struct {
	mu      sync.Mutex
	labels  []*domain.Label
	failErr error
}

func (m *memLabels) Insert(ctx context.Context, l *domain.Label) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	l.ID = int64(len(m.labels) + 1)
	m.labels = append(m.labels, l)
	return nil
}

// credentials returns a fixed token, or err once calls exceeds failAfter.
type credentials struct {
	mu        sync.Mutex
	calls     int
	failAfter int
	err       error
}

func (c *credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil && c.calls > c.failAfter {
		return "", c.err
	}
	return "token", nil
}

// fakeTools writes small marker files in place of real rasters.
type fakeTools struct {
	fs   afero.Fs
	errs map[string]error
}

func (f *fakeTools) fail(op string) error {
	if f.errs == nil {
		return nil
	}
	return f.errs[op]
}

func (f *fakeTools) write(path, content string) error {
	return afero.WriteFile(f.fs, path, []byte(content), 0o644)
}

func (f *fakeTools) Warp(ctx context.Context, src, dst string) error {
	if err := f.fail("warp"); err != nil {
		return err
	}
	return f.write(dst, "warped")
}

func (f *fakeTools) Validate(ctx context.Context, path string) error { return f.fail("validate") }

func (f *fakeTools) Describe(ctx context.Context, path string) (*domain.GeoTiffInfo, error) {
	if err := f.fail("describe"); err != nil {
		return nil, err
	}
	return &domain.GeoTiffInfo{
		Driver: "GTiff", Width: 2048, Height: 1024, BandCount: 4,
		BlockWidth: 512, BlockHeight: 512, OverviewCount: 3, Compression: "JPEG",
	}, nil
}

func (f *fakeTools) Bounds(ctx context.Context, path string) (domain.BoundingBox, error) {
	if err := f.fail("bounds"); err != nil {
		return domain.BoundingBox{}, err
	}
	return domain.BoundingBox{Left: 1, Bottom: 2, Right: 3, Top: 4}, nil
}

func (f *fakeTools) Cog(ctx context.Context, src, dst string, opts domain.ProcessOptions) (string, error) {
	if err := f.fail("cog"); err != nil {
		return "", err
	}
	return opts.Profile, f.write(dst, "cog-bytes")
}

func (f *fakeTools) Thumbnail(ctx context.Context, src, dst string, size int) error {
	if err := f.fail("thumbnail"); err != nil {
		return err
	}
	return f.write(dst, "jpeg")
}

func (f *fakeTools) Segment(ctx context.Context, src, out string) (domain.MultiPolygon, error) {
	if err := f.fail("segment"); err != nil {
		return nil, err
	}
	return domain.MultiPolygon{{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}}, nil
}

func (f *fakeTools) ToWGS84(ctx context.Context, src string, mp domain.MultiPolygon) (domain.MultiPolygon, error) {
	if err := f.fail("transform"); err != nil {
		return nil, err
	}
	out := make(domain.MultiPolygon, len(mp))
	for i, poly := range mp {
		out[i] = make(domain.Polygon, len(poly))
		for j, ring := range poly {
			out[i][j] = make(domain.Ring, len(ring))
			for k, p := range ring {
				out[i][j][k] = [2]float64{8 + p[0]/1000, 47 + p[1]/1000}
			}
		}
	}
	return out, nil
}

var errBoom = errors.New("boom")

var (
	_ Queue         = (*memQueue)(nil)
	_ StatusSetter  = (*memDatasets)(nil)
	_ DatasetGetter = (*memDatasets)(nil)
	_ RasterTools   = (*fakeTools)(nil)
)
