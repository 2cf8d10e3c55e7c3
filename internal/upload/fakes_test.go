package upload_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/store"
)

// memDatasets is an in-memory store.DatasetStore subset.
type memDatasets struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Dataset
}

func newMemDatasets() *memDatasets {
	return &memDatasets{rows: map[int64]*domain.Dataset{}}
}

func (m *memDatasets) CreateUploading(_ context.Context, d *domain.Dataset) (*domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.UploadID == d.UploadID {
			cp := *row
			return &cp, nil
		}
	}
	m.nextID++
	row := *d
	row.ID = m.nextID
	m.rows[row.ID] = &row
	cp := row
	return &cp, nil
}

func (m *memDatasets) GetByUploadID(_ context.Context, uploadID string) (*domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.UploadID == uploadID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrDatasetNotFound
}

func (m *memDatasets) GetByID(_ context.Context, id int64) (*domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, store.ErrDatasetNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memDatasets) Finalize(_ context.Context, id int64, f store.DatasetFinalization) (*domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, store.ErrDatasetNotFound
	}
	box := f.BBox
	row.FileName = f.FileName
	row.FileSize = f.FileSize
	row.CopyTime = f.CopyTime
	row.SHA256 = f.SHA256
	row.BBox = &box
	row.Status = domain.DatasetStatusUploaded
	cp := *row
	return &cp, nil
}

func (m *memDatasets) UpdateStatus(_ context.Context, id int64, status domain.DatasetStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return store.ErrDatasetNotFound
	}
	row.Status = status
	return nil
}

func (m *memDatasets) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memQueue is an in-memory task.Queue.
type memQueue struct {
	mu    sync.Mutex
	tasks []*domain.QueueTask
}

func (q *memQueue) add(t domain.QueueTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t.ID = int64(len(q.tasks) + 1)
	q.tasks = append(q.tasks, &t)
	sort.SliceStable(q.tasks, func(i, j int) bool {
		if q.tasks[i].Priority != q.tasks[j].Priority {
			return q.tasks[i].Priority < q.tasks[j].Priority
		}
		return q.tasks[i].ID < q.tasks[j].ID
	})
}

func (q *memQueue) RunningCount(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.IsProcessing {
			n++
		}
	}
	return n, nil
}

func (q *memQueue) QueueLength(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if !t.IsProcessing {
			n++
		}
	}
	return n, nil
}

func (q *memQueue) NextTask(context.Context) (*domain.QueueTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if !t.IsProcessing {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (q *memQueue) Claim(_ context.Context, id int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.ID == id && !t.IsProcessing {
			now := time.Now()
			t.IsProcessing = true
			t.ClaimedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueue) Release(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.ID == id {
			t.IsProcessing = false
			t.ClaimedAt = nil
		}
	}
	return nil
}

func (q *memQueue) Remove(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return nil
		}
	}
	return store.ErrTaskNotFound
}

func (q *memQueue) ResetStale(context.Context, time.Time) (int, error) { return 0, nil }

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// memProducts records product upserts.
type memProducts struct {
	mu   sync.Mutex
	cogs []domain.CogRecord
}

func (m *memProducts) UpsertCog(_ context.Context, rec *domain.CogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cogs = append(m.cogs, *rec)
	return nil
}

func (m *memProducts) UpsertThumbnail(context.Context, *domain.ThumbnailRecord) error { return nil }

func (m *memProducts) UpsertGeoTiffInfo(context.Context, *domain.GeoTiffInfo) error { return nil }

type noLabels struct{}

func (noLabels) Insert(context.Context, *domain.Label) error { return nil }
