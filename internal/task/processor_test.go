package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"testing"

	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/orthoflow/orthoflow/internal/transfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	remoteRoot    = "/data"
	processingDir = "/processing"
)

type harness struct {
	local    afero.Fs
	remote   afero.Fs
	queue    *memQueue
	datasets *memDatasets
	products *memProducts
	labels   *memLabels
	creds    *credentials
	tools    *fakeTools
	registry *prometheus.Registry
	proc     *Processor
	dataset  *domain.Dataset
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		local:    afero.NewMemMapFs(),
		remote:   afero.NewMemMapFs(),
		queue:    newMemQueue(),
		products: &memProducts{},
		labels:   &memLabels{},
		creds:    &credentials{},
		registry: prometheus.NewRegistry(),
		dataset:  testDataset(1, domain.DatasetStatusUploaded),
	}
	h.datasets = newMemDatasets(h.dataset)
	h.tools = &fakeTools{fs: h.local}

	archive := path.Join(remoteRoot, ArchiveDir, h.dataset.FileName)
	require.NoError(t, afero.WriteFile(h.remote, archive, []byte("raw"), 0o644))

	m := metrics.New(h.registry)
	files := transfer.NewClient(&transfer.FSDialer{Fs: h.remote},
		transfer.WithLocalFs(h.local),
		transfer.WithMetrics(m))

	h.proc = NewProcessor(ProcessorDeps{
		Datasets:    h.datasets,
		Status:      h.datasets,
		Queue:       h.queue,
		Products:    h.products,
		Labels:      h.labels,
		Files:       files,
		Tools:       h.tools,
		Credentials: h.creds,
		Fs:          h.local,
		Metrics:     m,
	}, ProcessorConfig{RemoteRoot: remoteRoot, ProcessingDir: processingDir})
	return h
}

func (h *harness) claim(t *testing.T, taskType domain.TaskType) *domain.QueueTask {
	t.Helper()
	task := h.queue.add(h.dataset.ID, taskType, domain.DefaultPriority)
	won, err := h.queue.Claim(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, won)
	return task
}

func (h *harness) remoteFile(t *testing.T, p string) string {
	t.Helper()
	b, err := afero.ReadFile(h.remote, p)
	require.NoError(t, err, "remote file %s", p)
	return string(b)
}

func (h *harness) assertSucceeded(t *testing.T, task *domain.QueueTask) {
	t.Helper()
	_, queued := h.queue.get(task.ID)
	assert.False(t, queued, "finished task should leave the queue")
	assert.Equal(t, domain.DatasetStatusProcessed, h.datasets.status(h.dataset.ID))

	entries, err := afero.ReadDir(h.local, processingDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be removed")
}

func (h *harness) assertFailed(t *testing.T, task *domain.QueueTask) {
	t.Helper()
	queued, ok := h.queue.get(task.ID)
	require.True(t, ok, "failed task must stay queued")
	assert.False(t, queued.IsProcessing, "claim should be released")
	assert.Equal(t, domain.DatasetStatusErrored, h.datasets.status(h.dataset.ID))
}

// assertCounter compares the single series of a counter family.
func (h *harness) assertCounter(t *testing.T, name, help, series string) {
	t.Helper()
	expected := fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n%s%s\n", name, help, name, name, series)
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), name))
}

func TestProcessor_Cog(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.claim(t, domain.TaskTypeCog)

	require.NoError(t, h.proc.Execute(context.Background(), task))
	h.assertSucceeded(t, task)

	stem := h.dataset.FileStem()
	name := stem + "_cog_jpeg_ts_web-optimized_q75.tif"
	assert.Equal(t, "cog-bytes", h.remoteFile(t, path.Join(remoteRoot, CogDir, stem, name)))

	require.Len(t, h.products.cogs, 1)
	rec := h.products.cogs[0]
	assert.Equal(t, h.dataset.ID, rec.DatasetID)
	assert.Equal(t, stem, rec.CogFolder)
	assert.Equal(t, name, rec.CogName)
	assert.Equal(t, stem+"/"+name, rec.CogURL)
	assert.EqualValues(t, len("cog-bytes"), rec.CogSize)
	assert.Equal(t, "jpeg", rec.Compression)
	assert.Equal(t, 3, rec.Overviews)
	assert.Equal(t, 512, rec.Blocksize)
	assert.Equal(t, domain.TilingWebOptimized, rec.TilingScheme)
	assert.Equal(t, testUserID, rec.UserID)

	assert.Equal(t,
		[]domain.DatasetStatus{domain.DatasetStatusCogProcessing, domain.DatasetStatusProcessed},
		h.datasets.statuses(h.dataset.ID))
	h.assertCounter(t, "orthoflow_tasks_total", "Processed tasks by task type and outcome.",
		`{status="success",task_type="cog"} 1`)
}

func TestProcessor_CogReusesExisting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	stem := h.dataset.FileStem()
	remote := path.Join(remoteRoot, CogDir, stem, stem+"_cog_jpeg_ts_web-optimized_q75.tif")
	require.NoError(t, afero.WriteFile(h.remote, remote, []byte("earlier-cog"), 0o644))
	h.tools.errs = map[string]error{"cog": errors.New("cog should not be rebuilt")}
	task := h.claim(t, domain.TaskTypeCog)

	require.NoError(t, h.proc.Execute(context.Background(), task))
	h.assertSucceeded(t, task)

	assert.Equal(t, "earlier-cog", h.remoteFile(t, remote))
	require.Len(t, h.products.cogs, 1)
	assert.EqualValues(t, len("earlier-cog"), h.products.cogs[0].CogSize)
	assert.Equal(t, "JPEG", h.products.cogs[0].Compression, "compression comes from the existing file")
}

func TestProcessor_CogForceRecreate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	stem := h.dataset.FileStem()
	remote := path.Join(remoteRoot, CogDir, stem, stem+"_cog_jpeg_ts_web-optimized_q75.tif")
	require.NoError(t, afero.WriteFile(h.remote, remote, []byte("earlier-cog"), 0o644))
	task := h.claim(t, domain.TaskTypeCog)
	task.BuildArgs.ForceRecreate = true

	require.NoError(t, h.proc.Execute(context.Background(), task))
	h.assertSucceeded(t, task)

	assert.Equal(t, "cog-bytes", h.remoteFile(t, remote))
	require.Len(t, h.products.cogs, 1)
	assert.Equal(t, "jpeg", h.products.cogs[0].Compression)
}

func TestCogName(t *testing.T) {
	t.Parallel()
	opts := domain.ProcessOptions{Profile: "webp", Quality: 90, TilingScheme: domain.TilingOriginal}
	assert.Equal(t, "a_b_cog_webp_ts_original_q90.tif", CogName("a_b", opts))
}

func TestProcessor_Thumbnail(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.claim(t, domain.TaskTypeThumbnail)

	require.NoError(t, h.proc.Execute(context.Background(), task))
	h.assertSucceeded(t, task)

	name := h.dataset.FileStem() + ".jpg"
	assert.Equal(t, "jpeg", h.remoteFile(t, path.Join(remoteRoot, ThumbnailDir, name)))
	require.Len(t, h.products.thumbs, 1)
	assert.Equal(t, "thumbnails/"+name, h.products.thumbs[0].ThumbnailPath)
}

func TestProcessor_Convert(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.claim(t, domain.TaskTypeConvert)

	require.NoError(t, h.proc.Execute(context.Background(), task))
	h.assertSucceeded(t, task)

	archive := path.Join(remoteRoot, ArchiveDir, h.dataset.FileName)
	assert.Equal(t, "warped", h.remoteFile(t, archive), "converted file replaces the archive copy")
	tmpExists, err := afero.Exists(h.remote, archive+".tmp")
	require.NoError(t, err)
	assert.False(t, tmpExists)

	require.Len(t, h.products.infos, 1)
	assert.Equal(t, h.dataset.ID, h.products.infos[0].DatasetID)
	assert.Equal(t, 4, h.products.infos[0].BandCount)
	assert.Equal(t,
		[]domain.DatasetStatus{domain.DatasetStatusConverting, domain.DatasetStatusProcessed},
		h.datasets.statuses(h.dataset.ID))
}

func TestProcessor_Segmentation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.claim(t, domain.TaskTypeDeadwoodSegmentation)

	require.NoError(t, h.proc.Execute(context.Background(), task))
	h.assertSucceeded(t, task)

	require.Len(t, h.labels.labels, 1)
	l := h.labels.labels[0]
	assert.Equal(t, domain.LabelSourceModelPrediction, l.LabelSource)
	assert.Equal(t, domain.LabelTypeSegmentation, l.LabelType)
	assert.Equal(t, domain.LabelQualityModel, l.LabelQuality)

	var label struct {
		Type        string           `json:"type"`
		Coordinates [][][][2]float64 `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(l.Label, &label))
	assert.Equal(t, "MultiPolygon", label.Type)
	corner := label.Coordinates[0][0][2]
	assert.InDelta(t, 8.01, corner[0], 1e-9)
	assert.InDelta(t, 47.01, corner[1], 1e-9)

	var aoi struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(l.AOI, &aoi))
	assert.Equal(t, "Polygon", aoi.Type)
}

func TestProcessor_All(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		segmentation bool
		wantLabels   int
	}{
		{name: "without segmentation", segmentation: false, wantLabels: 0},
		{name: "with segmentation", segmentation: true, wantLabels: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			task := h.claim(t, domain.TaskTypeAll)
			task.BuildArgs.IncludeSegmentation = tc.segmentation

			require.NoError(t, h.proc.Execute(context.Background(), task))
			h.assertSucceeded(t, task)
			assert.Len(t, h.products.cogs, 1)
			assert.Len(t, h.products.thumbs, 1)
			assert.Len(t, h.labels.labels, tc.wantLabels)
		})
	}
}

func TestProcessor_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		taskType  domain.TaskType
		setup     func(h *harness)
		wantKind  Kind
		retryable bool
	}{
		{
			name:     "authentication",
			taskType: domain.TaskTypeCog,
			setup:    func(h *harness) { h.creds.err = errBoom },
			wantKind: KindAuthentication,
		},
		{
			name:     "authentication before record write",
			taskType: domain.TaskTypeCog,
			setup: func(h *harness) {
				h.creds.err = errBoom
				h.creds.failAfter = 1
			},
			wantKind: KindAuthentication,
		},
		{
			name:     "dataset without stored file",
			taskType: domain.TaskTypeCog,
			setup: func(h *harness) {
				h.datasets.mu.Lock()
				h.datasets.datasets[h.dataset.ID].FileName = ""
				h.datasets.mu.Unlock()
			},
			wantKind:  KindDataset,
			retryable: true,
		},
		{
			name:     "missing remote file",
			taskType: domain.TaskTypeThumbnail,
			setup: func(h *harness) {
				_ = h.remote.RemoveAll(remoteRoot)
			},
			wantKind:  KindStorage,
			retryable: true,
		},
		{
			name:      "cog tool failure",
			taskType:  domain.TaskTypeCog,
			setup:     func(h *harness) { h.tools.errs = map[string]error{"cog": errBoom} },
			wantKind:  KindProcessing,
			retryable: true,
		},
		{
			name:      "converted file invalid",
			taskType:  domain.TaskTypeConvert,
			setup:     func(h *harness) { h.tools.errs = map[string]error{"validate": errBoom} },
			wantKind:  KindProcessing,
			retryable: true,
		},
		{
			name:      "label insert failure",
			taskType:  domain.TaskTypeDeadwoodSegmentation,
			setup:     func(h *harness) { h.labels.failErr = errBoom },
			wantKind:  KindDataset,
			retryable: true,
		},
		{
			name:      "thumbnail failure stops all",
			taskType:  domain.TaskTypeAll,
			setup:     func(h *harness) { h.tools.errs = map[string]error{"thumbnail": errBoom} },
			wantKind:  KindProcessing,
			retryable: true,
		},
		{
			name:     "unknown task type",
			taskType: domain.TaskType("tiles"),
			setup:    func(h *harness) {},
			wantKind: KindInternal,
			// Unclassified failures are retryable.
			retryable: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			tc.setup(h)
			task := h.claim(t, tc.taskType)

			err := h.proc.Execute(context.Background(), task)
			require.Error(t, err)

			te, ok := AsError(err)
			require.True(t, ok, "expected *task.Error, got %T", err)
			assert.Equal(t, tc.wantKind, te.Kind)
			assert.Equal(t, task.ID, te.TaskID)
			assert.Equal(t, task.DatasetID, te.DatasetID)
			assert.Equal(t, tc.taskType, te.TaskType)
			assert.Equal(t, tc.retryable, te.Retryable())

			h.assertFailed(t, task)
			assert.Contains(t, h.queue.released, task.ID)
			assert.Empty(t, h.queue.removed)
			h.assertCounter(t, "orthoflow_task_errors_total", "Failed tasks by task type and error kind.",
				fmt.Sprintf(`{kind=%q,task_type=%q} 1`, tc.wantKind.String(), tc.taskType.String()))
		})
	}
}

func TestProcessor_AllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.tools.errs = map[string]error{"thumbnail": errBoom}
	task := h.claim(t, domain.TaskTypeAll)

	err := h.proc.Execute(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))

	// The cog stage already completed and is not rolled back.
	assert.Len(t, h.products.cogs, 1)
	assert.Empty(t, h.products.thumbs)
	assert.Empty(t, h.labels.labels)
}

func TestProcessor_RemoveFailureKeepsDatasetProcessed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	task := h.claim(t, domain.TaskTypeThumbnail)
	h.queue.mu.Lock()
	delete(h.queue.tasks, task.ID)
	h.queue.mu.Unlock()

	err := h.proc.Execute(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.Equal(t, domain.DatasetStatusProcessed, h.datasets.status(h.dataset.ID))
}

func TestProcessor_DevModeKeepsScratch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.proc.cfg.DevMode = true
	task := h.claim(t, domain.TaskTypeThumbnail)

	require.NoError(t, h.proc.Execute(context.Background(), task))

	entries, err := afero.ReadDir(h.local, processingDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "task-1-")
}
