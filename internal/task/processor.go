package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/spf13/afero"
)

// ErrUnknownTaskType is returned for a task type the processor cannot dispatch.
var ErrUnknownTaskType = errors.New("unknown task type")

// Remote layout below the data root.
const (
	ArchiveDir   = "archive"
	CogDir       = "cogs"
	ThumbnailDir = "thumbnails"
)

// Transferer moves whole files between the processing host and the remote store.
type Transferer interface {
	Pull(ctx context.Context, remote, local string) error
	Push(ctx context.Context, local, remote string) error
}

// RasterTools is the raster tool chain the processor drives.
type RasterTools interface {
	Warp(ctx context.Context, src, dst string) error
	Validate(ctx context.Context, path string) error
	Describe(ctx context.Context, path string) (*domain.GeoTiffInfo, error)
	Bounds(ctx context.Context, path string) (domain.BoundingBox, error)
	Cog(ctx context.Context, src, dst string, opts domain.ProcessOptions) (string, error)
	Thumbnail(ctx context.Context, src, dst string, size int) error
	Segment(ctx context.Context, src, out string) (domain.MultiPolygon, error)
	ToWGS84(ctx context.Context, src string, mp domain.MultiPolygon) (domain.MultiPolygon, error)
}

// ProcessorConfig holds paths and flags for the processor.
type ProcessorConfig struct {
	// RemoteRoot is the data root on the remote store.
	RemoteRoot string
	// ProcessingDir holds per-task scratch directories.
	ProcessingDir string
	// ThumbnailSize bounds both thumbnail sides in pixels.
	ThumbnailSize int
	// DevMode keeps scratch directories for inspection.
	DevMode bool
}

// ProcessorDeps lists the collaborators of a Processor.
type ProcessorDeps struct {
	Datasets    DatasetGetter
	Status      StatusSetter
	Queue       QueueWriter
	Products    store.ProductStore
	Labels      store.LabelStore
	Files       Transferer
	Tools       RasterTools
	Credentials CredentialProvider
	// Fs is the local filesystem the tools write to.
	Fs      afero.Fs
	Metrics *metrics.Metrics
}

// Processor executes a single queued task end to end.
type Processor struct {
	ProcessorDeps
	cfg ProcessorConfig
}

// NewProcessor creates a processor.
func NewProcessor(deps ProcessorDeps, cfg ProcessorConfig) *Processor {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if cfg.ThumbnailSize <= 0 {
		cfg.ThumbnailSize = 256
	}
	return &Processor{ProcessorDeps: deps, cfg: cfg}
}

// Execute runs the task in a fresh scratch directory below the processing dir.
// The directory is removed afterwards unless dev mode is on.
func (p *Processor) Execute(ctx context.Context, t *domain.QueueTask) error {
	setupFailed := func(op string, err error) error {
		p.Metrics.TaskStarted(t.TaskType.String())
		return p.fail(ctx, t, time.Now(), failure{t}.wrap(KindStorage, op, p.cfg.ProcessingDir, err))
	}
	if err := p.Fs.MkdirAll(p.cfg.ProcessingDir, 0o755); err != nil {
		return setupFailed("create processing dir", err)
	}
	scratch, err := afero.TempDir(p.Fs, p.cfg.ProcessingDir, fmt.Sprintf("task-%d-", t.ID))
	if err != nil {
		return setupFailed("create scratch dir", err)
	}
	defer func() {
		if p.cfg.DevMode {
			logger.FromContext(ctx).InfoContext(ctx, "dev mode, keeping scratch directory",
				slog.String("path", scratch))
			return
		}
		if err := p.Fs.RemoveAll(scratch); err != nil {
			logger.FromContext(ctx).WarnContext(ctx, "failed to remove scratch directory",
				slog.String("path", scratch),
				slog.String("error", err.Error()))
		}
	}()
	return p.Process(ctx, t, scratch)
}

// Process runs every stage of t using scratchDir for local files. On failure
// the dataset is marked errored, the claim is released and the task stays
// queued. On success the task is removed from the queue.
func (p *Processor) Process(ctx context.Context, t *domain.QueueTask, scratchDir string) error {
	ctx = logger.With(ctx,
		slog.Int64("task_id", t.ID),
		slog.Int64("dataset_id", t.DatasetID),
		slog.String("task_type", t.TaskType.String()))
	log := logger.FromContext(ctx)
	start := time.Now()

	p.Metrics.TaskStarted(t.TaskType.String())
	log.InfoContext(ctx, "processing task", slog.String("scratch_dir", scratchDir))

	if err := p.run(ctx, t, scratchDir); err != nil {
		return p.fail(ctx, t, start, err)
	}

	if err := p.Queue.Remove(ctx, t.ID); err != nil {
		log.ErrorContext(ctx, "failed to remove finished task", slog.String("error", err.Error()))
		return failure{t}.wrap(KindDataset, "remove task", "", err)
	}

	elapsed := time.Since(start)
	p.Metrics.TaskSucceeded(t.TaskType.String(), elapsed)
	log.InfoContext(ctx, "task completed", slog.Duration("elapsed", elapsed))
	return nil
}

func (p *Processor) fail(ctx context.Context, t *domain.QueueTask, start time.Time, err error) error {
	log := logger.FromContext(ctx)
	kind := KindOf(err)
	log.ErrorContext(ctx, "task failed",
		slog.String("error", err.Error()),
		slog.String("kind", kind.String()),
		slog.Bool("retryable", IsRetryable(err)))

	if serr := p.Status.SetStatus(ctx, t.DatasetID, domain.DatasetStatusErrored); serr != nil {
		log.ErrorContext(ctx, "failed to mark dataset errored", slog.String("error", serr.Error()))
	}
	if rerr := p.Queue.Release(ctx, t.ID); rerr != nil {
		log.ErrorContext(ctx, "failed to release task claim", slog.String("error", rerr.Error()))
	}
	p.Metrics.TaskFailed(t.TaskType.String(), kind.String(), time.Since(start))
	return err
}

// job is the per-task state shared by the stages.
type job struct {
	task    *domain.QueueTask
	dataset *domain.Dataset
	scratch string
	fail    failure
}

// localArchive is where the dataset's archive file is kept during processing.
func (j *job) localArchive() string {
	return filepath.Join(j.scratch, j.dataset.FileName)
}

func (p *Processor) run(ctx context.Context, t *domain.QueueTask, scratch string) error {
	f := failure{t}
	if err := p.authenticate(ctx, f); err != nil {
		return err
	}

	ds, err := p.Datasets.GetByID(ctx, t.DatasetID)
	if err != nil {
		return f.wrap(KindDataset, "load dataset", "", err)
	}
	if ds.FileName == "" {
		return f.wrap(KindDataset, "load dataset", "", fmt.Errorf("dataset %d has no stored file", ds.ID))
	}

	j := &job{task: t, dataset: ds, scratch: scratch, fail: f}
	switch t.TaskType {
	case domain.TaskTypeConvert:
		return p.convert(ctx, j)
	case domain.TaskTypeCog:
		return p.cog(ctx, j)
	case domain.TaskTypeThumbnail:
		return p.thumbnail(ctx, j)
	case domain.TaskTypeDeadwoodSegmentation:
		return p.segment(ctx, j)
	case domain.TaskTypeAll:
		if err := p.cog(ctx, j); err != nil {
			return err
		}
		if err := p.thumbnail(ctx, j); err != nil {
			return err
		}
		if t.BuildArgs.IncludeSegmentation {
			return p.segment(ctx, j)
		}
		return nil
	default:
		return f.wrap(KindInternal, "dispatch", "", fmt.Errorf("%w: %q", ErrUnknownTaskType, t.TaskType))
	}
}

// authenticate checks the processor identity can still be issued a token.
// Store access itself is scoped by the database role.
func (p *Processor) authenticate(ctx context.Context, f failure) error {
	token, err := p.Credentials.Token(ctx)
	if err == nil && token == "" {
		err = errors.New("empty credential")
	}
	return f.wrap(KindAuthentication, "authenticate", "", err)
}

func (p *Processor) setStatus(ctx context.Context, j *job, status domain.DatasetStatus) error {
	err := p.Status.SetStatus(ctx, j.dataset.ID, status)
	return j.fail.wrap(KindDataset, "set status "+status.String(), "", err)
}

func (p *Processor) remotePath(parts ...string) string {
	return path.Join(append([]string{p.cfg.RemoteRoot}, parts...)...)
}

func (p *Processor) pullArchive(ctx context.Context, j *job) (string, error) {
	remote := p.remotePath(ArchiveDir, j.dataset.FileName)
	local := j.localArchive()
	if err := p.Files.Pull(ctx, remote, local); err != nil {
		return "", j.fail.wrap(KindStorage, "pull", remote, err)
	}
	return local, nil
}

func (p *Processor) push(ctx context.Context, j *job, local, remote string) error {
	return j.fail.wrap(KindStorage, "push", remote, p.Files.Push(ctx, local, remote))
}

func (p *Processor) convert(ctx context.Context, j *job) error {
	if err := p.setStatus(ctx, j, domain.DatasetStatusConverting); err != nil {
		return err
	}
	local, err := p.pullArchive(ctx, j)
	if err != nil {
		return err
	}

	converted := filepath.Join(j.scratch, fmt.Sprintf("converted_%s.tif", uuid.NewString()))
	defer func() {
		if err := p.Fs.Remove(converted); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.FromContext(ctx).WarnContext(ctx, "failed to remove converted file",
				slog.String("path", converted), slog.String("error", err.Error()))
		}
	}()

	if err := p.Tools.Warp(ctx, local, converted); err != nil {
		return j.fail.wrap(KindProcessing, "convert", local, err)
	}
	if err := p.Tools.Validate(ctx, converted); err != nil {
		return j.fail.wrap(KindProcessing, "validate", converted, err)
	}
	if err := p.push(ctx, j, converted, p.remotePath(ArchiveDir, j.dataset.FileName)); err != nil {
		return err
	}

	info, err := p.Tools.Describe(ctx, converted)
	if err != nil {
		return j.fail.wrap(KindProcessing, "describe", converted, err)
	}
	info.DatasetID = j.dataset.ID
	if err := p.authenticate(ctx, j.fail); err != nil {
		return err
	}
	if err := p.Products.UpsertGeoTiffInfo(ctx, info); err != nil {
		return j.fail.wrap(KindDataset, "save geotiff info", "", err)
	}

	if err := p.Fs.Rename(converted, local); err != nil {
		return j.fail.wrap(KindStorage, "replace local copy", local, err)
	}
	return p.setStatus(ctx, j, domain.DatasetStatusProcessed)
}

// CogName is the file name of a COG built from stem with opts.
func CogName(stem string, opts domain.ProcessOptions) string {
	return fmt.Sprintf("%s_cog_%s_ts_%s_q%d.tif", stem, opts.Profile, opts.TilingScheme, opts.Quality)
}

func (p *Processor) cog(ctx context.Context, j *job) error {
	start := time.Now()
	if err := p.setStatus(ctx, j, domain.DatasetStatusCogProcessing); err != nil {
		return err
	}
	local, err := p.pullArchive(ctx, j)
	if err != nil {
		return err
	}

	opts := j.task.BuildArgs
	stem := j.dataset.FileStem()
	name := CogName(stem, opts)
	out := filepath.Join(j.scratch, name)
	remote := p.remotePath(CogDir, stem, name)

	reused := !opts.ForceRecreate && p.fetchExisting(ctx, remote, out)
	compression := ""
	if reused {
		logger.FromContext(ctx).InfoContext(ctx, "reusing existing cog", slog.String("path", remote))
	} else {
		compression, err = p.Tools.Cog(ctx, local, out, opts)
		if err != nil {
			return j.fail.wrap(KindProcessing, "build cog", local, err)
		}
	}

	desc, err := p.Tools.Describe(ctx, out)
	if err != nil {
		return j.fail.wrap(KindProcessing, "describe cog", out, err)
	}
	if compression == "" {
		compression = desc.Compression
	}
	fi, err := p.Fs.Stat(out)
	if err != nil {
		return j.fail.wrap(KindStorage, "stat cog", out, err)
	}

	if !reused {
		if err := p.push(ctx, j, out, remote); err != nil {
			return err
		}
	}

	if err := p.authenticate(ctx, j.fail); err != nil {
		return err
	}
	rec := &domain.CogRecord{
		DatasetID:    j.dataset.ID,
		CogFolder:    stem,
		CogName:      name,
		CogURL:       path.Join(stem, name),
		CogSize:      fi.Size(),
		Runtime:      time.Since(start).Seconds(),
		UserID:       j.task.UserID,
		Compression:  compression,
		Overviews:    desc.OverviewCount,
		TilingScheme: opts.TilingScheme,
		Resolution:   opts.Resolution,
		Blocksize:    desc.BlockWidth,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.Products.UpsertCog(ctx, rec); err != nil {
		return j.fail.wrap(KindDataset, "save cog", "", err)
	}
	return p.setStatus(ctx, j, domain.DatasetStatusProcessed)
}

// fetchExisting pulls a previously built output into local. It reports
// false when there is nothing to reuse; the caller then rebuilds.
func (p *Processor) fetchExisting(ctx context.Context, remote, local string) bool {
	if err := p.Files.Pull(ctx, remote, local); err != nil {
		logger.FromContext(ctx).DebugContext(ctx, "no reusable output",
			slog.String("path", remote), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (p *Processor) thumbnail(ctx context.Context, j *job) error {
	start := time.Now()
	if err := p.setStatus(ctx, j, domain.DatasetStatusThumbnailProcessing); err != nil {
		return err
	}
	local, err := p.pullArchive(ctx, j)
	if err != nil {
		return err
	}

	name := j.dataset.FileStem() + ".jpg"
	out := filepath.Join(j.scratch, name)
	if err := p.Tools.Thumbnail(ctx, local, out, p.cfg.ThumbnailSize); err != nil {
		return j.fail.wrap(KindProcessing, "render thumbnail", local, err)
	}

	remote := p.remotePath(ThumbnailDir, name)
	if err := p.push(ctx, j, out, remote); err != nil {
		return err
	}

	if err := p.authenticate(ctx, j.fail); err != nil {
		return err
	}
	rec := &domain.ThumbnailRecord{
		DatasetID:     j.dataset.ID,
		ThumbnailPath: path.Join(ThumbnailDir, name),
		UserID:        j.task.UserID,
		Runtime:       time.Since(start).Seconds(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.Products.UpsertThumbnail(ctx, rec); err != nil {
		return j.fail.wrap(KindDataset, "save thumbnail", "", err)
	}
	return p.setStatus(ctx, j, domain.DatasetStatusProcessed)
}

func (p *Processor) segment(ctx context.Context, j *job) error {
	if err := p.setStatus(ctx, j, domain.DatasetStatusProcessing); err != nil {
		return err
	}
	local, err := p.pullArchive(ctx, j)
	if err != nil {
		return err
	}

	out := filepath.Join(j.scratch, j.dataset.FileStem()+"_segmentation.geojson")
	pixels, err := p.Tools.Segment(ctx, local, out)
	if err != nil {
		return j.fail.wrap(KindProcessing, "segment", local, err)
	}
	polygons, err := p.Tools.ToWGS84(ctx, local, pixels)
	if err != nil {
		return j.fail.wrap(KindProcessing, "transform labels", local, err)
	}

	var box domain.BoundingBox
	if j.dataset.BBox != nil {
		box = *j.dataset.BBox
	} else if box, err = p.Tools.Bounds(ctx, local); err != nil {
		return j.fail.wrap(KindProcessing, "read bounds", local, err)
	}

	labelJSON, err := polygons.MarshalGeoJSON()
	if err != nil {
		return j.fail.wrap(KindInternal, "encode labels", "", err)
	}
	aoiJSON, err := domain.BoxPolygon(box).MarshalGeoJSON()
	if err != nil {
		return j.fail.wrap(KindInternal, "encode aoi", "", err)
	}

	if err := p.authenticate(ctx, j.fail); err != nil {
		return err
	}
	label := &domain.Label{
		DatasetID:    j.dataset.ID,
		UserID:       j.task.UserID,
		Label:        labelJSON,
		AOI:          aoiJSON,
		LabelSource:  domain.LabelSourceModelPrediction,
		LabelType:    domain.LabelTypeSegmentation,
		LabelQuality: domain.LabelQualityModel,
	}
	if err := p.Labels.Insert(ctx, label); err != nil {
		return j.fail.wrap(KindDataset, "save labels", "", err)
	}
	logger.FromContext(ctx).InfoContext(ctx, "stored segmentation labels",
		slog.Int64("label_id", label.ID),
		slog.Int("polygons", len(polygons)))
	return p.setStatus(ctx, j, domain.DatasetStatusProcessed)
}
