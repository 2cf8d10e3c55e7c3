package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
	"github.com/orthoflow/orthoflow/internal/store"
	"github.com/spf13/afero"
)

// Errors returned by AcceptChunk.
var (
	// ErrInvalidChunk indicates malformed chunk metadata.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrOutOfOrder indicates a chunk after the first arrived without a
	// staging file to append to.
	ErrOutOfOrder = errors.New("chunk received before upload was started")

	// ErrNotOwner indicates a chunk for an upload started by another user.
	ErrNotOwner = errors.New("upload belongs to another user")

	// ErrUploadFinished indicates a chunk for an upload whose dataset has
	// already been finalized or has left the uploading state.
	ErrUploadFinished = errors.New("upload already finished")

	// ErrUnreadableRaster indicates the finished file has no usable
	// georeference. The dataset is marked errored.
	ErrUnreadableRaster = errors.New("uploaded raster cannot be georeferenced")
)

// ArchiveDir is the directory below the base dir holding source rasters.
const ArchiveDir = "archive"

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Chunk is one piece of an upload.
type Chunk struct {
	UploadID string
	Index    int
	Count    int
	// Filename is the client's original file name, kept as the alias.
	Filename string
	// CopyTime is the client-measured upload duration in seconds.
	CopyTime float64
	UserID   uuid.UUID
	Body     io.Reader
}

func (c Chunk) validate() error {
	if !uploadIDPattern.MatchString(c.UploadID) {
		return fmt.Errorf("%w: upload id %q", ErrInvalidChunk, c.UploadID)
	}
	if c.Count <= 0 || c.Index < 0 || c.Index >= c.Count {
		return fmt.Errorf("%w: index %d of %d", ErrInvalidChunk, c.Index, c.Count)
	}
	if c.Filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidChunk)
	}
	if c.UserID == uuid.Nil {
		return fmt.Errorf("%w: user is required", ErrInvalidChunk)
	}
	if c.Body == nil {
		return fmt.Errorf("%w: body is required", ErrInvalidChunk)
	}
	return nil
}

// Final reports whether c completes its upload.
func (c Chunk) Final() bool { return c.Index == c.Count-1 }

// Ack acknowledges a non-final chunk.
type Ack struct {
	Index int `json:"chunk_index"`
	Count int `json:"chunks_total"`
}

// Result is the outcome of AcceptChunk. Exactly one field is set.
type Result struct {
	Ack     *Ack
	Dataset *domain.Dataset
}

// DatasetRepository is the dataset persistence the assembler needs.
// store.DatasetStore satisfies it.
type DatasetRepository interface {
	CreateUploading(ctx context.Context, dataset *domain.Dataset) (*domain.Dataset, error)
	GetByUploadID(ctx context.Context, uploadID string) (*domain.Dataset, error)
	Finalize(ctx context.Context, id int64, f store.DatasetFinalization) (*domain.Dataset, error)
}

// StatusSetter marks a dataset errored when its raster is unusable.
type StatusSetter interface {
	SetStatus(ctx context.Context, datasetID int64, status domain.DatasetStatus) error
}

// BoundsReader reads the WGS84 extent of a raster file.
type BoundsReader interface {
	Bounds(ctx context.Context, path string) (domain.BoundingBox, error)
}

// Deps lists the collaborators of an Assembler.
type Deps struct {
	Datasets DatasetRepository
	Status   StatusSetter
	Bounds   BoundsReader
	// Fs must be the filesystem the BoundsReader reads from.
	Fs      afero.Fs
	Metrics *metrics.Metrics
}

// Assembler writes chunks below <baseDir>/archive.
type Assembler struct {
	deps    Deps
	archive string
	newName func() string
}

// NewAssembler creates an Assembler rooted at baseDir.
func NewAssembler(deps Deps, baseDir string) *Assembler {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return &Assembler{
		deps:    deps,
		archive: filepath.Join(baseDir, ArchiveDir),
		newName: uuid.NewString,
	}
}

// StagingPath returns where chunks of uploadID accumulate.
func (a *Assembler) StagingPath(uploadID string) string {
	return filepath.Join(a.archive, uploadID+".tif.part")
}

// AcceptChunk stores one chunk. Non-final chunks return an Ack; the final
// chunk returns the finalized dataset.
func (a *Assembler) AcceptChunk(ctx context.Context, c Chunk) (*Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	ctx = logger.With(ctx,
		slog.String("component", "chunk_assembler"),
		slog.String("upload_id", c.UploadID))
	log := logger.FromContext(ctx)

	var dataset *domain.Dataset
	if c.Index == 0 {
		created, err := a.start(ctx, c)
		if err != nil {
			return nil, err
		}
		dataset = created
		if err := a.write(c, os.O_CREATE|os.O_TRUNC|os.O_WRONLY); err != nil {
			return nil, err
		}
	} else {
		found, err := a.deps.Datasets.GetByUploadID(ctx, c.UploadID)
		if errors.Is(err, store.ErrDatasetNotFound) {
			return nil, fmt.Errorf("%w: chunk %d of %s", ErrOutOfOrder, c.Index, c.UploadID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load upload %s: %w", c.UploadID, err)
		}
		if found.UserID != c.UserID {
			return nil, ErrNotOwner
		}
		if !stillUploading(found) {
			return nil, fmt.Errorf("%w: dataset %d", ErrUploadFinished, found.ID)
		}
		dataset = found
		if _, err := a.deps.Fs.Stat(a.StagingPath(c.UploadID)); err != nil {
			return nil, fmt.Errorf("%w: chunk %d of %s", ErrOutOfOrder, c.Index, c.UploadID)
		}
		if err := a.write(c, os.O_APPEND|os.O_WRONLY); err != nil {
			return nil, err
		}
	}

	a.deps.Metrics.ChunkAccepted(c.Final())
	if !c.Final() {
		log.DebugContext(ctx, "chunk accepted",
			slog.Int("chunk_index", c.Index),
			slog.Int("chunks_total", c.Count))
		return &Result{Ack: &Ack{Index: c.Index, Count: c.Count}}, nil
	}

	finished, err := a.finalize(ctx, c, dataset)
	if err != nil {
		return nil, err
	}
	return &Result{Dataset: finished}, nil
}

func (a *Assembler) write(c Chunk, flag int) error {
	if err := a.deps.Fs.MkdirAll(a.archive, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	f, err := a.deps.Fs.OpenFile(a.StagingPath(c.UploadID), flag, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}
	if _, err := io.Copy(f, c.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write chunk %d: %w", c.Index, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}
	return nil
}

func (a *Assembler) start(ctx context.Context, c Chunk) (*domain.Dataset, error) {
	d, err := domain.NewUploadingDataset(c.UploadID, c.Filename, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}
	created, err := a.deps.Datasets.CreateUploading(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	if created.UserID != c.UserID {
		return nil, ErrNotOwner
	}
	// The row is shared by every chunk 0 for this upload id. Once finalized
	// its name, hash and bounds are fixed.
	if !stillUploading(created) {
		return nil, fmt.Errorf("%w: dataset %d", ErrUploadFinished, created.ID)
	}
	logger.FromContext(ctx).InfoContext(ctx, "upload started",
		slog.Int64("dataset_id", created.ID),
		slog.String("file_alias", c.Filename),
		slog.Int("chunks_total", c.Count))
	return created, nil
}

func stillUploading(d *domain.Dataset) bool {
	return d.Status == domain.DatasetStatusUploading && d.FileName == ""
}

func (a *Assembler) finalize(ctx context.Context, c Chunk, d *domain.Dataset) (*domain.Dataset, error) {
	ctx = logger.With(ctx, slog.Int64("dataset_id", d.ID))
	log := logger.FromContext(ctx)

	name := fmt.Sprintf("%s_%s.tif", a.newName(), domain.FileStem(c.Filename))
	final := filepath.Join(a.archive, name)
	if err := a.deps.Fs.Rename(a.StagingPath(c.UploadID), final); err != nil {
		return nil, fmt.Errorf("failed to move upload into archive: %w", err)
	}

	sum, size, err := a.hash(final)
	if err != nil {
		return nil, err
	}

	box, err := a.deps.Bounds.Bounds(ctx, final)
	if err != nil {
		log.ErrorContext(ctx, "uploaded raster has no usable bounds",
			slog.String("file_name", name),
			slog.String("error", err.Error()))
		if serr := a.deps.Status.SetStatus(ctx, d.ID, domain.DatasetStatusErrored); serr != nil {
			log.ErrorContext(ctx, "failed to mark dataset errored", slog.String("error", serr.Error()))
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreadableRaster, err)
	}

	finished, err := a.deps.Datasets.Finalize(ctx, d.ID, store.DatasetFinalization{
		FileName: name,
		FileSize: size,
		CopyTime: c.CopyTime,
		SHA256:   sum,
		BBox:     box,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize dataset: %w", err)
	}

	a.deps.Metrics.UploadCompleted(size)
	log.InfoContext(ctx, "upload finalized",
		slog.String("file_name", name),
		slog.Int64("file_size", size),
		slog.String("sha256", sum))
	return finished, nil
}

// hash returns the hex SHA-256 of the whole file and its size.
func (a *Assembler) hash(path string) (string, int64, error) {
	f, err := a.deps.Fs.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open upload for hashing: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash upload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
