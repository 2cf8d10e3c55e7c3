package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/orthoflow/orthoflow/internal/api/shared"
	"github.com/orthoflow/orthoflow/internal/domain"
	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/orthoflow/orthoflow/internal/service"
	"github.com/orthoflow/orthoflow/internal/upload"
)

// Multipart limits for chunk uploads.
const (
	// MaxChunkBytes bounds the body of one chunk request.
	MaxChunkBytes = 512 << 20
	// chunkMemory is kept in memory before parts spill to disk.
	chunkMemory = 32 << 20
)

// ChunkAcceptor stores upload chunks. *upload.Assembler satisfies it.
type ChunkAcceptor interface {
	AcceptChunk(ctx context.Context, c upload.Chunk) (*upload.Result, error)
}

// DatasetHandler serves the dataset upload and processing endpoints.
type DatasetHandler struct {
	chunks ChunkAcceptor
	tasks  service.TaskService
	logger *slog.Logger
}

// NewDatasetHandler creates a DatasetHandler.
func NewDatasetHandler(chunks ChunkAcceptor, tasks service.TaskService, logger *slog.Logger) *DatasetHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for DatasetHandler")
	}
	return &DatasetHandler{
		chunks: chunks,
		tasks:  tasks,
		logger: logger.With(slog.String("component", "dataset_handler")),
	}
}

// UploadChunk handles POST /api/datasets/chunk. The multipart form carries
// file, chunk_index, chunks_total, filename, copy_time and upload_id.
// Non-final chunks answer with the acknowledged index; the final chunk
// answers with the finalized dataset.
func (h *DatasetHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxChunkBytes)
	if err := r.ParseMultipartForm(chunkMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Chunk too large")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	chunk, err := chunkFromForm(r)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "file is required", err)
		return
	}
	defer func() { _ = file.Close() }()

	chunk.UserID = userID
	chunk.Body = file

	res, err := h.chunks.AcceptChunk(r.Context(), chunk)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to store chunk")
		return
	}

	if res.Dataset == nil {
		shared.RespondWithJSON(w, r, http.StatusOK, res.Ack)
		return
	}

	logger.FromContext(r.Context()).Info("dataset uploaded",
		slog.Int64("dataset_id", res.Dataset.ID),
		slog.String("file_name", res.Dataset.FileName))
	shared.RespondWithJSON(w, r, http.StatusCreated, res.Dataset)
}

func chunkFromForm(r *http.Request) (upload.Chunk, error) {
	index, err := shared.FormInt(r, "chunk_index")
	if err != nil {
		return upload.Chunk{}, err
	}
	total, err := shared.FormInt(r, "chunks_total")
	if err != nil {
		return upload.Chunk{}, err
	}
	var copyTime float64
	if raw := r.FormValue("copy_time"); raw != "" {
		copyTime, err = strconv.ParseFloat(raw, 64)
		if err != nil || copyTime < 0 {
			return upload.Chunk{}, fmt.Errorf("copy_time must be a non-negative number")
		}
	}
	return upload.Chunk{
		UploadID: r.FormValue("upload_id"),
		Index:    index,
		Count:    total,
		Filename: r.FormValue("filename"),
		CopyTime: copyTime,
	}, nil
}

// Process handles PUT /api/datasets/{id}/process?task_type=...&priority=...
// The optional JSON body holds the processing options; omitted fields keep
// their defaults.
func (h *DatasetHandler) Process(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	userID, ok := shared.UserID(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return
	}

	datasetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || datasetID <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid dataset id")
		return
	}

	taskType, err := domain.ParseTaskType(r.URL.Query().Get("task_type"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	req := service.SubmitRequest{DatasetID: datasetID, UserID: userID, TaskType: taskType}

	if raw := r.URL.Query().Get("priority"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "priority must be a non-negative integer")
			return
		}
		req.Priority = &p
	}

	opts := domain.DefaultProcessOptions()
	if err := shared.DecodeJSON(r, &opts); err != nil && !errors.Is(err, io.EOF) {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(opts); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	req.Options = &opts

	queued, err := h.tasks.Submit(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to queue task")
		return
	}

	log.Debug("task queued",
		slog.Int64("task_id", queued.ID),
		slog.Int64("dataset_id", datasetID),
		slog.Int("current_position", queued.CurrentPosition))
	shared.RespondWithJSON(w, r, http.StatusOK, queued)
}
