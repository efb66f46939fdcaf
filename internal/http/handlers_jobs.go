package http

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"podcast-illustrator/internal/catalog"
	"podcast-illustrator/internal/jobs"
	"podcast-illustrator/internal/pipeline"
	"podcast-illustrator/internal/store"
)

// jobIDParam validates the :id route parameter. The returned id is a fresh
// canonical string: c.Params aliases request memory that fiber reuses once
// the handler returns, and queued ids outlive the request.
func jobIDParam(c *fiber.Ctx) (string, bool) {
	parsed, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return "", false
	}
	id := parsed.String()
	c.Locals("job_id", id)
	return id, true
}

func invalidJobID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Success: false,
		Code:    "INVALID_JOB_ID",
		Error:   "Invalid job id",
	})
}

// processHandler runs segmentation for an uploaded job. By default it
// blocks until the transcoder finishes; with ?async=true the job is queued
// and 202 is returned right away.
func processHandler(c *fiber.Ctx) error {
	id, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}
	orch := c.Locals("pipeline").(*pipeline.Orchestrator)

	if c.Query("async") == "true" {
		if q, ok := c.Locals("queue").(*pipeline.Queue); ok && q != nil {
			return enqueueJob(c, orch, q, id)
		}
	}

	res, err := orch.Process(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound),
			errors.Is(err, pipeline.ErrAlreadyProcessing),
			errors.Is(err, pipeline.ErrJobFinished),
			errors.Is(err, pipeline.ErrNoInputFile):
			return writeError(c, err)
		case res.Record.Status == jobs.StatusFailed:
			resp := statusResponse(id, res.Record)
			resp.Success = false
			resp.Code = transcodeFailureCode(err)
			resp.Error = err.Error()
			return c.JSON(resp)
		default:
			return writeError(c, err)
		}
	}

	resp := statusResponse(id, res.Record)
	resp.Segments = len(res.Segments)
	return c.JSON(resp)
}

func enqueueJob(c *fiber.Ctx, orch *pipeline.Orchestrator, q *pipeline.Queue, id string) error {
	if err := orch.CheckReady(id); err != nil {
		return writeError(c, err)
	}
	if err := q.Enqueue(c.Context(), id); err != nil {
		return writeError(c, err)
	}
	rec, err := orch.Status(id)
	if err != nil {
		return writeError(c, err)
	}
	resp := statusResponse(id, rec)
	resp.Message = "queued for processing"
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// statusHandler returns the persisted status record of a job.
func statusHandler(c *fiber.Ctx) error {
	id, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}
	orch := c.Locals("pipeline").(*pipeline.Orchestrator)

	rec, err := orch.Status(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(statusResponse(id, rec))
}

// segmentsHandler lists a job's segments in playback order.
func segmentsHandler(c *fiber.Ctx) error {
	id, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}
	orch := c.Locals("pipeline").(*pipeline.Orchestrator)

	paths, err := orch.Segments(id)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]SegmentInfo, 0, len(paths))
	for i, p := range paths {
		info := SegmentInfo{Index: i, Name: filepath.Base(p)}
		if st, err := os.Stat(p); err == nil {
			info.Size = st.Size()
		}
		out = append(out, info)
	}
	return c.JSON(SegmentsResponse{Success: true, JobID: id, Segments: out})
}

// segmentDownloadHandler serves one segment file by its index.
func segmentDownloadHandler(c *fiber.Ctx) error {
	id, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_SEGMENT_INDEX",
			Error:   "Segment index must be a non-negative integer",
		})
	}
	orch := c.Locals("pipeline").(*pipeline.Orchestrator)

	paths, err := orch.Segments(id)
	if err != nil {
		return writeError(c, err)
	}
	if index >= len(paths) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "SEGMENT_NOT_FOUND",
			Error:   "Segment not found",
		})
	}

	c.Type("mp3")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filepath.Base(paths[index])+`"`)
	return c.SendFile(paths[index])
}

// jobsListHandler lists recent jobs from the catalog, or from the job store
// when no database is configured.
func jobsListHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", catalog.DefaultListLimit)
	if limit <= 0 || limit > catalog.MaxListLimit {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_LIMIT",
			Error:   "limit must be between 1 and 500",
		})
	}

	if cat, ok := c.Locals("catalog").(JobCatalog); ok && cat != nil {
		rows, err := cat.List(c.Context(), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "CATALOG_ERROR",
				Error:   err.Error(),
			})
		}
		out := make([]JobSummary, 0, len(rows))
		for _, j := range rows {
			out = append(out, catalogSummary(j))
		}
		return c.JSON(JobsResponse{Success: true, Source: "catalog", Jobs: out})
	}

	orch := c.Locals("pipeline").(*pipeline.Orchestrator)
	infos, err := orch.Jobs()
	if err != nil {
		return writeError(c, err)
	}
	if len(infos) > limit {
		infos = infos[:limit]
	}
	out := make([]JobSummary, 0, len(infos))
	for _, info := range infos {
		out = append(out, storeSummary(orch, info))
	}
	return c.JSON(JobsResponse{Success: true, Source: "store", Jobs: out})
}

// jobDetailHandler describes one job, from the catalog when it has the row
// and from the job store otherwise.
func jobDetailHandler(c *fiber.Ctx) error {
	id, ok := jobIDParam(c)
	if !ok {
		return invalidJobID(c)
	}

	if cat, ok := c.Locals("catalog").(JobCatalog); ok && cat != nil {
		j, err := cat.Get(c.Context(), id)
		if err == nil {
			return c.JSON(JobResponse{Success: true, Source: "catalog", Job: catalogSummary(j)})
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			if logger, ok := c.Locals("logger").(*slog.Logger); ok {
				logger.Warn("catalog lookup failed, using job store", "job_id", id, "error", err)
			}
		}
	}

	orch := c.Locals("pipeline").(*pipeline.Orchestrator)
	info, err := orch.Job(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(JobResponse{Success: true, Source: "store", Job: storeSummary(orch, info)})
}

func catalogSummary(j catalog.Job) JobSummary {
	return JobSummary{
		JobID:     j.ID,
		Filename:  j.Filename,
		FileSize:  j.FileSize,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Message:   j.Message,
		Segments:  len(j.Segments),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func storeSummary(orch *pipeline.Orchestrator, info store.JobInfo) JobSummary {
	s := JobSummary{
		JobID:     info.Dir.ID,
		Filename:  info.Meta.Filename,
		FileSize:  info.Meta.Size,
		Status:    string(info.Record.Status),
		Progress:  info.Record.Progress,
		Message:   info.Record.Message,
		CreatedAt: info.Meta.CreatedAt,
		UpdatedAt: info.Record.Timestamp,
	}
	if info.Record.Status == jobs.StatusCompleted {
		if segs, err := orch.Segments(info.Dir.ID); err == nil {
			s.Segments = len(segs)
		}
	}
	return s
}
