package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"podcast-illustrator/internal/formats"
	"podcast-illustrator/internal/pipeline"
	"podcast-illustrator/internal/store"
	"podcast-illustrator/internal/transcoder"
)

// errorStatus maps the error taxonomy onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var storageErr *store.StorageError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, formats.ErrUnsupportedFormat):
		return fiber.StatusBadRequest, "UNSUPPORTED_FORMAT"
	case errors.Is(err, pipeline.ErrInvalidInput):
		return fiber.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, pipeline.ErrAlreadyProcessing):
		return fiber.StatusConflict, "JOB_ALREADY_PROCESSING"
	case errors.Is(err, pipeline.ErrJobFinished):
		return fiber.StatusConflict, "JOB_FINISHED"
	case errors.Is(err, pipeline.ErrNoInputFile):
		return fiber.StatusUnprocessableEntity, "NO_INPUT_FILE"
	case errors.Is(err, pipeline.ErrQueueFull):
		return fiber.StatusServiceUnavailable, "QUEUE_FULL"
	case errors.Is(err, pipeline.ErrQueueClosed):
		return fiber.StatusServiceUnavailable, "SHUTTING_DOWN"
	case errors.As(err, &storageErr):
		return fiber.StatusInternalServerError, "STORAGE_ERROR"
	default:
		return fiber.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   err.Error(),
	})
}

// transcodeFailureCode classifies an error that left the job failed.
func transcodeFailureCode(err error) string {
	if errors.Is(err, transcoder.ErrTimeout) {
		return "TRANSCODE_TIMEOUT"
	}
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return "STORAGE_ERROR"
	}
	return "TRANSCODE_FAILED"
}

// fiberErrorHandler renders framework errors (unknown routes, oversized
// bodies) in the shared envelope.
func fiberErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "INTERNAL_ERROR"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		switch fe.Code {
		case fiber.StatusNotFound:
			code = "NOT_FOUND"
		case fiber.StatusRequestEntityTooLarge:
			code = "FILE_TOO_LARGE"
		case fiber.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		default:
			code = "BAD_REQUEST"
			if fe.Code >= 500 {
				code = "INTERNAL_ERROR"
			}
		}
	}
	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   err.Error(),
	})
}
