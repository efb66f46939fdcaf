package http

import (
	"github.com/gofiber/fiber/v2"

	"podcast-illustrator/internal/pipeline"
)

const uploadField = "audio"

// uploadHandler stores a multipart audio upload and creates its job.
func uploadHandler(c *fiber.Ctx) error {
	orch := c.Locals("pipeline").(*pipeline.Orchestrator)

	fh, err := c.FormFile(uploadField)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_INPUT",
			Error:   "No audio file provided",
		})
	}
	if fh.Filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_INPUT",
			Error:   "No file selected",
		})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_INPUT",
			Error:   "Uploaded file could not be read",
		})
	}
	defer f.Close()

	u, err := orch.Accept(c.Context(), fh.Filename, f)
	if err != nil {
		return writeError(c, err)
	}
	c.Locals("job_id", u.JobID)

	return c.JSON(UploadResponse{
		Success:  true,
		JobID:    u.JobID,
		Filename: u.Filename,
		FileSize: u.Size,
		Status:   string(u.Record.Status),
		Message:  u.Record.Message,
	})
}
