package adstxt

import (
	"github.com/gofiber/fiber/v2"

	"scrapehub/internal/core/job"
	"scrapehub/internal/utils/urlnorm"
)

// Handler serves the synchronous check endpoint for small ad-hoc lists.
// Bulk work goes through the jobs API instead.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// maxSyncURLs caps the synchronous endpoint; larger lists belong in a job.
const maxSyncURLs = 20

type checkRequest struct {
	URLs []string `json:"urls"`
}

func (h *Handler) HandleCheck(c *fiber.Ctx) error {
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
	}
	items, _ := urlnorm.NormalizeAll(req.URLs)
	if len(items) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "No URLs provided"})
	}
	if len(items) > maxSyncURLs {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Too many URLs for a synchronous check; submit a job instead",
		})
	}
	results := make([]*job.ItemResult, 0, len(items))
	for _, in := range items {
		res, err := h.svc.CheckURL(c.Context(), in.URL)
		if err != nil {
			res = ErrorResult(job.WorkItem{RawInput: in.Raw, URL: in.URL}, err)
		}
		res.OriginalURL = in.Raw
		results = append(results, res)
	}
	return c.JSON(fiber.Map{"success": true, "results": results})
}
