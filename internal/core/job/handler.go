package job

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"scrapehub/internal/utils/urlnorm"
)

// Handler serves the /jobs/api surface polled by the console UI.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

type submitRequest struct {
	URLs any `json:"urls"`
}

// lines accepts either a JSON array of strings or one newline-joined blob,
// matching what the textarea frontend posts.
func (r *submitRequest) lines() []string {
	switch v := r.URLs.(type) {
	case string:
		return urlnorm.SplitLines(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (h *Handler) HandleSubmit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid body")
	}
	res, err := h.svc.Submit(c.Context(), TypeAdsTxt, req.lines())
	if errors.Is(err, ErrEmptyInput) {
		return fail(c, fiber.StatusBadRequest, "No valid URLs provided")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"job_id":      res.Job.ID,
		"total_items": res.Job.TotalItems,
		"skipped":     res.Skipped,
	})
}

func (h *Handler) HandlePause(c *fiber.Ctx) error {
	return h.control(c, h.svc.Pause)
}

func (h *Handler) HandleResume(c *fiber.Ctx) error {
	return h.control(c, h.svc.Resume)
}

func (h *Handler) HandleStop(c *fiber.Ctx) error {
	return h.control(c, h.svc.Stop)
}

func (h *Handler) control(c *fiber.Ctx, op func(ctx context.Context, id string) (*Job, error)) error {
	j, err := op(c.Context(), c.Params("id"))
	if errors.Is(err, ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "job not found")
	}
	var transitionErr *InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return fail(c, fiber.StatusConflict, transitionErr.Error())
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "status": j.Status})
}

func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	view, err := h.svc.Status(c.Context(), c.Params("id"))
	if errors.Is(err, ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "job not found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(view)
}

func (h *Handler) HandleResults(c *fiber.Ctx) error {
	page, err := h.svc.Results(
		c.Context(),
		c.Params("id"),
		c.Query("filter"),
		c.Query("search"),
		c.QueryInt("start", 0),
		c.QueryInt("length", 10),
		parseBool(c.Query("get_counts")),
	)
	if errors.Is(err, ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "job not found")
	}
	var filterErr *InvalidFilterError
	if errors.As(err, &filterErr) {
		return fail(c, fiber.StatusBadRequest, filterErr.Error())
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(page)
}

func (h *Handler) HandleList(c *fiber.Ctx) error {
	jobs, counts, err := h.svc.List(c.Context(), c.Query("status", "all"))
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	return c.JSON(fiber.Map{"success": true, "jobs": jobs, "counts": counts})
}

func (h *Handler) HandleEvents(c *fiber.Ctx) error {
	events, err := h.svc.Events(c.Context(), c.Params("id"))
	if errors.Is(err, ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "job not found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []Event{}
	}
	return c.JSON(fiber.Map{"success": true, "events": events})
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
