package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/codebuildervaibhav/meeting-insights/internal/artifact"
	"github.com/codebuildervaibhav/meeting-insights/internal/cache"
	"github.com/codebuildervaibhav/meeting-insights/internal/meeting"
	"github.com/codebuildervaibhav/meeting-insights/internal/pipeline"
	"github.com/codebuildervaibhav/meeting-insights/internal/queue"
	"github.com/codebuildervaibhav/meeting-insights/internal/search"
	"github.com/codebuildervaibhav/meeting-insights/internal/worker"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	store     meeting.Store
	queue     *queue.Queue
	artifacts *artifact.Store
	cache     *cache.Cache
	pool      *worker.Pool

	maxSizeMB int
	cacheTTL  time.Duration
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(
	store meeting.Store,
	q *queue.Queue,
	artifacts *artifact.Store,
	c *cache.Cache,
	pool *worker.Pool,
	maxSizeMB int,
	cacheTTL time.Duration,
) *Handler {
	return &Handler{
		store:     store,
		queue:     q,
		artifacts: artifacts,
		cache:     c,
		pool:      pool,
		maxSizeMB: maxSizeMB,
		cacheTTL:  cacheTTL,
	}
}

// RegisterRoutes registers all API routes on app. rps caps submissions per
// client IP.
func (h *Handler) RegisterRoutes(app *fiber.App, rps int) {
	app.Post("/meetings", RateLimit(rps), h.Submit)
	app.Get("/meetings", h.ListMeetings)
	app.Get("/meetings/:id", h.GetMeeting)
	app.Get("/meetings/:id/status", h.GetStatus)
	app.Post("/meetings/:id/reprocess", h.Reprocess)
	app.Delete("/meetings/:id", h.DeleteMeeting)
	app.Get("/search", h.Search)
	app.Get("/health", h.Health)
}

// Submit handles POST /meetings: creates the record in state pending, stores
// the artifact, and enqueues the processing job.
func (h *Handler) Submit(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !pipeline.ValidateAudioFormat(file.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unreadable upload",
			"code":  "ERR_BAD_UPLOAD",
		})
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unreadable upload",
			"code":  "ERR_BAD_UPLOAD",
		})
	}

	artifactID, err := h.artifacts.Put(data, filepath.Ext(file.Filename))
	if err != nil {
		log.Printf("Submit: store artifact: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Storage unavailable",
			"code":  "ERR_STORAGE_UNAVAILABLE",
		})
	}

	rec := &meeting.Record{
		ID:         uuid.New().String(),
		Filename:   file.Filename,
		ArtifactID: artifactID,
	}
	if err := h.store.Create(c.Context(), rec); err != nil {
		log.Printf("Submit: create record: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create meeting record",
			"code":  "ERR_CREATE_FAILED",
		})
	}
	h.cache.Invalidate(cache.ListPrefix, cache.SearchPrefix)

	job, err := h.queue.Enqueue(rec.ID)
	if err != nil {
		// The record stays pending; the client may re-submit later.
		log.Printf("Submit: enqueue meeting %s: %v", rec.ID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Queue unavailable, submission not scheduled",
			"code":  "ERR_QUEUE_UNAVAILABLE",
		})
	}

	log.Printf("Meeting %s submitted (file: %s, job: %s)", rec.ID, rec.Filename, job.JobID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"meeting_id": rec.ID,
		"job_id":     job.JobID,
		"status":     rec.Status,
	})
}

// ListMeetings handles GET /meetings with page/limit pagination, served
// through the read cache.
func (h *Handler) ListMeetings(c *fiber.Ctx) error {
	// Clamped to the store's page bounds up front so equivalent pages share
	// one cache entry.
	limit := c.QueryInt("limit", 20)
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	key := fmt.Sprintf("%slimit=%d:offset=%d", cache.ListPrefix, limit, offset)
	result, err := h.cache.GetOrCompute(key, h.cacheTTL, func() (any, error) {
		records, total, err := h.store.List(context.Background(), limit, offset)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []*meeting.Record{}
		}
		return fiber.Map{
			"meetings": records,
			"total":    total,
			"page":     page,
			"limit":    limit,
		}, nil
	})
	if err != nil {
		log.Printf("ListMeetings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list meetings",
			"code":  "ERR_LIST_FAILED",
		})
	}
	return c.JSON(result)
}

// GetMeeting handles GET /meetings/:id.
func (h *Handler) GetMeeting(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.recordError(c, err, "get meeting")
	}
	return c.JSON(rec)
}

// GetStatus handles GET /meetings/:id/status.
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.recordError(c, err, "get status")
	}

	resp := fiber.Map{
		"meeting_id":  rec.ID,
		"status":      rec.Status,
		"retry_count": rec.RetryCount,
	}
	if rec.ErrorReason != "" {
		resp["error_reason"] = rec.ErrorReason
	}
	return c.JSON(resp)
}

// Reprocess handles POST /meetings/:id/reprocess: an explicit re-submission
// that resets the record to pending and enqueues a fresh job against the
// same meeting id.
func (h *Handler) Reprocess(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.ResetForReprocess(c.Context(), id); err != nil {
		return h.recordError(c, err, "reprocess")
	}
	h.cache.Invalidate(cache.ListPrefix, cache.SearchPrefix)

	job, err := h.queue.Enqueue(id)
	if err != nil {
		log.Printf("Reprocess: enqueue meeting %s: %v", id, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Queue unavailable, submission not scheduled",
			"code":  "ERR_QUEUE_UNAVAILABLE",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"meeting_id": id,
		"job_id":     job.JobID,
		"status":     meeting.StatusPending,
	})
}

// DeleteMeeting handles DELETE /meetings/:id. In-flight jobs are unaffected;
// a worker finishing a deleted meeting finds no row to update and drops its
// results.
func (h *Handler) DeleteMeeting(c *fiber.Ctx) error {
	id := c.Params("id")

	rec, err := h.store.Get(c.Context(), id)
	if err != nil {
		return h.recordError(c, err, "delete meeting")
	}

	if err := h.store.Delete(c.Context(), id); err != nil {
		return h.recordError(c, err, "delete meeting")
	}
	if err := h.artifacts.Remove(rec.ArtifactID); err != nil {
		log.Printf("DeleteMeeting: remove artifact %s: %v", rec.ArtifactID, err)
	}
	h.cache.Invalidate(cache.ListPrefix, cache.SearchPrefix)

	return c.SendStatus(fiber.StatusNoContent)
}

// Search handles GET /search?q=. Results are relevance-ordered and served
// through the read cache. An empty query returns an empty result set.
func (h *Handler) Search(c *fiber.Ctx) error {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return c.JSON(fiber.Map{"meetings": []*meeting.Record{}, "query": q})
	}

	key := cache.SearchPrefix + strings.ToLower(q)
	result, err := h.cache.GetOrCompute(key, h.cacheTTL, func() (any, error) {
		candidates, err := h.store.SearchCandidates(context.Background())
		if err != nil {
			return nil, err
		}
		ranked := search.Rank(candidates, q)
		if ranked == nil {
			ranked = []*meeting.Record{}
		}
		return fiber.Map{"meetings": ranked, "query": q}, nil
	})
	if err != nil {
		log.Printf("Search: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Search failed",
			"code":  "ERR_SEARCH_FAILED",
		})
	}
	return c.JSON(result)
}

// Health handles GET /health: queue depth, in-flight count, worker liveness
// and store reachability.
func (h *Handler) Health(c *fiber.Ctx) error {
	status := "healthy"

	depth, err := h.queue.Depth()
	if err != nil {
		status = "degraded"
	}
	inFlight, err := h.queue.InFlight()
	if err != nil {
		status = "degraded"
	}
	if err := h.store.Ping(c.Context()); err != nil {
		status = "degraded"
	}
	if !h.pool.Running() {
		status = "degraded"
	}

	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":          status,
		"queue_depth":     depth,
		"in_flight":       inFlight,
		"workers_running": h.pool.Running(),
		"worker_count":    h.pool.Size(),
	})
}

func (h *Handler) recordError(c *fiber.Ctx, err error, op string) error {
	if errors.Is(err, meeting.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Meeting not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	log.Printf("%s: %v", op, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal error",
		"code":  "ERR_INTERNAL",
	})
}
