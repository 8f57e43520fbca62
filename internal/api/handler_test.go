package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meeting-insights/internal/artifact"
	"github.com/codebuildervaibhav/meeting-insights/internal/cache"
	"github.com/codebuildervaibhav/meeting-insights/internal/meeting"
	"github.com/codebuildervaibhav/meeting-insights/internal/pipeline"
	"github.com/codebuildervaibhav/meeting-insights/internal/queue"
	"github.com/codebuildervaibhav/meeting-insights/internal/worker"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, audioPath, languageHint string) (*pipeline.Transcription, error) {
	return &pipeline.Transcription{Text: "stub transcript", Language: "en", DurationSeconds: 1}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, transcript string) (*pipeline.Summary, error) {
	return &pipeline.Summary{Summary: "- stub", Keywords: []string{"stub"}}, nil
}

type testEnv struct {
	app       *fiber.App
	store     meeting.Store
	queue     *queue.Queue
	artifacts *artifact.Store
	cache     *cache.Cache
	pool      *worker.Pool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := meeting.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q, err := queue.Open(filepath.Join(t.TempDir(), "jobs.bolt"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	artifacts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact.NewStore: %v", err)
	}

	// One cache shared by handlers and workers, as in production wiring, so
	// write-driven invalidation is visible to cached reads.
	readCache := cache.New()

	pool := worker.NewPool(q, store, artifacts, stubTranscriber{}, stubSummarizer{}, readCache, worker.Options{
		Size:              1,
		MaxRetries:        3,
		TranscribeTimeout: time.Minute,
	})

	app := fiber.New()
	h := NewHandler(store, q, artifacts, readCache, pool, 10, time.Minute)
	h.RegisterRoutes(app, 0)

	return &testEnv{app: app, store: store, queue: q, artifacts: artifacts, cache: readCache, pool: pool}
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	w.Close()
	return body, w.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode body %q: %v", raw, err)
	}
	return m
}

func submitMeeting(t *testing.T, env *testEnv, filename string) string {
	t.Helper()
	body, contentType := multipartUpload(t, "file", filename, []byte("audio bytes"))
	req := httptest.NewRequest(http.MethodPost, "/meetings", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	id, _ := got["meeting_id"].(string)
	if id == "" {
		t.Fatal("submit response missing meeting_id")
	}
	return id
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartUpload(t, "file", "standup.wav", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/meetings", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	got := decodeBody(t, resp)
	if got["status"] != string(meeting.StatusPending) {
		t.Errorf("status = %v, want pending", got["status"])
	}
	if got["job_id"] == "" || got["job_id"] == nil {
		t.Error("response missing job_id")
	}

	rec, err := env.store.Get(context.Background(), got["meeting_id"].(string))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Filename != "standup.wav" {
		t.Errorf("Filename = %q", rec.Filename)
	}

	depth, _ := env.queue.Depth()
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestSubmit_NoFile(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/meetings", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["code"] != "ERR_NO_FILE" {
		t.Errorf("code = %v, want ERR_NO_FILE", got["code"])
	}
}

func TestSubmit_UnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartUpload(t, "file", "notes.txt", []byte("not audio"))
	req := httptest.NewRequest(http.MethodPost, "/meetings", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["code"] != "ERR_INVALID_FORMAT" {
		t.Errorf("code = %v, want ERR_INVALID_FORMAT", got["code"])
	}
}

func TestListMeetings(t *testing.T) {
	env := newTestEnv(t)
	submitMeeting(t, env, "first.wav")
	submitMeeting(t, env, "second.wav")

	req := httptest.NewRequest(http.MethodGet, "/meetings", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := decodeBody(t, resp)
	if got["total"].(float64) != 2 {
		t.Errorf("total = %v, want 2", got["total"])
	}
	meetings := got["meetings"].([]any)
	if len(meetings) != 2 {
		t.Errorf("len(meetings) = %d, want 2", len(meetings))
	}
}

func TestListMeetings_WriteInvalidatesCachedList(t *testing.T) {
	env := newTestEnv(t)
	id := submitMeeting(t, env, "doomed.wav")

	// Prime the cache: two reads, the second served from it.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/meetings", nil)
		resp, err := env.app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		got := decodeBody(t, resp)
		if got["total"].(float64) != 1 {
			t.Fatalf("total = %v, want 1", got["total"])
		}
	}

	req := httptest.NewRequest(http.MethodDelete, "/meetings/"+id, nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	// The next list must reflect the delete, not the cached page.
	req = httptest.NewRequest(http.MethodGet, "/meetings", nil)
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	got := decodeBody(t, resp)
	if got["total"].(float64) != 0 {
		t.Errorf("total after delete = %v, want 0", got["total"])
	}
	if len(got["meetings"].([]any)) != 0 {
		t.Errorf("meetings after delete = %v, want empty", got["meetings"])
	}
}

func TestListMeetings_SubmitInvalidatesCachedList(t *testing.T) {
	env := newTestEnv(t)
	submitMeeting(t, env, "first.wav")

	req := httptest.NewRequest(http.MethodGet, "/meetings", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := decodeBody(t, resp); got["total"].(float64) != 1 {
		t.Fatalf("total = %v, want 1", got["total"])
	}

	submitMeeting(t, env, "second.wav")

	req = httptest.NewRequest(http.MethodGet, "/meetings", nil)
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := decodeBody(t, resp); got["total"].(float64) != 2 {
		t.Errorf("total after second submit = %v, want 2", got["total"])
	}
}

func TestListMeetings_LimitClampSharesCacheEntry(t *testing.T) {
	env := newTestEnv(t)
	submitMeeting(t, env, "one.wav")

	// Both limits clamp to the same page, so they must hit one cache entry.
	for _, q := range []string{"?limit=150", "?limit=100"} {
		req := httptest.NewRequest(http.MethodGet, "/meetings"+q, nil)
		resp, err := env.app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	}
	if env.cache.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", env.cache.Len())
	}
}

func TestGetMeeting_NotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/meetings/nope", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["code"] != "ERR_NOT_FOUND" {
		t.Errorf("code = %v, want ERR_NOT_FOUND", got["code"])
	}
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	id := submitMeeting(t, env, "status.wav")

	req := httptest.NewRequest(http.MethodGet, "/meetings/"+id+"/status", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	got := decodeBody(t, resp)
	if got["status"] != string(meeting.StatusPending) {
		t.Errorf("status = %v, want pending", got["status"])
	}
	if got["retry_count"].(float64) != 0 {
		t.Errorf("retry_count = %v, want 0", got["retry_count"])
	}
	if _, present := got["error_reason"]; present {
		t.Error("error_reason present on a healthy record")
	}
}

func TestGetStatus_FailedIncludesReason(t *testing.T) {
	env := newTestEnv(t)
	id := submitMeeting(t, env, "failed.wav")

	if err := env.store.MarkFailed(context.Background(), id, "whisper timed out"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/meetings/"+id+"/status", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	got := decodeBody(t, resp)
	if got["status"] != string(meeting.StatusFailed) {
		t.Errorf("status = %v, want failed", got["status"])
	}
	if got["error_reason"] != "whisper timed out" {
		t.Errorf("error_reason = %v", got["error_reason"])
	}
}

func TestReprocess(t *testing.T) {
	env := newTestEnv(t)
	id := submitMeeting(t, env, "retry.wav")

	if err := env.store.MarkFailed(context.Background(), id, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/meetings/"+id+"/reprocess", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	rec, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != meeting.StatusPending {
		t.Errorf("Status = %q, want pending", rec.Status)
	}
	if rec.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", rec.RetryCount)
	}

	// Submit job plus reprocess job.
	depth, _ := env.queue.Depth()
	if depth != 2 {
		t.Errorf("queue depth = %d, want 2", depth)
	}
}

func TestReprocess_NotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/meetings/nope/reprocess", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteMeeting(t *testing.T) {
	env := newTestEnv(t)
	id := submitMeeting(t, env, "gone.wav")

	req := httptest.NewRequest(http.MethodDelete, "/meetings/"+id, nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/meetings/"+id, nil)
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", resp.StatusCode)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	submitMeeting(t, env, "anything.wav")

	req := httptest.NewRequest(http.MethodGet, "/search?q=", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if len(got["meetings"].([]any)) != 0 {
		t.Errorf("meetings = %v, want empty", got["meetings"])
	}
}

func TestSearch_Matches(t *testing.T) {
	env := newTestEnv(t)
	id := submitMeeting(t, env, "planning.wav")

	results := &meeting.Results{
		Transcript:      "we reviewed the quarterly budget in detail",
		Summary:         "- budget approved",
		Keywords:        []string{"budget"},
		Language:        "en",
		DurationSeconds: 30,
	}
	if err := env.store.UpsertResults(context.Background(), id, results); err != nil {
		t.Fatalf("UpsertResults: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?q=budget", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	meetings := got["meetings"].([]any)
	if len(meetings) != 1 {
		t.Fatalf("len(meetings) = %d, want 1", len(meetings))
	}
	first := meetings[0].(map[string]any)
	if first["id"] != id {
		t.Errorf("match id = %v, want %v", first["id"], id)
	}
}

func TestSearch_WriteInvalidatesCachedResults(t *testing.T) {
	env := newTestEnv(t)
	id := submitMeeting(t, env, "planning.wav")

	results := &meeting.Results{
		Transcript:      "quarterly budget walkthrough",
		Summary:         "- budget approved",
		Keywords:        []string{"budget"},
		Language:        "en",
		DurationSeconds: 5,
	}
	if err := env.store.UpsertResults(context.Background(), id, results); err != nil {
		t.Fatalf("UpsertResults: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?q=budget", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := decodeBody(t, resp); len(got["meetings"].([]any)) != 1 {
		t.Fatalf("matches = %v, want 1", got["meetings"])
	}

	req = httptest.NewRequest(http.MethodDelete, "/meetings/"+id, nil)
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	// The cached result set for the same query must not resurface the
	// deleted meeting.
	req = httptest.NewRequest(http.MethodGet, "/search?q=budget", nil)
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := decodeBody(t, resp); len(got["meetings"].([]any)) != 0 {
		t.Errorf("matches after delete = %v, want empty", got["meetings"])
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	env.pool.Start(ctx)
	defer func() {
		cancel()
		env.pool.Wait()
	}()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := decodeBody(t, resp)
	if got["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", got["status"])
	}
	if got["workers_running"] != true {
		t.Errorf("workers_running = %v, want true", got["workers_running"])
	}
	for _, field := range []string{"queue_depth", "in_flight", "worker_count"} {
		if _, ok := got[field]; !ok {
			t.Errorf("health response missing %q", field)
		}
	}
}

func TestHealth_DegradedWithoutWorkers(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	got := decodeBody(t, resp)
	if got["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", got["status"])
	}
}

func TestAPIKeyAuth(t *testing.T) {
	app := fiber.New()
	app.Use(APIKeyAuth([]string{"secret-key"}))
	app.Get("/meetings", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"missing key", "/meetings", "", fiber.StatusUnauthorized},
		{"wrong key", "/meetings", "wrong", fiber.StatusUnauthorized},
		{"valid key", "/meetings", "secret-key", fiber.StatusOK},
		{"health open", "/health", "", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	app := fiber.New()
	app.Post("/meetings", RateLimit(1), func(c *fiber.Ctx) error { return c.SendString("ok") })

	first := httptest.NewRequest(http.MethodPost, "/meetings", nil)
	resp, err := app.Test(first)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("first request status = %d, want 200", resp.StatusCode)
	}

	// Burst of 1 exhausted; the immediate follow-up is rejected.
	second := httptest.NewRequest(http.MethodPost, "/meetings", nil)
	resp, err = app.Test(second)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp.StatusCode)
	}
}

func TestRateLimit_DisabledWhenZero(t *testing.T) {
	app := fiber.New()
	app.Post("/meetings", RateLimit(0), func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/meetings", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, resp.StatusCode)
		}
	}
}
