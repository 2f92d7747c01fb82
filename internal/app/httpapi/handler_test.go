package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yiwugan/sort-smart/internal/app"
	"github.com/yiwugan/sort-smart/internal/app/activity"
	"github.com/yiwugan/sort-smart/internal/app/domain/guide"
	"github.com/yiwugan/sort-smart/internal/app/services/advisor"
	"github.com/yiwugan/sort-smart/internal/app/services/guides"
	"github.com/yiwugan/sort-smart/internal/app/storage/memory"
	"github.com/yiwugan/sort-smart/internal/config"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

const testAdminSecret = "handler-test-secret"

type fakeVision struct {
	response string
	err      error
	calls    int
}

func (f *fakeVision) Model() string { return "vision-test" }

func (f *fakeVision) CompleteVision(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeText struct {
	response string
	err      error
}

func (f *fakeText) Model() string { return "text-test" }

func (f *fakeText) Complete(_ context.Context, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func testLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

type handlerOptions struct {
	vision       advisor.VisionCompleter
	text         advisor.TextCompleter
	maxImageSize int64
	cfg          Config
}

// newTestHandler wires a handler over in-memory collaborators with a toronto
// guide preloaded.
func newTestHandler(t *testing.T, opts handlerOptions) (http.Handler, *memory.Store) {
	t.Helper()
	log := testLogger()

	store := memory.New()
	if _, err := store.UpsertGuide(context.Background(), guide.Guide{
		Key:     "toronto",
		Region:  "toronto",
		Summary: "blue bin for containers",
		Source:  guide.SourceFile,
	}); err != nil {
		t.Fatalf("seed guide: %v", err)
	}

	guideService := guides.New(store, log)
	hub := activity.NewHub(nil, log)

	advisorService, err := advisor.New(advisor.Config{
		Guides:       guideService,
		Vision:       opts.vision,
		Text:         opts.text,
		Store:        store,
		Publisher:    hub,
		MaxImageSize: opts.maxImageSize,
		Log:          log,
	})
	if err != nil {
		t.Fatalf("build advisor: %v", err)
	}

	application := &app.Application{
		Guides:  guideService,
		Advisor: advisorService,
		Hub:     hub,
	}
	return NewHandler(application, opts.cfg, log), store
}

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func multipartUpload(t *testing.T, image []byte, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		part, err := mw.CreateFormFile("image", "item.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatalf("write image part: %v", err)
		}
	}
	if metadata != "" {
		if err := mw.WriteField("metadata", metadata); err != nil {
			t.Fatalf("write metadata field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{cfg: Config{Version: "1.2.3"}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["service"] != "ecosort" {
		t.Errorf("service = %v, want ecosort", body["service"])
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", body["version"])
	}
}

func TestHandleIndexRedirectsToStaticPage(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/static/index.html" {
		t.Errorf("location = %q, want /static/index.html", loc)
	}
}

func TestStaticPageServed(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/index.html", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "EcoSort") {
		t.Error("static page should mention EcoSort")
	}
}

func TestHandleUploadImage(t *testing.T) {
	vision := &fakeVision{response: "Blue bin. The bottle is recyclable."}
	h, store := newTestHandler(t, handlerOptions{vision: vision})

	body, contentType := multipartUpload(t, []byte("jpeg-bytes"), `{"region":"Toronto","note":"front porch"}`)
	req := httptest.NewRequest(http.MethodPost, "/upload-image", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["filename"] != "item.jpg" {
		t.Errorf("filename = %v, want item.jpg", resp["filename"])
	}
	if resp["response"] != vision.response {
		t.Errorf("response = %v, want %q", resp["response"], vision.response)
	}
	if resp["cached"] != false {
		t.Errorf("cached = %v, want false", resp["cached"])
	}
	if resp["advice_id"] == "" || resp["advice_id"] == nil {
		t.Error("advice_id should be set")
	}
	meta, ok := resp["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata = %T, want object", resp["metadata"])
	}
	if meta["region"] != "Toronto" {
		t.Errorf("metadata region = %v, want Toronto as sent", meta["region"])
	}
	if meta["note"] != "front porch" {
		t.Errorf("metadata should echo unknown fields, got %v", meta)
	}
	if vision.calls != 1 {
		t.Errorf("vision calls = %d, want 1", vision.calls)
	}

	records, err := store.ListAdvice(context.Background(), 10)
	if err != nil {
		t.Fatalf("list advice: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("persisted records = %d, want 1", len(records))
	}
}

func TestHandleUploadImageErrors(t *testing.T) {
	cases := []struct {
		name       string
		image      []byte
		metadata   string
		visionErr  error
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing metadata field",
			image:      []byte("data"),
			wantStatus: http.StatusBadRequest,
			wantError:  "metadata form field is required",
		},
		{
			name:       "malformed metadata JSON",
			image:      []byte("data"),
			metadata:   `{"region":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid JSON metadata",
		},
		{
			name:       "metadata not an object",
			image:      []byte("data"),
			metadata:   `["toronto"]`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid JSON metadata",
		},
		{
			name:       "missing region",
			image:      []byte("data"),
			metadata:   `{"city":"Toronto","region":""}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "region is required in metadata",
		},
		{
			name:       "unknown area",
			image:      []byte("data"),
			metadata:   `{"region":"atlantis"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Instruction not found for specified city or region",
		},
		{
			name:       "missing image part",
			metadata:   `{"region":"toronto"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "image file is required",
		},
		{
			name:       "model failure stays generic",
			image:      []byte("data"),
			metadata:   `{"region":"toronto"}`,
			visionErr:  fmt.Errorf("provider exploded"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(t, handlerOptions{vision: &fakeVision{response: "ok", err: tc.visionErr}})

			body, contentType := multipartUpload(t, tc.image, tc.metadata)
			req := httptest.NewRequest(http.MethodPost, "/upload-image", body)
			req.Header.Set("Content-Type", contentType)

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tc.wantStatus, rr.Body.String())
			}
			if got := decodeBody(t, rr)["error"]; got != tc.wantError {
				t.Errorf("error = %v, want %q", got, tc.wantError)
			}
		})
	}
}

func TestHandleUploadImageTooLarge(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{
		vision:       &fakeVision{response: "ok"},
		maxImageSize: 16,
	})

	body, contentType := multipartUpload(t, bytes.Repeat([]byte("x"), 17), `{"region":"toronto"}`)
	req := httptest.NewRequest(http.MethodPost, "/upload-image", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	want := "Image too large, must be smaller than 16 bytes"
	if got := decodeBody(t, rr)["error"]; got != want {
		t.Errorf("error = %v, want %q", got, want)
	}
}

func TestHandleUploadImageWithoutVisionModel(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{})

	body, contentType := multipartUpload(t, []byte("data"), `{"region":"toronto"}`)
	req := httptest.NewRequest(http.MethodPost, "/upload-image", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestHandleDisposeInstruction(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{text: &fakeText{response: "Green bin."}})

	req := httptest.NewRequest(http.MethodPost, "/dispose-instruction",
		strings.NewReader(`{"description":"banana peel","region":"toronto"}`))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["response"] != "Green bin." {
		t.Errorf("response = %v, want Green bin.", resp["response"])
	}
	meta, ok := resp["metadata"].(map[string]any)
	if !ok || meta["region"] != "toronto" {
		t.Errorf("metadata = %v, want region toronto", resp["metadata"])
	}
}

func TestHandleDisposeInstructionErrors(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid JSON",
			body:       `{"description":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "missing description",
			body:       `{"region":"toronto"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "description is required",
		},
		{
			name:       "missing region",
			body:       `{"description":"mug"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "region is required in metadata",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(t, handlerOptions{text: &fakeText{response: "ok"}})

			req := httptest.NewRequest(http.MethodPost, "/dispose-instruction", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if got := decodeBody(t, rr)["error"]; got != tc.wantError {
				t.Errorf("error = %v, want %q", got, tc.wantError)
			}
		})
	}
}

func TestHandleDisposeInstructionWithoutTextModel(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{})

	req := httptest.NewRequest(http.MethodPost, "/dispose-instruction",
		strings.NewReader(`{"description":"mug","region":"toronto"}`))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestAdminRoutesAbsentWithoutSecret(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{})

	for _, probe := range []struct {
		method string
		path   string
	}{
		{http.MethodPut, "/admin/guides/toronto"},
		{http.MethodPost, "/admin/guides/reload"},
		{http.MethodGet, "/admin/advice"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(probe.method, probe.path, strings.NewReader("{}")))
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", probe.method, probe.path, rr.Code)
		}
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{cfg: Config{AdminJWTSecret: testAdminSecret}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/advice", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestAdminGuideLifecycle(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{cfg: Config{AdminJWTSecret: testAdminSecret}})
	token := adminToken(t, testAdminSecret)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodPut, "/admin/guides/York%20Region", `{"summary":"green bin for organics"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr)
	if created["key"] != "york" {
		t.Errorf("key = %v, want york (normalized)", created["key"])
	}
	if created["summary"] != "green bin for organics" {
		t.Errorf("summary = %v", created["summary"])
	}

	listRR := httptest.NewRecorder()
	h.ServeHTTP(listRR, httptest.NewRequest(http.MethodGet, "/guides", nil))
	if listRR.Code != http.StatusOK {
		t.Fatalf("list status = %d", listRR.Code)
	}
	if count := decodeBody(t, listRR)["count"]; count != float64(2) {
		t.Errorf("guide count = %v, want 2", count)
	}

	if rr := do(http.MethodDelete, "/admin/guides/york", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := do(http.MethodDelete, "/admin/guides/york", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}

	rr = do(http.MethodGet, "/admin/audit", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rr.Code)
	}
	audit := decodeBody(t, rr)
	entries, ok := audit["entries"].([]any)
	if !ok || len(entries) < 2 {
		t.Fatalf("audit entries = %v, want at least upsert and delete", audit["entries"])
	}
	first, _ := entries[0].(map[string]any)
	if first["subject"] != "ops" {
		t.Errorf("audit subject = %v, want ops", first["subject"])
	}
	if first["action"] != "guide.upsert" {
		t.Errorf("first audit action = %v, want guide.upsert", first["action"])
	}
}

func TestAdminAdviceEndpoints(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{
		vision: &fakeVision{response: "Blue bin."},
		cfg:    Config{AdminJWTSecret: testAdminSecret},
	})
	token := adminToken(t, testAdminSecret)

	body, contentType := multipartUpload(t, []byte("jpeg"), `{"region":"toronto"}`)
	uploadReq := httptest.NewRequest(http.MethodPost, "/upload-image", body)
	uploadReq.Header.Set("Content-Type", contentType)
	uploadRR := httptest.NewRecorder()
	h.ServeHTTP(uploadRR, uploadReq)
	if uploadRR.Code != http.StatusOK {
		t.Fatalf("upload status = %d", uploadRR.Code)
	}
	adviceID, _ := decodeBody(t, uploadRR)["advice_id"].(string)
	if adviceID == "" {
		t.Fatal("upload should return an advice id")
	}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := get("/admin/advice")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if count := decodeBody(t, rr)["count"]; count != float64(1) {
		t.Errorf("advice count = %v, want 1", count)
	}

	rr = get("/admin/advice/" + adviceID)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	record := decodeBody(t, rr)
	if record["status"] != "succeeded" {
		t.Errorf("record status = %v, want succeeded", record["status"])
	}
	if record["guide_key"] != "toronto" {
		t.Errorf("guide_key = %v, want toronto", record["guide_key"])
	}

	if rr := get("/admin/advice/no-such-id"); rr.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", rr.Code)
	}
	if rr := get("/admin/advice?limit=nope"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}
}

func TestHandleReloadGuides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "toronto-summary.txt"), []byte("blue bin"), 0o600); err != nil {
		t.Fatalf("write guide file: %v", err)
	}

	log := testLogger()
	cfg := &config.Config{}
	cfg.Server.Port = 8090
	cfg.Uploads.Dir = t.TempDir()
	cfg.Uploads.MaxImageSize = 80000
	cfg.Uploads.SweepSchedule = "@every 5m"
	cfg.Uploads.MaxAge = 10 * time.Minute
	cfg.Guides.Dir = dir
	cfg.RateLimit.RPS = 100
	cfg.RateLimit.Burst = 100

	application, err := app.New(cfg, app.Stores{}, nil, log)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}

	h := NewHandler(application, Config{AdminJWTSecret: testAdminSecret}, log)
	token := adminToken(t, testAdminSecret)

	req := httptest.NewRequest(http.MethodPost, "/admin/guides/reload", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if loaded := decodeBody(t, rr)["loaded"]; loaded != float64(1) {
		t.Errorf("loaded = %v, want 1", loaded)
	}
}

func TestHandleInfo(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/info", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "active" {
		t.Errorf("status = %v, want active", body["status"])
	}
	stats, ok := body["statistics"].(map[string]any)
	if !ok {
		t.Fatalf("statistics = %T, want object", body["statistics"])
	}
	if stats["guides"] != float64(1) {
		t.Errorf("guides stat = %v, want 1", stats["guides"])
	}
}

func TestHandleMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ecosort") {
		t.Error("metrics output should carry the ecosort namespace")
	}
}

func TestRateLimitAppliedToChain(t *testing.T) {
	h, _ := newTestHandler(t, handlerOptions{cfg: Config{RateLimitRPS: 1, RateLimitBurst: 1}})

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/health", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/health", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
}
