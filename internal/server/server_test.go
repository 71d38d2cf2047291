package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagesort/internal/builder"
	"github.com/local/pagesort/internal/layout"
	"github.com/local/pagesort/internal/logger"
	"github.com/local/pagesort/internal/storage"
	"github.com/local/pagesort/internal/store"
)

type memStatus struct {
	mu sync.Mutex
	m  map[string]store.Status
}

func (s *memStatus) Set(_ context.Context, id string, st store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string]store.Status{}
	}
	s.m[id] = st
	return nil
}

func (s *memStatus) Get(_ context.Context, id string) (store.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	return st, ok, nil
}

type fakeArchive struct {
	calls int
	err   error
}

func (a *fakeArchive) ArchiveFile(_ context.Context, jobID, localPath, name string) (storage.ArchiveResult, error) {
	a.calls++
	if _, err := os.Stat(localPath); err != nil {
		return storage.ArchiveResult{}, err
	}
	if a.err != nil {
		return storage.ArchiveResult{}, a.err
	}
	return storage.ArchiveResult{URL: "s3://docs/" + jobID + "/" + name}, nil
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type part struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

type harness struct {
	mux     *http.ServeMux
	status  *memStatus
	archive *fakeArchive
	workDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{status: &memStatus{}, archive: &fakeArchive{}, workDir: t.TempDir()}
	srv := New(Config{WorkDir: h.workDir, BuildTimeout: 30 * time.Second},
		Dependencies{Status: h.status, Archive: h.archive})
	h.mux = http.NewServeMux()
	srv.RegisterRoutes(h.mux)
	return h
}

func (h *harness) upload(t *testing.T, fields map[string]string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, parts...)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func (h *harness) assertWorkDirClean(t *testing.T) {
	t.Helper()
	entries, _ := os.ReadDir(h.workDir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), workDirPrefix) {
			t.Errorf("work dir left behind: %s", e.Name())
		}
	}
}

func TestUploadSuccess(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, map[string]string{"sort_by": "brightness"},
		part{"images", "dark.png", pngBytes(t, 40, 30, color.Black)},
		part{"images", "light.png", pngBytes(t, 40, 30, color.White)},
		part{"images", "notes.txt", []byte("hello")},
		part{"images", "fake.png", []byte("not an image at all")},
	)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "attachment; filename=sorted_images.pdf" {
		t.Errorf("disposition = %q", cd)
	}
	if rec.Header().Get("X-Images-Placed") != "2" || rec.Header().Get("X-Images-Skipped") != "2" {
		t.Errorf("placed=%s skipped=%s", rec.Header().Get("X-Images-Placed"), rec.Header().Get("X-Images-Skipped"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Errorf("body is not a PDF")
	}
	if h.archive.calls != 1 {
		t.Errorf("archive calls = %d", h.archive.calls)
	}
	h.assertWorkDirClean(t)

	id := rec.Header().Get("X-Job-ID")
	st, ok, _ := h.status.Get(context.Background(), id)
	if !ok || st.Status != store.StateSuccess {
		t.Fatalf("status record = %+v", st)
	}
	if st.Metadata["archive_url"] != "s3://docs/"+id+"/sorted_images.pdf" {
		t.Errorf("metadata = %v", st.Metadata)
	}
	var rep builder.Report
	if err := json.Unmarshal(st.Report, &rep); err != nil {
		t.Fatalf("report: %v", err)
	}
	if rep.Placed != 2 || rep.Skipped != 2 || len(rep.Placements) != 2 || rep.Placements[0].Name != "light.png" {
		t.Errorf("report = %+v", rep)
	}
}

func TestUploadEmptyBatch(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, nil, part{"images", "broken.jpg", []byte("garbage")})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var body errorResp
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "empty" || body.Message != "no valid images" {
		t.Errorf("body = %+v", body)
	}
	st, ok, _ := h.status.Get(context.Background(), body.JobID)
	if !ok || st.Status != store.StateEmpty {
		t.Errorf("status record = %+v", st)
	}
	if h.archive.calls != 0 {
		t.Errorf("empty batch should not be archived")
	}
	h.assertWorkDirClean(t)
}

func TestUploadNoFilePart(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, map[string]string{"sort_by": "saturation"})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "no file part") {
		t.Errorf("status = %d body = %q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("x=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "no file part") {
		t.Errorf("non-multipart: status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestUploadInvalidBox(t *testing.T) {
	h := newHarness(t)
	img := part{"images", "a.png", pngBytes(t, 10, 10, color.White)}
	for _, fields := range []map[string]string{
		{"max_width": "wide"},
		{"max_width": "900"},
		{"max_height": "-1"},
		{"max_width": "NaN"},
		{"max_height": "+Inf"},
	} {
		rec := h.upload(t, fields, img)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"status":"invalid"`) {
			t.Errorf("%v: status = %d body = %s", fields, rec.Code, rec.Body.String())
		}
	}
}

func TestUploadUnknownMetricFallsBack(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, map[string]string{"sort_by": "hue"}, part{"images", "a.png", pngBytes(t, 10, 10, color.White)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Sort-Metric"); got != "brightness" {
		t.Errorf("metric = %q", got)
	}
}

func TestUploadArchiveFailureStillDelivers(t *testing.T) {
	h := newHarness(t)
	h.archive.err = errors.New("bucket gone")
	rec := h.upload(t, nil, part{"images", "a.png", pngBytes(t, 10, 10, color.White)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	st, _, _ := h.status.Get(context.Background(), rec.Header().Get("X-Job-ID"))
	if st.Metadata["archive_error"] != "bucket gone" {
		t.Errorf("metadata = %v", st.Metadata)
	}
}

func TestJobEndpoint(t *testing.T) {
	h := newHarness(t)
	_ = h.status.Set(context.Background(), "abc", store.Status{Status: store.StateSuccess, Progress: 100, Report: json.RawMessage(`{"pages":2}`)})

	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		JobID  string         `json:"job_id"`
		Status string         `json:"status"`
		Report map[string]int `json:"report"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.JobID != "abc" || body.Status != "success" || body.Report["pages"] != 2 {
		t.Errorf("body = %+v", body)
	}

	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", rec.Code)
	}
}

func TestHealthAndMethods(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /upload = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"redis"`) {
		t.Errorf("status = %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"builds":{"in_use":0,"capacity":4}`) {
		t.Errorf("status lacks build slots: %s", rec.Body.String())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		code   int
		status string
	}{
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{&layout.InvalidConfigError{Field: "max_width", Reason: "bad"}, http.StatusBadRequest, "invalid"},
		{&builder.ArtifactWriteError{Path: "x", Err: errors.New("disk full")}, http.StatusInternalServerError, "write_failed"},
		{&builder.SourceUnavailableError{Path: "x", Err: os.ErrNotExist}, http.StatusInternalServerError, "error"},
		{errors.New("other"), http.StatusInternalServerError, "error"},
	}
	for _, tc := range cases {
		code, body := classify(tc.err)
		if code != tc.code || body.Status != tc.status {
			t.Errorf("classify(%v) = %d %s, want %d %s", tc.err, code, body.Status, tc.code, tc.status)
		}
	}
}

func TestSanitizeAndUniqueNames(t *testing.T) {
	for raw, want := range map[string]string{
		"photo.png":           "photo.png",
		"../../etc/a.jpg":     "a.jpg",
		`C:\Users\me\b.jpeg`:  "b.jpeg",
		".hidden.png":         "",
		"":                    "",
		"dir/":                "dir",
	} {
		if got := sanitizeName(raw); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", raw, got, want)
		}
	}

	used := map[string]bool{"a.png": true, "a-1.png": true}
	if got := uniqueName("A.png", used); got != "A-2.png" {
		t.Errorf("uniqueName = %q", got)
	}
}

func TestUploadDuplicateNamesKeepBoth(t *testing.T) {
	h := newHarness(t)
	rec := h.upload(t, nil,
		part{"images", "same.png", pngBytes(t, 10, 10, color.White)},
		part{"images", "same.png", pngBytes(t, 10, 10, color.Black)},
	)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Images-Placed") != "2" {
		t.Errorf("status = %d placed = %s", rec.Code, rec.Header().Get("X-Images-Placed"))
	}
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, workDirPrefix+"old")
	fresh := filepath.Join(dir, workDirPrefix+"fresh")
	other := filepath.Join(dir, "unrelated")
	for _, d := range []string{old, fresh, other} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	for _, d := range []string{old, other} {
		if err := os.Chtimes(d, past, past); err != nil {
			t.Fatal(err)
		}
	}

	if n := CleanupStale(dir, time.Hour); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale work dir survived")
	}
	for _, d := range []string{fresh, other} {
		if _, err := os.Stat(d); err != nil {
			t.Errorf("%s removed: %v", d, err)
		}
	}
}

func TestUploadBusyWhenSlotsTaken(t *testing.T) {
	srv := New(Config{WorkDir: t.TempDir(), MaxConcurrent: 1}, Dependencies{})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	release, ok := srv.slots.Allow()
	if !ok {
		t.Fatal("fresh server has no free slot")
	}
	send := func() *httptest.ResponseRecorder {
		body, ct := multipartBody(t, nil, part{"images", "a.png", pngBytes(t, 10, 10, color.White)})
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	st := httptest.NewRecorder()
	mux.ServeHTTP(st, httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(st.Body.String(), `"builds":{"in_use":1,"capacity":1}`) {
		t.Errorf("status = %s", st.Body.String())
	}

	rec := send()
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"status":"busy"`) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	release()
	if rec = send(); rec.Code != http.StatusOK {
		t.Errorf("after release: status = %d", rec.Code)
	}
}

func TestStoreUploadRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	head := append(pngBytes(t, 1, 1, color.White), make([]byte, sniffLen)...)[:sniffLen]
	src := io.MultiReader(bytes.NewReader(head), iotest.ErrReader(errors.New("connection reset")))

	dest := filepath.Join(dir, "cut.png")
	if err := storeUpload(src, dest); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("partial upload left at %s", dest)
	}

	ok := filepath.Join(dir, "ok.png")
	if err := storeUpload(bytes.NewReader(pngBytes(t, 2, 2, color.Black)), ok); err != nil {
		t.Fatalf("complete upload: %v", err)
	}
	if _, err := os.Stat(ok); err != nil {
		t.Errorf("complete upload missing: %v", err)
	}
}

func TestUploadLogsShareJobFields(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	var buf bytes.Buffer
	if err := logger.Init(logger.Options{Level: "debug", Console: &buf}); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	rec := h.upload(t, map[string]string{"sort_by": "saturation"},
		part{"images", "a.png", pngBytes(t, 10, 10, color.White)},
		part{"images", "b.png", []byte("broken")},
	)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	id := rec.Header().Get("X-Job-ID")

	var states int
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var ev map[string]any
		if json.Unmarshal(line, &ev) != nil || ev["message"] != "build state" {
			continue
		}
		states++
		if ev["job_id"] != id || ev["sort_by"] != "saturation" {
			t.Errorf("build log lacks job fields: %s", line)
		}
	}
	if states == 0 {
		t.Errorf("no build state lines in %q", buf.String())
	}
}
