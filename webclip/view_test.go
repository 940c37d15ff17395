package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/pebble/v2"
)

func newTestServer(t *testing.T) (*httptest.Server, *app) {
	return newTestServerLimit(t, 1<<20)
}

func newTestServerLimit(t *testing.T, maxUpload int64) (*httptest.Server, *app) {
	t.Helper()
	dir := t.TempDir()
	store, err := newRoomStore(storeConfig{Dir: filepath.Join(dir, "rooms")})
	if err != nil {
		t.Fatalf("newRoomStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	assets, err := newAssetStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("newAssetStore: %v", err)
	}
	a := &app{store: store, assets: assets, maxUpload: maxUpload}
	staticFS := fstest.MapFS{
		"index.html": {Data: []byte("<html></html>")},
		"app.js":     {Data: []byte("// app")},
		"styles.css": {Data: []byte("body{}")},
	}
	srv := httptest.NewServer(a.newHTTPHandler(staticFS))
	t.Cleanup(srv.Close)
	return srv, a
}

func getHistory(t *testing.T, srv *httptest.Server, room string) []Entry {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/clipboard?action=get&room=" + url.QueryEscape(room))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET status %d: %s", resp.StatusCode, body)
	}
	var hist []Entry
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return hist
}

func postText(t *testing.T, srv *httptest.Server, room, content string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"content": content, "type": "text"})
	resp, err := http.Post(srv.URL+"/api/clipboard?action=post&room="+url.QueryEscape(room),
		"application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	return resp
}

func uploadFile(t *testing.T, srv *httptest.Server, room, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	resp, err := http.Post(srv.URL+"/api/clipboard?action=upload&room="+url.QueryEscape(room),
		mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var r apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return r.Message
}

func TestGetFreshRoomReturnsEmptyArray(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/clipboard?action=get&room=fresh")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("want [], got %q", body)
	}
}

func TestPostThenGet(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postText(t, srv, "work", "meeting at 3pm")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status %d", resp.StatusCode)
	}
	hist := getHistory(t, srv, "work")
	if len(hist) != 1 || hist[0].Content != "meeting at 3pm" || hist[0].Type != "text" {
		t.Fatalf("unexpected history: %#v", hist)
	}
	if hist[0].Timestamp <= 0 {
		t.Fatalf("entry missing server timestamp: %#v", hist[0])
	}
}

func TestInvalidAction(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, action := range []string{"", "delete", "GET"} {
		resp, err := http.Get(srv.URL + "/api/clipboard?action=" + action)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("action %q: status %d, want 400", action, resp.StatusCode)
		}
		if msg := errorMessage(t, resp); msg != "Invalid action" {
			t.Errorf("action %q: message %q", action, msg)
		}
	}
}

func TestPostMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/clipboard?action=post&room=work",
		"application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Invalid JSON in request body" {
		t.Fatalf("message %q", msg)
	}
	if hist := getHistory(t, srv, "work"); len(hist) != 0 {
		t.Fatalf("malformed post mutated the room: %#v", hist)
	}
}

func TestUploadRoundTrip(t *testing.T) {
	srv, a := newTestServer(t)
	resp := uploadFile(t, srv, "files", "report.pdf", "pdf-bytes")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, body)
	}
	hist := getHistory(t, srv, "files")
	if len(hist) != 1 || hist[0].Type != "file" || hist[0].OriginalName != "report.pdf" {
		t.Fatalf("unexpected history: %#v", hist)
	}

	// The stored entry's content path must serve the uploaded bytes.
	assetResp, err := http.Get(srv.URL + "/" + hist[0].Content)
	if err != nil {
		t.Fatalf("fetch asset: %v", err)
	}
	defer func() { _ = assetResp.Body.Close() }()
	data, _ := io.ReadAll(assetResp.Body)
	if assetResp.StatusCode != http.StatusOK || string(data) != "pdf-bytes" {
		t.Fatalf("asset fetch status %d body %q", assetResp.StatusCode, data)
	}

	onDisk, err := os.ReadDir(a.assets.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(onDisk) != 1 {
		t.Fatalf("want 1 stored asset, got %d", len(onDisk))
	}
}

func TestUploadImageKind(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := uploadFile(t, srv, "pics", "photo.PNG", "png-bytes")
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}
	hist := getHistory(t, srv, "pics")
	if len(hist) != 1 || hist[0].Type != "image" {
		t.Fatalf("unexpected history: %#v", hist)
	}
}

func TestUploadBlockedExtensionLeavesRoomUntouched(t *testing.T) {
	srv, a := newTestServer(t)
	resp := uploadFile(t, srv, "danger", "malware.exe", "MZ")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "File type not allowed for security reasons" {
		t.Fatalf("message %q", msg)
	}
	if hist := getHistory(t, srv, "danger"); len(hist) != 0 {
		t.Fatalf("blocked upload recorded an entry: %#v", hist)
	}
	onDisk, err := os.ReadDir(a.assets.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(onDisk) != 0 {
		t.Fatalf("blocked upload stored %d files", len(onDisk))
	}
}

func TestUploadMissingFilePart(t *testing.T) {
	srv, _ := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("note", "no file here")
	_ = mw.Close()
	resp, err := http.Post(srv.URL+"/api/clipboard?action=upload&room=x",
		mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Upload failed: No file was uploaded" {
		t.Fatalf("message %q", msg)
	}
}

func TestUploadOverSizeLimit(t *testing.T) {
	srv, _ := newTestServerLimit(t, 1024)
	resp := uploadFile(t, srv, "big", "big.bin", strings.Repeat("x", 4096))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Upload failed: File too large (server limit)" {
		t.Fatalf("message %q", msg)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	srv, _ := newTestServer(t)
	_ = postText(t, srv, "alpha", "only in alpha").Body.Close()
	if hist := getHistory(t, srv, "beta"); len(hist) != 0 {
		t.Fatalf("room beta sees alpha content: %#v", hist)
	}
}

func TestCorruptRoomDataSurfacesAsServerError(t *testing.T) {
	srv, a := newTestServer(t)
	if err := a.store.db.Set(roomKey("broken"), []byte("{oops"), pebble.Sync); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/clipboard?action=get&room=broken")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("get status %d, want 500", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Invalid JSON in room data" {
		t.Fatalf("get message %q", msg)
	}

	// Appending into the corrupt room reads it first and fails the same way.
	resp = postText(t, srv, "broken", "new entry")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("post status %d, want 500", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Invalid JSON in room data" {
		t.Fatalf("post message %q", msg)
	}
}

func TestWrongMethodGetsJSONError(t *testing.T) {
	srv, _ := newTestServer(t)

	// POST against the read action.
	resp, err := http.Post(srv.URL+"/api/clipboard?action=get&room=x",
		"application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Invalid method" {
		t.Fatalf("message %q", msg)
	}

	// GET against a write action.
	resp, err = http.Get(srv.URL + "/api/clipboard?action=post&room=x")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Invalid method" {
		t.Fatalf("message %q", msg)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
