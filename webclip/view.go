package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type app struct {
	store     *roomStore
	assets    *assetStore
	maxUpload int64 // upload body size limit in bytes
}

// newHTTPHandler builds the clipboard router: the action-dispatched JSON
// API, static asset serving for uploaded files, and the embedded web UI.
func (a *app) newHTTPHandler(staticFS fs.FS) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/api/clipboard", a.handleAPI)
	r.Post("/api/clipboard", a.handleAPI)

	// Uploaded assets are reachable under the same relative path stored in
	// entry content.
	r.Handle("/data/uploads/*", http.StripPrefix("/data/uploads/",
		http.FileServer(http.Dir(a.assets.dir))))

	r.Get("/", serveEmbedded(staticFS, "index.html", "text/html; charset=utf-8"))
	r.Get("/app.js", serveEmbedded(staticFS, "app.js", "application/javascript"))
	r.Get("/styles.css", serveEmbedded(staticFS, "styles.css", "text/css; charset=utf-8"))

	return r
}

func (a *app) handleAPI(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	switch r.URL.Query().Get("action") {
	case "get":
		a.handleGet(w, r, room)
	case "post":
		a.handlePost(w, r, room)
	case "upload":
		a.handleUpload(w, r, room)
	default:
		sendJSONError(w, "Invalid action", http.StatusBadRequest)
	}
}

func (a *app) handleGet(w http.ResponseWriter, r *http.Request, room string) {
	if r.Method != http.MethodGet {
		sendJSONError(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}
	hist, err := a.store.Get(room)
	if err != nil {
		log.Error().Err(err).Str("room", cleanRoomName(room)).Msg("[webclip] read room failed")
		if errors.Is(err, errMalformedRoom) {
			sendJSONError(w, "Invalid JSON in room data", http.StatusInternalServerError)
			return
		}
		sendJSONError(w, "Failed to read room data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, hist)
}

func (a *app) handlePost(w http.ResponseWriter, r *http.Request, room string) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Content string `json:"content"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	// Empty content is a valid entry. Any client timestamp is ignored; the
	// store assigns its own.
	entry := Entry{Content: req.Content, Type: entryText}
	if req.Type == entryImage {
		entry.Type = entryImage
	}
	if _, err := a.store.Append(room, entry); err != nil {
		log.Error().Err(err).Str("room", cleanRoomName(room)).Msg("[webclip] append failed")
		if errors.Is(err, errMalformedRoom) {
			sendJSONError(w, "Invalid JSON in room data", http.StatusInternalServerError)
			return
		}
		sendJSONError(w, "Failed to write room data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, apiResponse{Status: "success"})
}

func (a *app) handleUpload(w http.ResponseWriter, r *http.Request, room string) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendJSONError(w, "Upload failed: File too large (server limit)", http.StatusBadRequest)
			return
		}
		sendJSONError(w, "Upload failed: File only partially uploaded", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		sendJSONError(w, "Upload failed: No file was uploaded", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	entry, err := a.assets.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, errExtensionBlocked) {
			sendJSONError(w, "File type not allowed for security reasons", http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("[webclip] save asset failed")
		sendJSONError(w, "Failed to write file to disk", http.StatusInternalServerError)
		return
	}
	if _, err := a.store.Append(room, entry); err != nil {
		log.Error().Err(err).Str("room", cleanRoomName(room)).Msg("[webclip] append upload failed")
		sendJSONError(w, "Failed to save file metadata", http.StatusInternalServerError)
		return
	}
	writeJSON(w, apiResponse{Status: "success"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("[webclip] encode json response")
	}
}

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(apiResponse{Status: "error", Message: message})
}

func serveEmbedded(fsys fs.FS, name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	}
}
