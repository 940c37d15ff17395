package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// errExtensionBlocked marks a validation failure (client-caused); the
// handler maps it to a 400 and nothing is stored.
var errExtensionBlocked = errors.New("file type not allowed")

// Executable and script extensions that are never accepted, matching the
// generic-file upload policy.
var blockedExtensions = map[string]struct{}{
	"php": {}, "php3": {}, "php4": {}, "php5": {}, "phtml": {},
	"exe": {}, "pl": {}, "py": {}, "cgi": {}, "sh": {}, "bat": {},
}

// Extensions rendered inline as images by clients; everything else
// accepted is a generic file download.
var imageExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "svg": {},
}

// assetStore persists uploaded binaries on disk under generated unique
// names. Each name is written exactly once, so there is no concurrent
// write hazard on the assets area.
type assetStore struct {
	dir       string
	webPrefix string
}

func newAssetStore(dir string) (*assetStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty uploads directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &assetStore{dir: dir, webPrefix: "data/uploads"}, nil
}

// Save validates the extension policy, streams the bytes to a unique
// on-disk name (temp file plus rename, so a partially-written asset is
// never visible), and returns a store-ready entry referencing the asset.
// The client-provided name is used only for the display label, never for
// the storage path.
func (s *assetStore) Save(originalName string, src io.Reader) (Entry, error) {
	ext := fileExt(originalName)
	if _, ok := blockedExtensions[ext]; ok {
		return Entry{}, errExtensionBlocked
	}

	storedName := "file_" + randomID()
	if ext != "" {
		storedName += "." + ext
	}
	tmpPath := filepath.Join(s.dir, storedName+".tmp")
	dstPath := filepath.Join(s.dir, storedName)

	f, err := os.Create(tmpPath)
	if err != nil {
		return Entry{}, fmt.Errorf("create asset: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("write asset: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("close asset: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return Entry{}, fmt.Errorf("move asset: %w", err)
	}

	kind := entryFile
	if _, ok := imageExtensions[ext]; ok {
		kind = entryImage
	}
	return Entry{
		Content:      s.webPrefix + "/" + storedName,
		Type:         kind,
		OriginalName: cleanLabel(originalName),
	}, nil
}

func randomID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// fallback to current time for the extremely unlikely case rand fails
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
