// Package zip bundles job artifacts into a single download.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Asset is one archive entry.
type Asset struct {
	Filename string
	Data     []byte
}

// Write streams assets as a zip archive to w. Entries are stored flat;
// repeated names get a numeric suffix.
func Write(w io.Writer, assets []Asset, modified time.Time) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(path.Base(asset.Filename), seen)
		header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified}
		if isCompressed(name) {
			header.Method = zip.Store
		}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := entry.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func uniqueName(name string, seen map[string]int) string {
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// isCompressed skips deflate for formats that are already compressed.
func isCompressed(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".zip", ".tar", ".mp4":
		return true
	}
	return false
}
