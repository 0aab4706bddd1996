// Package upload validates image attachments before any network call,
// mirroring the server's own upload rules so bad files are rejected locally.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest accepted attachment, matching the server limit.
const MaxFileSize = 10 * 1024 * 1024

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// ValidationError rejects an attachment before submission. It is a
// client-side check; nothing has been sent when it is returned.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid attachment %s: %s", e.Path, e.Reason)
}

// CheckImage verifies that path points to an acceptable image file:
// a whitelisted extension and at most MaxFileSize bytes.
func CheckImage(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("file type %q not allowed", ext)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Path: path, Reason: err.Error()}
	}
	if info.IsDir() {
		return &ValidationError{Path: path, Reason: "is a directory"}
	}
	if info.Size() > MaxFileSize {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("file too large (%d bytes, max %d)", info.Size(), MaxFileSize)}
	}
	return nil
}
