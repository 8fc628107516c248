package intake

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Stanislav1275/thermal-detecteion-backend/constants"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
)

// hostileChars matches characters that must never reach the filesystem.
var hostileChars = regexp.MustCompile(`[<>:"|?*\x00-\x1f]`)

// SanitizeFilename strips directory components and filesystem-hostile
// characters from an externally supplied filename. Names that reduce to
// nothing come back as constants.PlaceholderFilename.
func SanitizeFilename(name string) string {
	if name == "" {
		return constants.PlaceholderFilename
	}

	// Drop directory components for both separator conventions.
	name = strings.ReplaceAll(name, "\\", "/")
	name = name[strings.LastIndex(name, "/")+1:]

	if name == "" || name == "." || name == ".." {
		return constants.PlaceholderFilename
	}

	name = hostileChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")

	if name == "" {
		return constants.PlaceholderFilename
	}
	return name
}

// ValidateImageFormat reports whether the filename carries a supported
// image extension. The check is extension-only; no decode is attempted.
func ValidateImageFormat(name string) bool {
	ext := constants.NormalizeExt(filepath.Ext(name))
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsArchive reports whether the filename carries a supported archive extension.
func IsArchive(name string) bool {
	ext := constants.NormalizeExt(filepath.Ext(name))
	_, ok := constants.ArchiveExtensions[ext]
	return ok
}

// UniquePath returns a path under dir for name that does not collide with
// an existing file, suffixing the base name with _1, _2, ... as needed.
func UniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := os.Stat(path); err != nil {
			return path
		}
	}
}

// ExtractedFile maps an archive entry to the file it was extracted to.
type ExtractedFile struct {
	OriginalName string
	Path         string
}

// ExtractArchive expands a zip payload into destDir, keeping only entries
// that sanitize to a usable name, carry a supported image extension, are
// non-empty and actually decode as images. Entries that fail any of the
// content checks are skipped and recorded; the extraction only fails as a
// whole when the container itself is unreadable or nothing survives.
func ExtractArchive(data []byte, destDir string) ([]ExtractedFile, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, common.WrapError(err, "create extraction dir")
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", common.ErrValidation)
	}

	var extracted []ExtractedFile
	var reasons []string

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || strings.HasSuffix(entry.Name, "/") {
			continue
		}

		name := SanitizeFilename(entry.Name)
		if name == constants.PlaceholderFilename {
			continue
		}
		if !ValidateImageFormat(name) {
			continue
		}

		payload, err := readEntry(entry)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", entry.Name, err))
			continue
		}
		if len(payload) == 0 {
			reasons = append(reasons, fmt.Sprintf("%s: file is empty", entry.Name))
			continue
		}

		path := UniquePath(destDir, name)
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", entry.Name, err))
			continue
		}

		if err := VerifyImageDecodes(path); err != nil {
			_ = os.Remove(path)
			reasons = append(reasons, fmt.Sprintf("%s: not a readable image", entry.Name))
			continue
		}

		extracted = append(extracted, ExtractedFile{OriginalName: entry.Name, Path: path})
	}

	if len(extracted) == 0 {
		msg := "archive contains no valid images"
		if len(reasons) > 0 {
			if len(reasons) > 5 {
				reasons = reasons[:5]
			}
			msg += ": " + strings.Join(reasons, "; ")
		}
		return nil, fmt.Errorf("%s: %w", msg, common.ErrValidation)
	}
	return extracted, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(rc)
}
