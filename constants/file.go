package constants

import "strings"

// AllowedExtensions holds the image extensions accepted for upload.
var AllowedExtensions = map[string]struct{}{
	"tiff": {},
	"tif":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"webp": {},
}

// ArchiveExtensions holds the archive formats expanded on upload.
var ArchiveExtensions = map[string]struct{}{
	"zip": {},
}

// PlaceholderFilename replaces externally supplied names that sanitize down to nothing.
const PlaceholderFilename = "unnamed_file"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
