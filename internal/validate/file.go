package validate

import (
	"errors"
	"fmt"
	"strings"
)

// File validation errors
var (
	ErrInvalidMIMEType = errors.New("invalid MIME type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrFileEmpty       = errors.New("file is empty")
)

// Panorama MIME types.
const (
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
)

// AllowedPanoramaTypes are the equirectangular formats the viewer can texture.
var AllowedPanoramaTypes = []string{MIMEImageJPEG, MIMEImagePNG}

// FileConstraints defines validation constraints for file uploads.
type FileConstraints struct {
	AllowedTypes []string // Allowed MIME types
	MaxSizeBytes int64    // Maximum file size in bytes
}

// MIMEType validates a MIME type against allowed types. Parameters such as
// "; charset" are ignored. Returns the normalized MIME type.
func MIMEType(mimeType string, allowedTypes []string) (string, error) {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return "", ErrEmpty
	}
	for _, allowed := range allowedTypes {
		if mimeType == allowed {
			return mimeType, nil
		}
	}
	return "", fmt.Errorf("%w: %q not in allowed types", ErrInvalidMIMEType, mimeType)
}

// File validates both MIME type and file size.
func File(mimeType string, sizeBytes int64, constraints FileConstraints) (string, error) {
	validated, err := MIMEType(mimeType, constraints.AllowedTypes)
	if err != nil {
		return "", err
	}
	if sizeBytes <= 0 {
		return "", ErrFileEmpty
	}
	if constraints.MaxSizeBytes > 0 && sizeBytes > constraints.MaxSizeBytes {
		return "", fmt.Errorf("%w: got %d bytes, maximum is %d", ErrFileTooLarge, sizeBytes, constraints.MaxSizeBytes)
	}
	return validated, nil
}

// PanoramaFile validates an uploaded panorama: JPEG or PNG up to maxBytes.
func PanoramaFile(mimeType string, sizeBytes, maxBytes int64) (string, error) {
	return File(mimeType, sizeBytes, FileConstraints{
		AllowedTypes: AllowedPanoramaTypes,
		MaxSizeBytes: maxBytes,
	})
}
