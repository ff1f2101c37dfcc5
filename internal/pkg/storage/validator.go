package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidMimeType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("file is empty")
)

// ImageMimeTypes are the content types accepted as generated results.
var ImageMimeTypes = []string{"image/png", "image/jpeg", "image/webp"}

// ReadLimited reads r fully, failing when it holds more than maxSize bytes.
func ReadLimited(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > maxSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// DetectMimeType sniffs data and checks it against allowed.
func DetectMimeType(data []byte, allowed []string) (string, error) {
	mimeType := http.DetectContentType(data)
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	for _, t := range allowed {
		if t == mimeType {
			return mimeType, nil
		}
	}
	return mimeType, ErrInvalidMimeType
}
