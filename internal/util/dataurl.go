package util

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrNotDataURL = errors.New("value is not a data URL")

// EncodeDataURL embeds data as a base64 data URL. An empty mimeType is sniffed
// from the content.
func EncodeDataURL(mimeType string, data []byte) string {
	if strings.TrimSpace(mimeType) == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ReadDataURL reads r to the end and returns it as a data URL.
func ReadDataURL(r io.Reader, mimeType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return EncodeDataURL(mimeType, data), nil
}

// CheckDataURL validates the shape of a client-supplied data URL without
// decoding the payload.
func CheckDataURL(value string) error {
	if !strings.HasPrefix(value, "data:") {
		return ErrNotDataURL
	}
	if !strings.Contains(value, ",") {
		return ErrNotDataURL
	}
	return nil
}
