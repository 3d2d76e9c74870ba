package driver

import (
	"encoding/base64"
	"os"
)

// fileExists reports whether path names a regular, readable file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// encodeBase64 renders raw screenshot bytes for transport in a ScrapeResult.
func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
