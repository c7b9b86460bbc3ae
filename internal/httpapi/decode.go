package httpapi

import (
	"encoding/base64"
	"strings"

	"github.com/TimurManjosov/goflagship/internal/capture"
)

// decodeMaybeCompressed applies the compression query param on top of
// capture.DecodeBody's gzip/base64 autodetection, per spec §6's
// `compression ∈ {gzip, gzip-js, base64}`.
func decodeMaybeCompressed(body []byte, compression string, maxBytes int) ([]byte, error) {
	switch strings.ToLower(compression) {
	case "base64":
		trimmed := strings.TrimSpace(string(body))
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, err
		}
		return capture.DecodeBody(decoded, false, maxBytes)
	case "gzip", "gzip-js":
		return capture.DecodeBody(body, true, maxBytes)
	default:
		return capture.DecodeBody(body, false, maxBytes)
	}
}
