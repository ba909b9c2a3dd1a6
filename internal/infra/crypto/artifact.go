package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"certnode/internal/domain"
)

// AssetHash returns the "sha256:<hex>" digest recorded as asset_hash on
// content receipts. JSON and text assets are canonicalized before hashing so
// formatting noise does not change the digest; other media types hash raw.
func AssetHash(mediaType string, input []byte) (string, error) {
	canonical, err := CanonicalizeAsset(mediaType, input)
	if err != nil {
		return "", err
	}
	return "sha256:" + sha256Hex(canonical), nil
}

func CanonicalizeAsset(mediaType string, input []byte) ([]byte, error) {
	switch normalizeMediaType(mediaType) {
	case "":
		return input, nil
	case "text/plain":
		return canonicalizeText(input)
	case "application/json":
		return CanonicalizeJSON(input)
	default:
		return input, nil
	}
}

func sha256Bytes(input []byte) []byte {
	sum := sha256.Sum256(input)
	return sum[:]
}

func sha256Hex(input []byte) string {
	return hex.EncodeToString(sha256Bytes(input))
}

func canonicalizeText(input []byte) ([]byte, error) {
	if !utf8.Valid(input) {
		return nil, fmt.Errorf("%w: asset is not valid UTF-8", domain.ErrInvalidPayload)
	}
	return bytes.ReplaceAll(input, []byte("\r\n"), []byte("\n")), nil
}

func normalizeMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	parts := strings.SplitN(mediaType, ";", 2)
	return strings.ToLower(strings.TrimSpace(parts[0]))
}
