package geocache

import (
	"crypto/md5" //nolint:gosec // The digest is a cache key, not a security boundary
	"encoding/hex"
)

// DeriveKey returns the cache key for a provider and query pair: the MD5 digest
// of provider followed by query, with no separator, as lowercase hex.
func DeriveKey(provider, query string) string {
	sum := md5.Sum([]byte(provider + query)) //nolint:gosec // See import
	return hex.EncodeToString(sum[:])
}
