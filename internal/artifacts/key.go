// Package artifacts names, stores and reads conversion artifacts. The
// filesystem directory is the durable cache: <key>.pdf holds the fetched
// source and <key>.html holds the converted output.
package artifacts

import (
	"crypto/sha1"
	"encoding/hex"
)

// Key is the content address of a source URL: the lower-case hex SHA-1 of
// the exact URL string. It is safe to use as a file name.
type Key string

// KeyFor derives the cache key for rawURL. No normalization is applied, so
// URLs that differ in any byte get different keys.
func KeyFor(rawURL string) Key {
	sum := sha1.Sum([]byte(rawURL))
	return Key(hex.EncodeToString(sum[:]))
}

func (k Key) String() string { return string(k) }
