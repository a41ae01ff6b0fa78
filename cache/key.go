// Package cache derives the content-addressed keys that cache volumes
// are stored under. A key pins the platform, the workflow, the cache
// name and a hash of a lockfile: runs with the same lockfile share one
// cache, and any lockfile change rolls over to a fresh one.
package cache

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Key addresses one reusable directory set.
type Key string

// DeriveKey computes the cache key for a workflow. The same inputs
// always derive the same key; any change to the lockfile contents
// derives a different one.
//
// The rendered form is "<platform>-<workflow>-<name>-<sha256-of-lockfile>".
func DeriveKey(platform, workflowName, cacheName string, lockfile []byte) Key {
	sum := sha256.Sum256(lockfile)
	parts := []string{
		normalize(platform),
		normalize(workflowName),
		normalize(cacheName),
		fmt.Sprintf("%x", sum),
	}
	return Key(strings.Join(parts, "-"))
}

// Volume is the docker volume name prefix for this key.
func (k Key) Volume() string {
	return "loom-cache-" + string(k)
}

// PathVolume is the volume holding the i-th cached path for this key;
// docker volumes mount at exactly one target, so each cached path gets
// its own.
func (k Key) PathVolume(i int) string {
	return fmt.Sprintf("%s-%d", k.Volume(), i)
}

func (k Key) String() string {
	return string(k)
}

func normalize(s string) string {
	return unsafeChars.ReplaceAllString(s, "-")
}
