package image

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// TagLatest is pushed alongside every versioned tag, so that the
// scheduler's task definitions can refer to a stable name and pick up
// new builds on a forced deployment.
const TagLatest = "latest"

// tagLen is how much of a revision or digest we keep. Twelve hex
// characters is what `git rev-parse --short=12` gives, and is plenty
// to avoid collisions at the scale of one registry repository.
const tagLen = 12

// RevisionTag derives a tag from a source revision identifier.
func RevisionTag(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > tagLen {
		rev = rev[:tagLen]
	}
	return rev
}

// TimestampTag derives a tag from a wall-clock time, at nanosecond
// resolution so that two builds in quick succession still get
// distinct tags.
func TimestampTag(t time.Time) string {
	return t.UTC().Format("20060102-150405.000000000")
}

// ContextTag derives a content-addressed tag from a build context
// directory: the SHA256 over every regular file's path and contents,
// in lexical path order. Rebuilding an unchanged context therefore
// yields the same tag, and any source change yields a new one.
func ContextTag(dir string) (string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// .git churns on operations that don't change the build
		// inputs, so it doesn't belong in the digest.
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "walking build context %s", dir)
	}
	sort.Strings(files)

	digester := digest.SHA256.Digester()
	hash := digester.Hash()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		f, err := os.Open(path)
		if err != nil {
			return "", errors.Wrapf(err, "reading %s", path)
		}
		io.WriteString(hash, filepath.ToSlash(rel))
		hash.Write([]byte{0})
		_, err = io.Copy(hash, f)
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "hashing %s", path)
		}
		hash.Write([]byte{0})
	}
	return digester.Digest().Encoded()[:tagLen], nil
}
