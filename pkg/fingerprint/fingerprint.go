// Package fingerprint computes the content digest that decides whether a
// skill needs rebuilding.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/logger"
)

// Fingerprint is a lowercase hex sha256 digest.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Short returns the first 12 characters, for display.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

var excludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".bzr":         true,
	".jj":          true,
	"_darcs":       true,
	".skillc-meta": true,
}

// IsExcludedDir reports whether a directory with this base name is left out
// of fingerprints.
func IsExcludedDir(name string) bool {
	return excludedDirs[name]
}

// Entry is one tracked file and the digest of its content.
type Entry struct {
	Path string
	Hash string
}

// Compute returns the fingerprint of the tree rooted at root.
func Compute(ctx context.Context, root string) (Fingerprint, error) {
	entries, err := Entries(ctx, root)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, e := range entries {
		io.WriteString(h, e.Path)
		h.Write([]byte{0})
		io.WriteString(h, e.Hash)
		h.Write([]byte{'\n'})
	}
	fp := Fingerprint(hex.EncodeToString(h.Sum(nil)))

	logger.G(ctx).WithField("root", root).WithField("files", len(entries)).
		WithField("fingerprint", fp.Short()).Debug("computed fingerprint")
	return fp, nil
}

// Entries lists every tracked file under root sorted by slash-separated
// relative path.
func Entries(ctx context.Context, root string) ([]Entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "failed to stat skill root %s", root)
	}
	if !info.IsDir() {
		return nil, errcode.New(errcode.IO, "skill root %s is not a directory", root)
	}
	// walk the real directory when the skill root itself is a link
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.IO, "failed to resolve skill root")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return errcode.Wrap(walkErr, errcode.IO, "failed to walk %s", path)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && IsExcludedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errcode.Wrap(err, errcode.IO, "failed to relativize %s", path)
		}

		var sum string
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return errcode.Wrap(err, errcode.IO, "failed to read link %s", path)
			}
			sum = hashBytes([]byte("symlink:" + filepath.ToSlash(target)))
		} else {
			sum, err = hashFile(path)
			if err != nil {
				return errcode.Wrap(err, errcode.IO, "failed to read %s", path)
			}
		}
		entries = append(entries, Entry{Path: filepath.ToSlash(rel), Hash: sum})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
