package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/JakeFAU/docmirror/internal/crawler"
)

// Problems reported by Verify.
const (
	ProblemNoLocalPath  = "no_local_path"
	ProblemMissing      = "missing"
	ProblemSizeMismatch = "size_mismatch"
	ProblemHashMismatch = "hash_mismatch"
	ProblemUnreadable   = "unreadable"
)

// FileInspector reads the local document tree.
type FileInspector interface {
	Stat(relPath string) (fs.FileInfo, error)
	Open(relPath string) (*os.File, error)
}

// Discrepancy is one snapshot entry whose local file does not match.
type Discrepancy struct {
	EntryKey  string
	LocalPath string
	Problem   string
	Detail    string
}

// Verify checks every entry of snap against its local file: the file must
// exist and its size must equal content_length when that is numeric. With a
// non-nil hasher the SHA-256 is recomputed and compared as well.
func Verify(ctx context.Context, snap crawler.Snapshot, files FileInspector, hasher crawler.Hasher) ([]Discrepancy, error) {
	var out []Discrepancy
	for _, e := range snap.Documents {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("verify interrupted: %w", err)
		}
		if d, ok := verifyEntry(e, files, hasher); !ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func verifyEntry(e crawler.Entry, files FileInspector, hasher crawler.Hasher) (Discrepancy, bool) {
	d := Discrepancy{EntryKey: e.EntryKey, LocalPath: e.LocalPath}
	if e.LocalPath == "" {
		d.Problem = ProblemNoLocalPath
		return d, false
	}
	info, err := files.Stat(e.LocalPath)
	if err != nil {
		d.Problem = ProblemMissing
		if !errors.Is(err, fs.ErrNotExist) {
			d.Problem = ProblemUnreadable
			d.Detail = err.Error()
		}
		return d, false
	}
	if want, err := strconv.ParseInt(e.ContentLength, 10, 64); err == nil && want != info.Size() {
		d.Problem = ProblemSizeMismatch
		d.Detail = fmt.Sprintf("expected %d bytes, found %d", want, info.Size())
		return d, false
	}
	if hasher == nil || e.SHA256 == "" {
		return d, true
	}
	sum, err := digestFile(files, e.LocalPath, hasher)
	if err != nil {
		d.Problem = ProblemUnreadable
		d.Detail = err.Error()
		return d, false
	}
	if sum != e.SHA256 {
		d.Problem = ProblemHashMismatch
		d.Detail = fmt.Sprintf("expected %s, found %s", e.SHA256, sum)
		return d, false
	}
	return d, true
}

func digestFile(files FileInspector, relPath string, hasher crawler.Hasher) (string, error) {
	f, err := files.Open(relPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	digest := hasher.NewDigest()
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("read %s: %w", relPath, err)
	}
	return digest.Sum(), nil
}
