package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

type BlobReader interface {
	// If no such object exists, Download should return an error for which errors.Is(err, os.ErrNotExist) is true.
	Download(ctx context.Context, info BlobInfo, destPath string) error
}

type Blobstore interface {
	BlobReader
	// Upload uploads the file at sourcePath to the blobstore, using the given hash as the object key.
	// If an object with the same hash already exists, Upload should do nothing and return no error.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

// BlobInfo identifies a serialized graph by the hex sha256 of its bytes.
type BlobInfo struct {
	Hash string
}

// HashReader returns the BlobInfo of everything read from r.
func HashReader(r io.Reader) (BlobInfo, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return BlobInfo{}, fmt.Errorf("hashing: %w", err)
	}
	return BlobInfo{Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// HashFile returns the BlobInfo of the file at p.
func HashFile(p string) (BlobInfo, error) {
	f, err := os.Open(p)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("opening %q: %w", p, err)
	}
	defer f.Close()
	return HashReader(f)
}

// ValidHash reports whether s looks like a hex sha256 digest.
func ValidHash(s string) bool {
	if len(s) != 2*sha256.Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// hashingWriter hashes everything written through it.
type hashingWriter struct {
	w io.Writer
	h hash.Hash
}

func newHashingWriter(w io.Writer) *hashingWriter {
	return &hashingWriter{w: w, h: sha256.New()}
}

func (hw *hashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	hw.h.Write(p[:n])
	return n, err
}

func (hw *hashingWriter) info() BlobInfo {
	return BlobInfo{Hash: hex.EncodeToString(hw.h.Sum(nil))}
}
