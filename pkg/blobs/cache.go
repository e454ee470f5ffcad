package blobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// Cache is a directory of graph blobs named by hash. On a miss it downloads
// from Upstream, if set.
type Cache struct {
	BaseDir  string
	Upstream BlobReader
}

// Get opens the blob with the given hash. The error has code NotFound if
// neither the cache nor the upstream has it.
func (c *Cache) Get(ctx context.Context, info BlobInfo) (*os.File, error) {
	log := klog.FromContext(ctx)

	if !ValidHash(info.Hash) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid blob hash %q", info.Hash)
	}

	localPath := filepath.Join(c.BaseDir, info.Hash)
	f, err := os.Open(localPath)
	if err == nil {
		return f, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("opening blob %q: %w", info.Hash, err)
	}

	if c.Upstream == nil {
		return nil, status.Errorf(codes.NotFound, "blob %q not found", info.Hash)
	}

	log.Info("blob not in cache, downloading", "hash", info.Hash)
	if err := c.Upstream.Download(ctx, info, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "blob %q not found", info.Hash)
		}
		return nil, fmt.Errorf("downloading blob %q: %w", info.Hash, err)
	}
	return os.Open(localPath)
}

// Handler serves GET /<hash> from a Cache.
type Handler struct {
	Cache *Cache
}

func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			s.serveGETBlob(w, r, tokens[0])
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Handler) serveGETBlob(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	f, err := s.Cache.Get(ctx, BlobInfo{Hash: hash})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			http.Error(w, "not found", http.StatusNotFound)
		case codes.InvalidArgument:
			http.Error(w, "bad request", http.StatusBadRequest)
		default:
			log.Error(err, "error getting blob", "hash", hash)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		log.Error(err, "stat of blob", "path", f.Name())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	klog.V(2).InfoS("serving blob", "path", f.Name(), "bytes", stat.Size())
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, hash, stat.ModTime(), f)
}
