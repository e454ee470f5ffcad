package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// GCSBlobstore keeps graph blobs in a GCS bucket, one object per hash.
type GCSBlobstore struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "graphs/".
	Prefix string
}

var _ Blobstore = (*GCSBlobstore)(nil)

func (s *GCSBlobstore) objectKey(info BlobInfo) string {
	return s.Prefix + info.Hash
}

func (s *GCSBlobstore) url(info BlobInfo) string {
	return "gs://" + s.Bucket + "/" + s.objectKey(info)
}

func (s *GCSBlobstore) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	if !ValidHash(info.Hash) {
		return fmt.Errorf("invalid blob hash %q", info.Hash)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	gcsURL := s.url(info)

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	obj := client.Bucket(s.Bucket).Object(s.objectKey(info))
	if _, err := obj.Attrs(ctx); err == nil {
		log.Info("graph already exists in GCS", "url", gcsURL)
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("getting object attributes for %q: %w", gcsURL, err)
	}

	log.Info("uploading graph to GCS", "source", sourcePath, "destination", gcsURL)

	startedAt := time.Now()
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}

	log.Info("uploaded graph to GCS", "url", gcsURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

func (s *GCSBlobstore) Download(ctx context.Context, info BlobInfo, destinationPath string) error {
	log := klog.FromContext(ctx)

	gcsURL := s.url(info)

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.Info("downloading graph from GCS", "source", gcsURL, "destination", destinationPath)

	startedAt := time.Now()
	r, err := client.Bucket(s.Bucket).Object(s.objectKey(info)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("graph %q not found in GCS: %w", gcsURL, os.ErrNotExist)
		}
		return fmt.Errorf("opening object from GCS %q: %w", gcsURL, err)
	}
	defer r.Close()

	n, err := writeToFile(ctx, r, info, destinationPath)
	if err != nil {
		return fmt.Errorf("downloading from GCS: %w", err)
	}

	log.Info("downloaded graph from GCS", "source", gcsURL, "destination", destinationPath, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

// writeToFile copies src into destinationPath through a temp file in the
// same directory, so readers never see a partial blob. The content must hash
// to info.Hash.
func writeToFile(ctx context.Context, src io.Reader, info BlobInfo, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destinationPath)
	tempFile, err := os.CreateTemp(dir, "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	hasher := newHashingWriter(tempFile)
	n, err := io.Copy(hasher, src)
	if err != nil {
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}
	if got := hasher.info(); got.Hash != info.Hash {
		return n, fmt.Errorf("downloaded content has hash %s, expected %s", got.Hash, info.Hash)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
