package blobs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// BlobServer reads graph blobs from a blob server over HTTP, as served by
// Handler.
type BlobServer struct {
	// BlobserverURL is the base URL to the blobserver, typically http://blobserver
	BlobserverURL *url.URL
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

var _ BlobReader = &BlobServer{}

func (l *BlobServer) Download(ctx context.Context, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	u := l.BlobserverURL.JoinPath(info.Hash).String()
	log.Info("downloading from url", "url", u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	httpClient := l.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	startedAt := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("blob %q not found: %w", info.Hash, os.ErrNotExist)
		}
		return fmt.Errorf("unexpected status downloading from %q: %v", u, resp.Status)
	}

	n, err := writeToFile(ctx, resp.Body, info, destPath)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", u, err)
	}

	log.Info("downloaded blob", "url", u, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
