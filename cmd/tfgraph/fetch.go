package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tfgraph/pkg/blobs"
)

type fetchOptions struct {
	blobserver    string
	attempts      int
	retryInterval time.Duration
}

func newFetchCommand() *cobra.Command {
	o := &fetchOptions{
		blobserver:    envOr("TFGRAPH_BLOBSERVER", "http://blobserver"),
		attempts:      5,
		retryInterval: 5 * time.Second,
	}
	cmd := &cobra.Command{
		Use:   "fetch <hash> <dest>",
		Short: "Download a graph from the blob server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(o.blobserver)
			if err != nil {
				return fmt.Errorf("parsing blobserver url %q: %w", o.blobserver, err)
			}
			loader := &GraphLoader{
				reader:              &blobs.BlobServer{BlobserverURL: u},
				maxDownloadAttempts: o.attempts,
				retryInterval:       o.retryInterval,
			}
			if err := loader.downloadToFile(cmd.Context(), blobs.BlobInfo{Hash: args[0]}, args[1]); err != nil {
				return fmt.Errorf("downloading graph: %w", err)
			}
			klog.Infof("graph downloaded to %q", args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&o.blobserver, "blobserver", o.blobserver, "base url to blobserver (default $TFGRAPH_BLOBSERVER)")
	cmd.Flags().IntVar(&o.attempts, "attempts", o.attempts, "number of download attempts")
	cmd.Flags().DurationVar(&o.retryInterval, "retry-interval", o.retryInterval, "wait between download attempts")
	return cmd
}

type GraphLoader struct {
	// reader is the interface to fetch blobs
	reader blobs.BlobReader

	// maxDownloadAttempts is the number of times to attempt a download before failing
	maxDownloadAttempts int
	retryInterval       time.Duration
}

// downloadToFile retries failed downloads, except for blobs that do not
// exist.
func (l *GraphLoader) downloadToFile(ctx context.Context, info blobs.BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	attempt := 0
	for {
		attempt++

		err := l.reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}

		if attempt >= l.maxDownloadAttempts || errors.Is(err, os.ErrNotExist) {
			return err
		}

		log.Error(err, "downloading blob, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}
