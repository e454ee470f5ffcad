package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tfgraph/pkg/blobs"
)

type serveOptions struct {
	listen      string
	cacheDir    string
	cacheBucket string
}

func newServeCommand() *cobra.Command {
	o := &serveOptions{
		listen: ":8080",
		// We expect CACHE_DIR to be set when running on kubernetes, but default sensibly for local dev
		cacheDir:    envOr("CACHE_DIR", "~/.cache/tfgraph/blobs"),
		cacheBucket: os.Getenv("CACHE_BUCKET"),
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cached graph blobs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			handler, err := o.handler(cmd.Context())
			if err != nil {
				return err
			}
			klog.Infof("serving on %q", o.listen)
			if err := http.ListenAndServe(o.listen, handler); err != nil {
				return fmt.Errorf("serving on %q: %w", o.listen, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&o.listen, "listen", o.listen, "listen address")
	cmd.Flags().StringVar(&o.cacheDir, "cache-dir", o.cacheDir, "cache directory (default $CACHE_DIR)")
	cmd.Flags().StringVar(&o.cacheBucket, "cache-bucket", o.cacheBucket, "GCS bucket to fill the cache from, gs://<bucketName> (default $CACHE_BUCKET)")
	return cmd
}

func (o *serveOptions) handler(ctx context.Context) (http.Handler, error) {
	log := klog.FromContext(ctx)

	cacheDir, err := expandHome(o.cacheDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	cache := &blobs.Cache{BaseDir: cacheDir}
	switch {
	case o.cacheBucket == "":
		log.Info("no cache bucket, serving only local blobs", "dir", cacheDir)
	case strings.HasPrefix(o.cacheBucket, "gs://"):
		bucket := strings.TrimPrefix(o.cacheBucket, "gs://")
		log.Info("using GCS cache", "bucket", bucket)
		cache.Upstream = &blobs.GCSBlobstore{Bucket: bucket}
	default:
		return nil, fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
	}
	return &blobs.Handler{Cache: cache}, nil
}
