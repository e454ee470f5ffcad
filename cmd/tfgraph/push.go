package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tfgraph/pkg/blobs"
	"k8s.io/examples/AI/tfgraph/pkg/tf"
)

type pushOptions struct {
	bucket string
	prefix string
}

func newPushCommand() *cobra.Command {
	o := &pushOptions{bucket: os.Getenv("CACHE_BUCKET")}
	cmd := &cobra.Command{
		Use:   "push <graph.pb>",
		Short: "Upload a serialized graph to GCS under its sha256 hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&o.bucket, "bucket", o.bucket, "destination bucket, gs://<bucketName> (default $CACHE_BUCKET)")
	cmd.Flags().StringVar(&o.prefix, "prefix", o.prefix, "prefix for object keys")
	return cmd
}

func (o *pushOptions) run(cmd *cobra.Command, graphPath string) error {
	ctx := cmd.Context()
	log := klog.FromContext(ctx)

	if !strings.HasPrefix(o.bucket, "gs://") {
		return fmt.Errorf("--bucket must be a GCS bucket URL (gs://<bucketName>)")
	}

	// Refuse to publish something that does not import.
	f, err := os.Open(graphPath)
	if err != nil {
		return fmt.Errorf("opening graph: %w", err)
	}
	g := tf.NewGraph()
	err = g.ImportFrom(f, "")
	f.Close()
	ops := len(g.Operations())
	g.Close()
	if err != nil {
		return fmt.Errorf("%q is not a valid graph: %w", graphPath, err)
	}

	info, err := blobs.HashFile(graphPath)
	if err != nil {
		return err
	}

	store := &blobs.GCSBlobstore{
		Bucket: strings.TrimPrefix(o.bucket, "gs://"),
		Prefix: o.prefix,
	}
	log.Info("pushing graph", "path", graphPath, "operations", ops, "hash", info.Hash)
	if err := store.Upload(ctx, graphPath, info); err != nil {
		return fmt.Errorf("uploading graph: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), info.Hash)
	return err
}
