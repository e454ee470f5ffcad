package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tfgraph/pkg/tf"
)

// graphSource is where a command reads its graph from: a serialized
// GraphDef named on the command line, or a SavedModel directory.
type graphSource struct {
	savedModel string
	tags       []string
}

func (s *graphSource) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.savedModel, "saved-model", s.savedModel, "load the graph from this SavedModel directory instead of a GraphDef file")
	fs.StringSliceVar(&s.tags, "tags", []string{"serve"}, "tags of the meta graph to load from the SavedModel")
}

type loadedGraph struct {
	graph   *tf.Graph
	session *tf.Session
}

func (l *loadedGraph) Close() error {
	if l.session != nil {
		if err := l.session.Close(); err != nil {
			return err
		}
	}
	return l.graph.Close()
}

// load reads the graph and, if opts is not nil, starts a session on it.
func (s *graphSource) load(ctx context.Context, args []string, opts *tf.SessionOptions) (*loadedGraph, error) {
	log := klog.FromContext(ctx)

	if s.savedModel != "" {
		if len(args) != 0 {
			return nil, fmt.Errorf("cannot use both --saved-model and a graph file")
		}
		model, err := tf.LoadSavedModel(s.savedModel, s.tags, opts)
		if err != nil {
			return nil, fmt.Errorf("loading saved model %q: %w", s.savedModel, err)
		}
		log.V(2).Info("loaded saved model", "dir", s.savedModel, "tags", s.tags)
		return &loadedGraph{graph: model.Graph, session: model.Session}, nil
	}

	if len(args) != 1 {
		return nil, fmt.Errorf("expected a single graph file, or --saved-model")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("opening graph: %w", err)
	}
	defer f.Close()

	g := tf.NewGraph()
	if err := g.ImportFrom(f, ""); err != nil {
		g.Close()
		return nil, fmt.Errorf("importing %q: %w", args[0], err)
	}
	loaded := &loadedGraph{graph: g}
	if opts != nil {
		sess, err := tf.NewSession(g, opts)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("creating session: %w", err)
		}
		loaded.session = sess
	}
	return loaded, nil
}
