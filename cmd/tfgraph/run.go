package main

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tfgraph/pkg/tf"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type runOptions struct {
	source      graphSource
	feeds       []string
	fetches     []string
	targets     []string
	strictFeeds bool
}

func newRunCommand() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [graph.pb]",
		Short: "Run a graph and print the fetched tensors as JSON",
		Example: `  tfgraph run add.pb --feed 'x=[1,2,3]' --fetch sum
  tfgraph run --saved-model ./export --feed x=42 --fetch Add:0`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args)
		},
	}
	o.source.addFlags(cmd.Flags())
	cmd.Flags().StringArrayVar(&o.feeds, "feed", nil, "feed an edge, as name[:index]=JSON; repeatable")
	cmd.Flags().StringArrayVar(&o.fetches, "fetch", nil, "edge to fetch, as name[:index]; repeatable")
	cmd.Flags().StringArrayVar(&o.targets, "target", nil, "operation to run without fetching; repeatable")
	cmd.Flags().BoolVar(&o.strictFeeds, "strict-feeds", false, "fail on feeds that name no operation instead of ignoring them")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	loaded, err := o.source.load(cmd.Context(), args, &tf.SessionOptions{StrictFeeds: o.strictFeeds})
	if err != nil {
		return err
	}
	defer loaded.Close()
	g := loaded.graph

	feeds, err := parseFeeds(g, o.feeds)
	if err != nil {
		return err
	}
	defer func() {
		for _, t := range feeds {
			t.Close()
		}
	}()

	fetches := make([]tf.Output, len(o.fetches))
	for i, f := range o.fetches {
		out, err := lookupOutput(g, f)
		if err != nil {
			return fmt.Errorf("--fetch %q: %w", f, err)
		}
		fetches[i] = out
	}
	targets := make([]*tf.Operation, len(o.targets))
	for i, name := range o.targets {
		op := g.Operation(name)
		if op == nil {
			return fmt.Errorf("--target %q: no such operation", name)
		}
		targets[i] = op
	}

	results, err := loaded.session.Run(feeds, fetches, targets)
	if err != nil {
		return fmt.Errorf("running graph (%v): %w", tf.Code(err), err)
	}
	defer func() {
		for _, t := range results {
			t.Close()
		}
	}()
	return printResults(cmd.OutOrStdout(), o.fetches, results)
}

// splitEdge splits "name:index"; a missing index means 0.
func splitEdge(s string) (string, int, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return s, 0, nil
	}
	index, err := strconv.Atoi(s[i+1:])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("invalid output index in %q", s)
	}
	return s[:i], index, nil
}

func lookupOutput(g *tf.Graph, s string) (tf.Output, error) {
	name, index, err := splitEdge(s)
	if err != nil {
		return tf.Output{}, err
	}
	op := g.Operation(name)
	if op == nil {
		return tf.Output{}, fmt.Errorf("no such operation %q", name)
	}
	if index >= op.NumOutputs() {
		return tf.Output{}, fmt.Errorf("operation %q has %d outputs", name, op.NumOutputs())
	}
	return op.Output(index), nil
}

// parseFeeds turns name=JSON flags into tensors of the fed edge's type. A
// feed for an unknown operation is passed through as-is, typed by its JSON
// value, and the session decides what to do with it.
func parseFeeds(g *tf.Graph, flags []string) (map[string]*tf.Tensor, error) {
	feeds := make(map[string]*tf.Tensor, len(flags))
	for _, f := range flags {
		key, raw, ok := strings.Cut(f, "=")
		if !ok {
			closeAll(feeds)
			return nil, fmt.Errorf("--feed %q: expected name=JSON", f)
		}
		var value any
		if err := json.UnmarshalFromString(raw, &value); err != nil {
			closeAll(feeds)
			return nil, fmt.Errorf("--feed %q: parsing value: %w", key, err)
		}

		var opts []tf.TensorOption
		if out, err := lookupOutput(g, key); err == nil {
			opts = append(opts, tf.WithDataType(out.DataType()))
		} else {
			klog.V(2).InfoS("Feed does not name an edge of the graph", "feed", key, "err", err)
		}
		t, err := tf.NewTensor(value, opts...)
		if err != nil {
			closeAll(feeds)
			return nil, fmt.Errorf("--feed %q: %w", key, err)
		}
		if old, dup := feeds[key]; dup {
			old.Close()
		}
		feeds[key] = t
	}
	return feeds, nil
}

func closeAll(tensors map[string]*tf.Tensor) {
	for _, t := range tensors {
		t.Close()
	}
}

func printResults(w io.Writer, names []string, results []*tf.Tensor) error {
	out := make(map[string]any, len(results))
	for i, t := range results {
		v, err := t.Value()
		if err != nil {
			return fmt.Errorf("decoding %q: %w", names[i], err)
		}
		out[names[i]] = widenBytes(v)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

// widenBytes replaces every []uint8 in a decoded tensor value with []int,
// so that uint8 tensors print as numbers rather than base64.
func widenBytes(v any) any {
	switch x := v.(type) {
	case []uint8:
		out := make([]int, len(x))
		for i, b := range x {
			out[i] = int(b)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() != reflect.Slice {
		return v
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = widenBytes(rv.Index(i).Interface())
	}
	return out
}
