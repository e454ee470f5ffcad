package tf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/tfgraph/pkg/engine"
)

// SessionOptions configures a new Session. A nil *SessionOptions means the
// defaults.
type SessionOptions struct {
	// Target is the engine to connect to; empty runs in-process.
	Target string
	// Config is a serialized ConfigProto.
	Config []byte
	// StrictFeeds makes Run fail with ErrFeedNotFound when a feed key does
	// not name an operation, instead of ignoring that feed.
	StrictFeeds bool
}

func (o *SessionOptions) native() engine.SessionOptions {
	if o == nil {
		return engine.SessionOptions{}
	}
	return engine.SessionOptions{Target: o.Target, Config: o.Config}
}

// Session executes a Graph. A Session is not safe for concurrent use.
type Session struct {
	graph *Graph
	c     engine.Session

	strictFeeds bool
	closed      bool
}

// NewSession starts a session on g. The graph may keep growing afterwards.
func NewSession(g *Graph, opts *SessionOptions) (*Session, error) {
	if g.c == nil {
		return nil, status.Error(codes.FailedPrecondition, "graph has been closed")
	}
	c, err := g.engine.NewSession(g.c, opts.native())
	if err != nil {
		return nil, err
	}
	return &Session{graph: g, c: c, strictFeeds: opts != nil && opts.StrictFeeds}, nil
}

// Graph returns the graph the session runs.
func (s *Session) Graph() *Graph {
	return s.graph
}

// Run computes fetches and runs targets. Feed keys name an edge as "op" or
// "op:index"; the fed tensor replaces the value that edge would have had.
// Feeds are passed to the engine ordered by key. A key that names no
// operation is skipped unless the session has StrictFeeds set.
//
// The returned tensors, one per fetch, belong to the caller.
func (s *Session) Run(feeds map[string]*Tensor, fetches []Output, targets []*Operation) ([]*Tensor, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	keys := make([]string, 0, len(feeds))
	for k := range feeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	feedEdges := make([]engine.Output, 0, len(keys))
	feedValues := make([]engine.Tensor, 0, len(keys))
	for _, k := range keys {
		name, index := parseFeedKey(k)
		op := s.graph.Operation(name)
		if op == nil {
			if s.strictFeeds {
				return nil, fmt.Errorf("%w: %q", ErrFeedNotFound, k)
			}
			klog.V(2).InfoS("Ignoring feed for unknown operation", "feed", k)
			continue
		}
		out, err := op.Output(index).native(s.graph)
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", k, err)
		}
		c, err := feeds[k].native()
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", k, err)
		}
		feedEdges = append(feedEdges, out)
		feedValues = append(feedValues, c)
	}

	fetchEdges := make([]engine.Output, len(fetches))
	for i, f := range fetches {
		out, err := f.native(s.graph)
		if err != nil {
			return nil, fmt.Errorf("fetch %d: %w", i, err)
		}
		fetchEdges[i] = out
	}
	targetOps := make([]engine.Operation, len(targets))
	for i, op := range targets {
		if op == nil || op.graph != s.graph {
			return nil, status.Errorf(codes.InvalidArgument, "target %v is not in the session's graph", op)
		}
		targetOps[i] = op.c
	}

	klog.V(4).InfoS("Running session", "feeds", len(feedEdges), "fetches", len(fetchEdges), "targets", len(targetOps))
	results, err := s.c.Run(feedEdges, feedValues, fetchEdges, targetOps)
	if err != nil {
		return nil, err
	}
	out := make([]*Tensor, len(results))
	for i, r := range results {
		out[i] = newTensorFromNative(s.graph.engine, r)
	}
	return out, nil
}

// RunOne runs the session for a single fetch.
func (s *Session) RunOne(feeds map[string]*Tensor, fetch Output) (*Tensor, error) {
	results, err := s.Run(feeds, []Output{fetch}, nil)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// parseFeedKey splits "name:index". A key without a numeric suffix names
// output 0.
func parseFeedKey(key string) (string, int) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return key, 0
	}
	index, err := strconv.Atoi(key[i+1:])
	if err != nil || index < 0 {
		return key, 0
	}
	return key[:i], index
}

// Device describes a device available to a session.
type Device struct {
	Name             string
	Type             string
	MemoryLimitBytes int64
}

// Devices lists the devices the session can place operations on.
func (s *Session) Devices() ([]Device, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	devices, err := s.c.ListDevices()
	if err != nil {
		return nil, err
	}
	out := make([]Device, len(devices))
	for i, d := range devices {
		out[i] = Device(d)
	}
	return out, nil
}

// Close closes and releases the session. Closing a closed session is a
// no-op. If the engine fails to close it, the error is returned and the
// session stays open.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if err := s.c.Close(); err != nil {
		return err
	}
	s.closed = true
	if err := s.c.Delete(); err != nil {
		return err
	}
	return nil
}

// SavedModel is a graph loaded from a SavedModel export together with the
// session that runs it.
type SavedModel struct {
	Session *Session
	Graph   *Graph
}

// LoadSavedModel loads the meta graph matching tags from exportDir on
// DefaultEngine.
func LoadSavedModel(exportDir string, tags []string, opts *SessionOptions) (*SavedModel, error) {
	return LoadSavedModelWithEngine(defaultEngine, exportDir, tags, opts)
}

func LoadSavedModelWithEngine(e engine.Engine, exportDir string, tags []string, opts *SessionOptions) (*SavedModel, error) {
	g := NewGraphWithEngine(e)
	c, err := e.LoadSessionFromSavedModel(opts.native(), exportDir, tags, g.c)
	if err != nil {
		g.Close()
		return nil, err
	}
	klog.V(2).InfoS("Loaded saved model", "dir", exportDir, "tags", tags, "operations", len(g.Operations()))
	s := &Session{graph: g, c: c, strictFeeds: opts != nil && opts.StrictFeeds}
	return &SavedModel{Session: s, Graph: g}, nil
}

// Close closes the session and then the graph.
func (m *SavedModel) Close() error {
	if err := m.Session.Close(); err != nil {
		return err
	}
	return m.Graph.Close()
}
