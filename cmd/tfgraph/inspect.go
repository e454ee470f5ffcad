package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"k8s.io/examples/AI/tfgraph/pkg/tf"
)

type inspectOptions struct {
	source graphSource
	output string
}

func newInspectCommand() *cobra.Command {
	o := &inspectOptions{output: "text"}
	cmd := &cobra.Command{
		Use:   "inspect [graph.pb]",
		Short: "Print every operation of a graph with its edges",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := o.source.load(cmd.Context(), args, nil)
			if err != nil {
				return err
			}
			defer loaded.Close()
			return o.print(cmd.OutOrStdout(), describeGraph(loaded.graph))
		},
	}
	o.source.addFlags(cmd.Flags())
	cmd.Flags().StringVarP(&o.output, "output", "o", o.output, "output format, text or json")
	return cmd
}

type operationInfo struct {
	Name          string       `json:"name"`
	Type          string       `json:"type"`
	Device        string       `json:"device,omitempty"`
	Inputs        []inputInfo  `json:"inputs,omitempty"`
	Outputs       []outputInfo `json:"outputs,omitempty"`
	ControlInputs []string     `json:"controlInputs,omitempty"`
}

type inputInfo struct {
	Source   string `json:"source"`
	DataType string `json:"dtype"`
}

type outputInfo struct {
	DataType  string   `json:"dtype"`
	Shape     string   `json:"shape"`
	Consumers []string `json:"consumers,omitempty"`
}

func describeGraph(g *tf.Graph) []operationInfo {
	var infos []operationInfo
	for _, op := range g.Operations() {
		info := operationInfo{Name: op.Name(), Type: op.Type(), Device: op.Device()}
		for i := range op.NumInputs() {
			in := op.Input(i)
			info.Inputs = append(info.Inputs, inputInfo{
				Source:   in.Producer().String(),
				DataType: in.DataType().String(),
			})
		}
		for i := range op.NumOutputs() {
			out := op.Output(i)
			shape := "?"
			if s, err := out.Shape(); err == nil {
				shape = s.String()
			}
			o := outputInfo{DataType: out.DataType().String(), Shape: shape}
			for _, c := range out.Consumers() {
				o.Consumers = append(o.Consumers, fmt.Sprintf("%s:%d", c.Op.Name(), c.Index))
			}
			info.Outputs = append(info.Outputs, o)
		}
		for _, c := range op.ControlInputs() {
			info.ControlInputs = append(info.ControlInputs, c.Name())
		}
		infos = append(infos, info)
	}
	return infos
}

func (o *inspectOptions) print(w io.Writer, infos []operationInfo) error {
	switch o.output {
	case "json":
		b, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding operations: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}

	for _, info := range infos {
		fmt.Fprintf(w, "%s (%s)", info.Name, info.Type)
		if info.Device != "" {
			fmt.Fprintf(w, " on %s", info.Device)
		}
		fmt.Fprintln(w)
		for i, in := range info.Inputs {
			fmt.Fprintf(w, "  input %d: %s %s\n", i, in.Source, in.DataType)
		}
		for i, out := range info.Outputs {
			fmt.Fprintf(w, "  output %d: %s %s", i, out.DataType, out.Shape)
			if len(out.Consumers) > 0 {
				fmt.Fprintf(w, " -> %v", out.Consumers)
			}
			fmt.Fprintln(w)
		}
		for _, c := range info.ControlInputs {
			fmt.Fprintf(w, "  after ^%s\n", c)
		}
	}
	return nil
}
