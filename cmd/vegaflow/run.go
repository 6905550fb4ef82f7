package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/everydev1618/vegaflow/compiler"
	"github.com/everydev1618/vegaflow/dsl"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow document",
		Long: `Validate a workflow document: required fields, start and stop events,
identifier and version formats, steps bound to declared events, and that every
handler compiles as a single arrow function.`,
		Example: `  vegaflow validate greeter.json
  vegaflow validate pipeline.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := dsl.NewParser()
			p.Strict = true
			doc, err := p.ParseFile(args[0])
			if err != nil {
				return err
			}
			if _, err := compiler.New(nil, nil).CompileAll(doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d events, %d steps, %d tools, %d agents\n",
				doc.ID, len(doc.Events), len(doc.Steps), len(doc.Tools), len(doc.Agents))
			return nil
		},
	}
}

type runFlags struct {
	input   string
	context string
	echo    bool
	timeout time.Duration
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.input, "input", "", "start event data as a JSON object")
	cmd.Flags().StringVar(&f.context, "context", "", "initial shared context as a JSON object")
	cmd.Flags().BoolVar(&f.echo, "echo", false, "replace LLM agents with agents that echo their input")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "run timeout (default from config)")
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a workflow document",
		Example: `  vegaflow run greeter.json --input '{"input":"hi"}'
  vegaflow run pipeline.yaml --echo --timeout 30s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseObject("input", f.input)
			if err != nil {
				return err
			}
			seed, err := parseObject("context", f.context)
			if err != nil {
				return err
			}
			doc, err := dsl.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}

			svc, err := a.service(cmd.Context(), serviceOptions{store: true, echo: f.echo, timeout: f.timeout})
			if err != nil {
				return err
			}
			res, err := svc.CompileAndRun(cmd.Context(), doc, input, seed)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd)
	return cmd
}

func newGenerateCmd(a *app) *cobra.Command {
	var inputShape, outputShape, out string
	cmd := &cobra.Command{
		Use:   "generate <description>",
		Short: "Generate a workflow document from a description",
		Long: `Ask the configured model for a workflow document implementing the
description. The result is validated before it is printed or written.`,
		Example: `  vegaflow generate "summarize a URL" --input-shape '{"url":"string"}' --out summarize.json`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseShape(inputShape)
			if err != nil {
				return fmt.Errorf("--input-shape: %w", err)
			}
			outShape, err := parseShape(outputShape)
			if err != nil {
				return fmt.Errorf("--output-shape: %w", err)
			}

			svc, err := a.service(cmd.Context(), serviceOptions{})
			if err != nil {
				return err
			}
			doc, err := svc.GenerateDSL(cmd.Context(), strings.Join(args, " "), in, outShape)
			if err != nil {
				return err
			}

			if out == "" {
				return writeJSON(cmd.OutOrStdout(), doc)
			}
			data, err := encodeDocument(doc, out)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&inputShape, "input-shape", "", "shape of the start event data (JSON or text)")
	cmd.Flags().StringVar(&outputShape, "output-shape", "", "shape of the final output (JSON or text)")
	cmd.Flags().StringVar(&out, "out", "", "write the document to this file (.json, .yaml, .yml)")
	return cmd
}

// parseObject decodes a JSON object flag. An empty value yields nil.
func parseObject(flag, s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return m, nil
}

// parseShape accepts a JSON value or, failing that, free text.
func parseShape(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			return nil, err
		}
		return s, nil
	}
	return v, nil
}

func encodeDocument(doc *dsl.Workflow, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(doc)
	default:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
