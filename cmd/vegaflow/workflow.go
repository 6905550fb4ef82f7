package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/everydev1618/vegaflow/dsl"
)

func newWorkflowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage stored workflows",
	}
	cmd.AddCommand(
		newWorkflowSaveCmd(a),
		newWorkflowListCmd(a),
		newWorkflowShowCmd(a),
		newWorkflowDeleteCmd(a),
		newWorkflowExecCmd(a),
	)
	return cmd
}

func newWorkflowSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <file>",
		Short: "Validate and store a workflow document",
		Long: `Validate a workflow document and store it under its id. Saving a document
with an existing id replaces it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := dsl.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), serviceOptions{store: true})
			if err != nil {
				return err
			}
			if err := svc.SaveWorkflow(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", doc.ID)
			return nil
		},
	}
}

func newWorkflowListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context(), serviceOptions{store: true})
			if err != nil {
				return err
			}
			list, err := svc.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workflows stored.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUPDATED")
			for _, wf := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", wf.ID, wf.Name, wf.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newWorkflowShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored workflow document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), serviceOptions{store: true})
			if err != nil {
				return err
			}
			doc, err := svc.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func newWorkflowDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), serviceOptions{store: true})
			if err != nil {
				return err
			}
			if err := svc.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newWorkflowExecCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:     "exec <id>",
		Short:   "Run a stored workflow",
		Example: `  vegaflow workflow exec greeter --input '{"input":"hi"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseObject("input", f.input)
			if err != nil {
				return err
			}
			seed, err := parseObject("context", f.context)
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), serviceOptions{store: true, echo: f.echo, timeout: f.timeout})
			if err != nil {
				return err
			}
			res, err := svc.Execute(cmd.Context(), args[0], input, seed)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd)
	return cmd
}
