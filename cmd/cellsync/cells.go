package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reactive-notebook/cellsync/internal/command"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

var validFormats = []string{"text", "json", "yaml"}

// cellRow is one line of `cellsync cells` output.
type cellRow struct {
	Index  int                `json:"index" yaml:"index"`
	ID     string             `json:"id" yaml:"id"`
	Kind   notebook.Kind      `json:"type" yaml:"type"`
	As     string             `json:"as,omitempty" yaml:"as,omitempty"`
	Status notebook.RunStatus `json:"status" yaml:"status"`
	Code   string             `json:"code" yaml:"code"`
	Error  string             `json:"error,omitempty" yaml:"error,omitempty"`
}

func rows(list *command.CellList) []cellRow {
	out := make([]cellRow, 0, len(list.Cells))
	for i, c := range list.Cells {
		row := cellRow{Index: i + 1, ID: c.ID, Kind: c.Kind, As: c.Binding(), Status: notebook.StatusIdle, Code: c.Code}
		if st, ok := list.States[c.ID]; ok {
			row.Status = st.Status
			if st.Error != nil {
				row.Error = *st.Error
			}
		}
		out = append(out, row)
	}
	return out
}

func printRows(w io.Writer, format string, rs []cellRow) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rs); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(rs) == 0 {
		fmt.Fprintln(w, renderMuted("No cells"))
		return nil
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("  %-3s %-10s %-7s %-8s %s", "#", "ID", "TYPE", "STATUS", "CODE")))
	for _, r := range rs {
		first, _, more := strings.Cut(r.Code, "\n")
		if more {
			first += " …"
		}
		if r.As != "" {
			first = fmt.Sprintf("%s → %s", first, r.As)
		}
		fmt.Fprintf(w, "%s %-3d %-10s %-7s %-8s %s\n", statusIcon(r.Status), r.Index, r.ID, r.Kind, r.Status, first)
		if r.Error != "" {
			fmt.Fprintf(w, "      %s\n", renderFail(r.Error))
		}
	}
	return nil
}

func printResults(w io.Writer, res *command.RunResult) {
	for _, st := range res.Results {
		line := fmt.Sprintf("%s %s %s", statusIcon(st.Status), st.CellID, st.Status)
		if st.Error != nil {
			line += ": " + *st.Error
		}
		if blocker, ok := st.Blocker(); ok {
			line += " (blocked by " + blocker + ")"
		}
		fmt.Fprintln(w, line)
	}
}

var cellsCmd = &cobra.Command{
	Use:     "cells",
	GroupID: "cells",
	Short:   "List cells and their run status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if !isValidFormat(format) {
			return fmt.Errorf("invalid format %q: must be one of %v", format, validFormats)
		}
		client, err := opts.commands()
		if err != nil {
			return err
		}
		list, err := client.ListCells(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list cells: %w", err)
		}
		return printRows(cmd.OutOrStdout(), format, rows(list))
	},
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

var newCmd = &cobra.Command{
	Use:     "new",
	GroupID: "cells",
	Short:   "Create a cell",
	Long: `Create a cell. Without --after or --first the cell is appended.

Example:
  cellsync new --code 'x = 1'
  cellsync new --type sql --as df --after 3f9a2c1b --code 'SELECT 1'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		code, _ := cmd.Flags().GetString("code")
		as, _ := cmd.Flags().GetString("as")
		after, _ := cmd.Flags().GetString("after")
		first, _ := cmd.Flags().GetBool("first")

		k, err := notebook.ParseKind(kind)
		if err != nil {
			return err
		}
		if first && after != "" {
			return fmt.Errorf("--first and --after are mutually exclusive")
		}
		req := command.CreateRequest{Kind: k, Code: code}
		if as != "" {
			req.As = command.String(as)
		}
		switch {
		case first:
			req.AfterID = command.String("")
		case after != "":
			req.AfterID = command.String(after)
		}

		client, err := opts.commands()
		if err != nil {
			return err
		}
		cell, err := client.CreateCell(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to create cell: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Created %s cell %s\n", renderPass("✓"), cell.Kind, cell.ID)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <cell-id>",
	GroupID: "cells",
	Short:   "Delete a cell",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := opts.commands()
		if err != nil {
			return err
		}
		res, err := client.DeleteCell(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to delete cell: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", renderPass("✓"), res.ID)
		if len(res.RemovedVariables) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "   Removed variables: %s\n", strings.Join(res.RemovedVariables, ", "))
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:     "run <cell-id>",
	GroupID: "cells",
	Short:   "Run a cell and its dependents",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := opts.commands()
		if err != nil {
			return err
		}
		res, err := client.RunCell(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to run cell: %w", err)
		}
		printResults(cmd.OutOrStdout(), res)
		return nil
	},
}

var runAllCmd = &cobra.Command{
	Use:     "run-all",
	GroupID: "cells",
	Short:   "Run every cell in order",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := opts.commands()
		if err != nil {
			return err
		}
		res, err := client.RunAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to run all cells: %w", err)
		}
		printResults(cmd.OutOrStdout(), res)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "cells",
	Short:   "Clear all run results and the kernel namespace",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := opts.commands()
		if err != nil {
			return err
		}
		if err := client.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Reset\n", renderPass("✓"))
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:     "save",
	GroupID: "cells",
	Short:   "Ask the server to write the notebook file",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := opts.commands()
		if err != nil {
			return err
		}
		if err := client.Save(cmd.Context()); err != nil {
			return fmt.Errorf("failed to save: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Saved\n", renderPass("✓"))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "cells",
	Short:   "Write the notebook in percent-cell format",
	Long: `Write every cell in percent-cell format ("# %% [id: ..., type: ...]"
markers) to file, or to stdout when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := opts.commands()
		if err != nil {
			return err
		}
		list, err := client.ListCells(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list cells: %w", err)
		}
		if len(args) == 0 {
			return notebook.Serialize(cmd.OutOrStdout(), list.Cells)
		}
		if err := notebook.WriteFile(args[0], list.Cells); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported %d cells to %s\n", renderPass("✓"), len(list.Cells), args[0])
		return nil
	},
}

func init() {
	cellsCmd.Flags().String("format", "text", "output format (text|json|yaml)")

	newCmd.Flags().StringP("type", "t", "python", "cell type (python|sql)")
	newCmd.Flags().StringP("code", "c", "", "initial code")
	newCmd.Flags().String("as", "", "result binding for sql cells")
	newCmd.Flags().String("after", "", "insert after this cell id")
	newCmd.Flags().Bool("first", false, "insert at the beginning")

	rootCmd.AddCommand(cellsCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runAllCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(exportCmd)
}
