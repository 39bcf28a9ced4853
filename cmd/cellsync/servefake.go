package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reactive-notebook/cellsync/internal/fakeserver"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

var serveFakeCmd = &cobra.Command{
	Use:     "serve-fake",
	GroupID: "advanced",
	Short:   "Run an in-memory notebook server for development",
	Long: `Start an in-memory notebook server that speaks the same REST and websocket
protocol as the real one. Script cells "run" by echoing their code; sql cells
fail until a database is connected.

Example usage:
  cellsync serve-fake                          # empty notebook on :8000
  cellsync serve-fake --notebook demo.py       # seed from a percent-cell file
  cellsync watch --server http://127.0.0.1:8000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		nb, _ := cmd.Flags().GetString("notebook")

		var cells []notebook.Cell
		if nb != "" {
			var err error
			if cells, err = notebook.ReadFile(nb); err != nil {
				return err
			}
		}

		server := fakeserver.New(&fakeserver.Config{
			Addr:   addr,
			Cells:  cells,
			Logger: opts.logger("fakeserver"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start fake server: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Fake notebook server started on %s with %d cells\n", server.URL(), len(cells))
		fmt.Fprintf(out, "WebSocket endpoint: %s\n", server.WebSocketURL())
		fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

		<-cmd.Context().Done()

		fmt.Fprintln(out, "\nShutting down fake server...")
		if err := server.Stop(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Fake server stopped")
		return nil
	},
}

func init() {
	serveFakeCmd.Flags().String("addr", "127.0.0.1:8000", "address to listen on")
	serveFakeCmd.Flags().String("notebook", "", "percent-cell file to seed the notebook from")
	rootCmd.AddCommand(serveFakeCmd)
}
