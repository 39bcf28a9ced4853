package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reactive-notebook/cellsync/internal/cellsync"
	"github.com/reactive-notebook/cellsync/internal/command"
	"github.com/reactive-notebook/cellsync/internal/drafts"
	"github.com/reactive-notebook/cellsync/internal/mirror"
	"github.com/reactive-notebook/cellsync/internal/transport"
)

var (
	_ cellsync.Editor     = (*mirror.Mirror)(nil)
	_ cellsync.Commands   = (*command.Client)(nil)
	_ cellsync.DraftStore = (*drafts.Store)(nil)
	_ cellsync.View       = (*statusView)(nil)
	_ transport.Handler   = (*cellsync.Session)(nil)
	_ mirror.Inputs       = (*cellsync.Session)(nil)
	_ controls            = (*cellsync.Session)(nil)
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Mirror cells into a directory and keep them in sync",
	Long: `Mirror every cell into one file per cell (NNN-<id>.py or NNN-<id>.sql) and
keep the files in sync with the notebook server.

Saving a file counts as editing its cell. Edits are sent to the server after
one second without changes. While a cell is being edited, server changes to
it are held back and announced; type 'sync <id>' to take them. Unsaved edits
are journaled to a local drafts database and restored after a restart.

Type 'help' for the commands accepted on stdin.

Example usage:
  cellsync watch                                   # ./cells, server on :8000
  cellsync watch --dir notebook --auto-run
  cellsync watch --server https://nb.example.com --drafts ''`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("dir", defaultCellDir, "directory to mirror cells into")
	watchCmd.Flags().String("drafts", defaultDrafts, "drafts database path ('' disables drafts)")
	watchCmd.Flags().String("websocket", "", "push channel URL (default: derived from --server)")
	watchCmd.Flags().Bool("auto-run", false, "run a cell after each debounced save")
	watchCmd.Flags().Bool("no-input", false, "do not read commands from stdin")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	noInput, _ := cmd.Flags().GetBool("no-input")
	v := opts.v
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	wsURL, err := websocketURL(v)
	if err != nil {
		return err
	}
	client, err := opts.commands()
	if err != nil {
		return err
	}

	config := &cellsync.Config{
		DebounceInterval: v.GetDuration(keyDebounce),
		BlurGrace:        v.GetDuration(keyBlurGrace),
		AutoRun:          v.GetBool(keyAutoRun),
		Scheduler:        cellsync.RealScheduler,
		Logger:           opts.logger("session"),
	}
	if path := v.GetString(keyDrafts); path != "" {
		store, err := drafts.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		config.Drafts = store
	}

	files, err := mirror.New(&mirror.Config{
		Dir:         v.GetString(keyDir),
		IdleTimeout: v.GetDuration(keyIdle),
		Logger:      opts.logger("mirror"),
	})
	if err != nil {
		return err
	}

	out := &syncWriter{w: cmd.OutOrStdout()}
	session, err := cellsync.NewWithConfig(files, newStatusView(out), client, config)
	if err != nil {
		return err
	}

	push, err := transport.New(&transport.Config{
		URL:               wsURL,
		ReconnectDelay:    v.GetDuration(keyReconnect),
		HeartbeatInterval: v.GetDuration(keyHeartbeat),
		Logger:            opts.logger("transport"),
	}, session)
	if err != nil {
		return err
	}

	if err := files.Start(session); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return session.Run(gctx) })
	g.Go(func() error { return push.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return files.Stop()
	})

	fmt.Fprintf(out, "Watching %s\n", files.Dir())
	fmt.Fprintf(out, "Server: %s\n", client.BaseURL())
	fmt.Fprintf(out, "Push channel: %s\n", wsURL)

	if !noInput {
		fmt.Fprintln(out, "Type 'help' for commands, Ctrl+C to stop")
		// not part of the group: a read from stdin cannot be interrupted
		go func() {
			c := &console{ctl: session, out: out}
			if c.run(cmd.InOrStdin()) {
				cancel()
			}
		}()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "Stopped")
	return nil
}
