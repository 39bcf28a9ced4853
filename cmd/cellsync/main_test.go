package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/reactive-notebook/cellsync/internal/command"
	"github.com/reactive-notebook/cellsync/internal/fakeserver"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

var seedCells = []notebook.Cell{
	{ID: "a", Kind: notebook.KindScript, Code: "x = 1"},
	{ID: "b", Kind: notebook.KindQuery, Code: "SELECT * FROM t", As: "df"},
}

func startFake(t *testing.T, cells ...notebook.Cell) *fakeserver.Server {
	t.Helper()
	s := fakeserver.New(&fakeserver.Config{Cells: cells, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), args...)
}

func executeContext(ctx context.Context, args ...string) (string, error) {
	resetCommands(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// resetCommands restores every flag in the tree to its default and drops
// the context cobra copied into subcommands on the previous execution.
func resetCommands(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	cmd.SetContext(nil)
	for _, sub := range cmd.Commands() {
		resetCommands(sub)
	}
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "cellsync", rootCmd.Use)

	for _, name := range []string{"watch", "cells", "new", "rm", "run", "run-all", "reset", "save", "export", "db", "config", "serve-fake"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := rootCmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	server := rootCmd.PersistentFlags().Lookup("server")
	require.NotNil(t, server)
	assert.Equal(t, defaultServer, server.DefValue)
}

func TestCells_Formats(t *testing.T) {
	s := startFake(t, seedCells...)

	out, err := execute(t, "cells", "--server", s.URL(), "--format", "json")
	require.NoError(t, err)
	var got []cellRow
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, cellRow{Index: 1, ID: "a", Kind: notebook.KindScript, Status: notebook.StatusIdle, Code: "x = 1"}, got[0])
	assert.Equal(t, "df", got[1].As)

	out, err = execute(t, "cells", "--server", s.URL(), "--format", "yaml")
	require.NoError(t, err)
	got = nil
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, notebook.KindQuery, got[1].Kind)

	out, err = execute(t, "cells", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "x = 1")
	assert.Contains(t, out, "SELECT * FROM t → df")

	_, err = execute(t, "cells", "--server", s.URL(), "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestCells_Empty(t *testing.T) {
	s := startFake(t)
	out, err := execute(t, "cells", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "No cells")
}

func TestNewRunRm(t *testing.T) {
	s := startFake(t, seedCells...)

	out, err := execute(t, "new", "--server", s.URL(), "--first", "--code", "y = 2")
	require.NoError(t, err)
	assert.Contains(t, out, "Created python cell")
	cells := s.Cells()
	require.Len(t, cells, 3)
	assert.Equal(t, "y = 2", cells[0].Code)

	_, err = execute(t, "new", "--server", s.URL(), "--first", "--after", "a")
	assert.ErrorContains(t, err, "mutually exclusive")
	_, err = execute(t, "new", "--server", s.URL(), "--type", "rust")
	assert.ErrorContains(t, err, "unknown cell kind")

	out, err = execute(t, "run", "a", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "a success")

	out, err = execute(t, "run", "b", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "b error: No database connection configured")

	out, err = execute(t, "run-all", "--server", s.URL())
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "\n"))

	out, err = execute(t, "rm", "a", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted a")
	assert.Len(t, s.Cells(), 2)

	_, err = execute(t, "run", "a", "--server", s.URL())
	assert.ErrorIs(t, err, command.ErrNotFound)
}

func TestResetAndSave(t *testing.T) {
	s := startFake(t, seedCells...)

	out, err := execute(t, "save", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "Saved")
	assert.Equal(t, 1, s.Saves())

	out, err = execute(t, "reset", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "Reset")
}

func TestDB(t *testing.T) {
	s := startFake(t, seedCells...)

	out, err := execute(t, "db", "status", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "No database connection")

	_, err = execute(t, "db", "connect", "postgresql://localhost/analytics", "--server", s.URL())
	require.NoError(t, err)

	out, err = execute(t, "db", "status", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "Database connected")

	out, err = execute(t, "run", "b", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "b success")

	_, err = execute(t, "db", "disconnect", "--server", s.URL())
	require.NoError(t, err)
	out, err = execute(t, "db", "status", "--server", s.URL())
	require.NoError(t, err)
	assert.Contains(t, out, "No database connection")
}

func TestExport(t *testing.T) {
	s := startFake(t, seedCells...)

	out, err := execute(t, "export", "--server", s.URL())
	require.NoError(t, err)
	assert.Equal(t, "# %% [id: a]\nx = 1\n\n# %% [id: b, type: sql, as: df]\nSELECT * FROM t\n", out)

	path := filepath.Join(t.TempDir(), "nb", "notebook.py")
	_, err = execute(t, "export", path, "--server", s.URL())
	require.NoError(t, err)
	cells, err := notebook.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, seedCells, cells)
}

func TestConfigInitAndShow(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote cellsync.toml")

	var fc fileConfig
	_, err = toml.DecodeFile("cellsync.toml", &fc)
	require.NoError(t, err)
	assert.Equal(t, defaultServer, fc.Server)
	assert.Equal(t, "1s", fc.Debounce)
	assert.Equal(t, "200ms", fc.BlurGrace)
	assert.Equal(t, defaultDrafts, fc.Drafts)

	_, err = execute(t, "config", "init")
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "config", "init", "--force")
	assert.NoError(t, err)

	// file, then env, then flag
	fc.Server = "http://file:1"
	fc.Debounce = "250ms"
	f, err := os.Create("cellsync.toml")
	require.NoError(t, err)
	require.NoError(t, toml.NewEncoder(f).Encode(fc))
	require.NoError(t, f.Close())

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `server = "http://file:1"`)
	assert.Contains(t, out, `debounce = "250ms"`)

	t.Setenv("CELLSYNC_SERVER", "http://env:2")
	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `server = "http://env:2"`)

	out, err = execute(t, "config", "show", "--server", "http://flag:3")
	require.NoError(t, err)
	assert.Contains(t, out, `server = "http://flag:3"`)

	_, err = execute(t, "config", "show", "--config", "missing.toml")
	assert.ErrorContains(t, err, "failed to read config")
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		server, ws, want string
		wantErr          bool
	}{
		{server: "http://localhost:8000", want: "ws://localhost:8000/ws"},
		{server: "https://nb.example.com/api/", want: "wss://nb.example.com/api/ws"},
		{server: "http://localhost:8000", ws: "ws://elsewhere/push", want: "ws://elsewhere/push"},
		{server: "ftp://localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.server+tt.ws, func(t *testing.T) {
			resetCommands(rootCmd)
			o := &rootOptions{}
			require.NoError(t, o.load(rootCmd))
			o.v.Set(keyServer, tt.server)
			o.v.Set(keyWebSocket, tt.ws)

			got, err := websocketURL(o.v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWatch_SyncsFileEdits(t *testing.T) {
	s := startFake(t, seedCells...)
	dir := filepath.Join(t.TempDir(), "cells")
	draftsPath := filepath.Join(t.TempDir(), "drafts.db")
	t.Setenv("CELLSYNC_DEBOUNCE", "50ms")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := executeContext(ctx, "watch", "--server", s.URL(), "--dir", dir, "--drafts", draftsPath, "--no-input")
		done <- result{out, err}
	}()

	file := filepath.Join(dir, "001-a.py")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(file)
		return err == nil && string(data) == "x = 1\n"
	}, 5*time.Second, 20*time.Millisecond)
	assert.FileExists(t, filepath.Join(dir, "002-b.sql"))

	require.NoError(t, os.WriteFile(file, []byte("x = 2\n"), 0644))
	require.Eventually(t, func() bool {
		cells := s.Cells()
		return len(cells) == 2 && cells[0].Code == "x = 2"
	}, 5*time.Second, 20*time.Millisecond)

	// a server-side edit to a cell nobody is editing lands in its file
	require.True(t, s.SetCode("b", "SELECT 2"))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "002-b.sql"))
		return err == nil && string(data) == "SELECT 2\n"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Contains(t, r.out, "Watching "+dir)
		assert.Contains(t, r.out, "Stopped")
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
}
