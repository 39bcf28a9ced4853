package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/reactive-notebook/cellsync/internal/cellsync"
	"github.com/reactive-notebook/cellsync/internal/notebook"
)

// controls is the part of *cellsync.Session the console drives.
type controls interface {
	Focus(id string)
	Blur(id string)
	Save(id string)
	SyncPending(id string)
	RunCell(id string)
	RunAll()
	RunFocusedAndAdvance()
	NewCellBelow(kind notebook.Kind)
	DeleteCell(id string)
	SetAutoRun(on bool)
	Reset()
	SaveNotebook()
	ConfigureDatabase(connString string)
	Snapshot() cellsync.Snapshot
}

const consoleHelp = `Commands:
  run <id>        flush and run a cell
  next            run the focused cell and focus the next one
  all             run every cell
  save [id]       flush a cell now, or save the notebook
  sync <id>       take the server version withheld while editing
  new [sql]       add a cell below the focused one
  rm <id>         delete a cell
  focus <id>      focus a cell
  blur <id>       end editing of a cell
  auto on|off     run cells after each save
  reset           clear all results
  db <conn>       connect the server to a database
  status          show every cell
  quit            stop watching
`

// console reads line commands and forwards them to the session.
type console struct {
	ctl controls
	out io.Writer
}

// run reads commands until EOF or quit. It reports whether quit was typed.
func (c *console) run(in io.Reader) bool {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if c.exec(scanner.Text()) {
			return true
		}
	}
	return false
}

// exec runs one command line and reports whether it asked to quit.
func (c *console) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]

	needID := func() (string, bool) {
		if len(args) != 1 {
			fmt.Fprintf(c.out, "%s usage: %s <id>\n", renderWarn("⚠"), name)
			return "", false
		}
		return args[0], true
	}

	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		fmt.Fprint(c.out, consoleHelp)
	case "run":
		if id, ok := needID(); ok {
			c.ctl.RunCell(id)
		}
	case "next":
		c.ctl.RunFocusedAndAdvance()
	case "all", "run-all":
		c.ctl.RunAll()
	case "save":
		if len(args) == 0 {
			c.ctl.SaveNotebook()
		} else if id, ok := needID(); ok {
			c.ctl.Save(id)
		}
	case "sync":
		if id, ok := needID(); ok {
			c.ctl.SyncPending(id)
		}
	case "new":
		kind := notebook.KindScript
		if len(args) > 0 {
			k, err := notebook.ParseKind(args[0])
			if err != nil {
				fmt.Fprintf(c.out, "%s %v\n", renderWarn("⚠"), err)
				return false
			}
			kind = k
		}
		c.ctl.NewCellBelow(kind)
	case "rm", "delete":
		if id, ok := needID(); ok {
			c.ctl.DeleteCell(id)
		}
	case "focus":
		if id, ok := needID(); ok {
			c.ctl.Focus(id)
		}
	case "blur":
		if id, ok := needID(); ok {
			c.ctl.Blur(id)
		}
	case "auto":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			fmt.Fprintf(c.out, "%s usage: auto on|off\n", renderWarn("⚠"))
			return false
		}
		c.ctl.SetAutoRun(args[0] == "on")
	case "reset":
		c.ctl.Reset()
	case "db":
		if len(args) == 0 {
			fmt.Fprintf(c.out, "%s usage: db <connection-string>\n", renderWarn("⚠"))
			return false
		}
		c.ctl.ConfigureDatabase(strings.Join(args, " "))
	case "status":
		printSnapshot(c.out, c.ctl.Snapshot())
	default:
		fmt.Fprintf(c.out, "%s unknown command %q (type 'help')\n", renderWarn("⚠"), name)
	}
	return false
}
