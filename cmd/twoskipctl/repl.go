package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aalhour/twoskipdb"
)

// replCmd opens an interactive line-edited shell over a database,
// supporting get/put/del/dump/check/checkpoint commands.
//
// Reference: grounded on calvinalkan-agent-task's use of
// github.com/peterh/liner for a history-and-completion-backed REPL.
func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive shell over a database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(true)
			if err != nil {
				return err
			}
			defer db.Close()
			return runRepl(db)
		},
	}
}

func runRepl(db *twoskip.DB) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("twoskip> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if err := dispatch(db, input); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func dispatch(db *twoskip.DB, input string) error {
	fields := strings.Fields(input)
	cmdName, rest := fields[0], fields[1:]
	switch cmdName {
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("usage: get <key>")
		}
		val, err := db.Fetch([]byte(rest[0]))
		if err != nil {
			return err
		}
		fmt.Printf("%q\n", val)
	case "put":
		if len(rest) != 2 {
			return fmt.Errorf("usage: put <key> <value>")
		}
		return db.Store([]byte(rest[0]), []byte(rest[1]), true)
	case "del":
		if len(rest) != 1 {
			return fmt.Errorf("usage: del <key>")
		}
		return db.Delete([]byte(rest[0]), true)
	case "dump":
		it := db.NewIterator(nil)
		for it.Next() {
			fmt.Printf("%q = %q\n", it.Key(), it.Value())
		}
		return it.Err()
	case "check":
		return db.Check()
	case "checkpoint":
		return db.Checkpoint()
	case "quit", "exit":
		os.Exit(0)
	default:
		return fmt.Errorf("unknown command %q (try get/put/del/dump/check/checkpoint/quit)", cmdName)
	}
	return nil
}
