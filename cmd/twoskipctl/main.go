// Command twoskipctl is a developer tool for inspecting and repairing
// twoskip database files: dump their live records, run the consistency
// check, force a checkpoint, or open an interactive shell.
//
// Reference: grounded on the teacher's cmd/ldb (a single Cobra binary
// with one subcommand per maintenance operation, sharing an --open flag
// set across subcommands).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aalhour/twoskipdb"
	"github.com/aalhour/twoskipdb/internal/valuecodec"
)

var (
	dbPath   string
	mboxSort bool
	sep      string
	compress = compressionFlag{typ: valuecodec.None}
)

// compressionFlag is a pflag.Value so --compression rejects anything but
// the four codecs valuecodec knows about, instead of silently falling
// back to "none" the way a plain StringVar would.
type compressionFlag struct{ typ valuecodec.Type }

func (c *compressionFlag) String() string { return c.typ.String() }

func (c *compressionFlag) Type() string { return "compression" }

func (c *compressionFlag) Set(s string) error {
	switch s {
	case "none", "":
		c.typ = valuecodec.None
	case "snappy":
		c.typ = valuecodec.Snappy
	case "zstd":
		c.typ = valuecodec.Zstd
	case "lz4":
		c.typ = valuecodec.LZ4
	default:
		return fmt.Errorf("unknown compression %q (want none, snappy, zstd, or lz4)", s)
	}
	return nil
}

var _ pflag.Value = (*compressionFlag)(nil)

func openDB(write bool) (*twoskip.DB, error) {
	opts := twoskip.DefaultOptions()
	if mboxSort {
		opts.Flags |= twoskip.FlagMboxSort
	}
	if sep != "" {
		opts.MailboxSeparator = sep[0]
	}
	if write {
		opts.Flags |= twoskip.FlagCreate
		opts.Compression = compress.typ
	}
	return twoskip.Open(dbPath, opts)
}

func main() {
	root := &cobra.Command{
		Use:   "twoskipctl",
		Short: "Inspect and repair twoskip database files",
	}
	root.PersistentFlags().StringVarP(&dbPath, "file", "f", "", "database file path (required)")
	root.PersistentFlags().BoolVar(&mboxSort, "mbox-sort", false, "use the mailbox-aware comparator")
	root.PersistentFlags().StringVar(&sep, "separator", ".", "mailbox hierarchy separator")
	root.PersistentFlags().Var(&compress, "compression", "value compression for newly written records: none, snappy, zstd, lz4")
	_ = root.MarkPersistentFlagRequired("file")

	root.AddCommand(dumpCmd(), checkCmd(), checkpointCmd(), replCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "twoskipctl:", err)
		os.Exit(1)
	}
}

func dumpCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every live key/value pair in ascending order",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(false)
			if err != nil {
				return err
			}
			defer db.Close()
			it := db.NewIterator([]byte(prefix))
			n := 0
			for it.Next() {
				fmt.Printf("%q = %q\n", it.Key(), it.Value())
				n++
			}
			if err := it.Err(); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d records\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only dump keys with this prefix")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the skip list's structural invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(false)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Check(); err != nil {
				return err
			}
			fmt.Println("consistent")
			return nil
		},
	}
}

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Force an online checkpoint regardless of the repack heuristic",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(true)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Checkpoint(); err != nil {
				return err
			}
			fmt.Println("checkpoint complete")
			return nil
		},
	}
}
