// Command lanterncli is a small operational tool over a lantern database
// file: info, get, compact, and destroy, following the cobra-based
// subcommand layout the retrieval pack's CLI-carrying repos use rather
// than a hand-rolled flag.FlagSet switch.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.lanterndb.dev/lantern"
)

var (
	dbDir  string
	dbName string
)

func main() {
	root := &cobra.Command{
		Use:   "lanterncli",
		Short: "Inspect and maintain lantern document databases",
	}
	root.PersistentFlags().StringVar(&dbDir, "dir", ".", "directory containing the database file")
	root.PersistentFlags().StringVar(&dbName, "db", "", "database name (required)")
	root.MarkPersistentFlagRequired("db")

	root.AddCommand(infoCmd(), getCmd(), compactCmd(), destroyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*lantern.Database, error) {
	return lantern.Open(lantern.Options{
		Name:            dbName,
		Dir:             dbDir,
		CreateIfMissing: false,
		Logger:          zap.NewNop(),
	})
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print database identity and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			info, err := db.Info()
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
}

func getCmd() *cobra.Command {
	var rev string
	var includeRevs bool
	c := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one document by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			doc, err := db.Get(args[0], lantern.GetOptions{Rev: rev, Revs: includeRevs, Conflicts: true})
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}
	c.Flags().StringVar(&rev, "rev", "", "specific revision to fetch")
	c.Flags().BoolVar(&includeRevs, "revs", false, "include revision history")
	return c
}

func compactCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "compact <id> <rev>...",
		Short: "Reclaim the given revisions of one document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Compact(args[0], lantern.CompactOptions{RevsToRemove: args[1:]})
		},
	}
	return c
}

func destroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Remove the database's on-disk state entirely",
		RunE: func(cmd *cobra.Command, args []string) error {
			return lantern.Destroy(lantern.Options{Name: dbName, Dir: dbDir})
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
