package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// withApp resolves config, opens the database and hands the wired app to fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
	a, err := openApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date (%s)\n",
					color.New(color.FgGreen).Sprint("✓"), a.cfg.DatabaseDriver)
				return nil
			})
		},
	}
}

func listsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Show every list, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				lists, err := a.matrix.AllLists(ctx)
				if err != nil {
					return err
				}
				if len(lists) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgYellow).Sprint("no lists"))
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "LIST\tUPDATED\tACTIVE\tDONE\tAXES")
				for _, l := range lists {
					items, err := a.matrix.ListItems(ctx, l.ListID)
					if err != nil {
						return err
					}
					active, done := 0, 0
					for _, it := range items {
						if it.Completed {
							done++
						} else {
							active++
						}
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s / %s\n",
						color.New(color.FgCyan).Sprint(l.ListID), l.LastUpdated.Format(time.DateTime),
						active, done, l.XAxisLabel, l.YAxisLabel)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d lists\n", len(lists), a.cfg.MaxLists)
				return nil
			})
		},
	}
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Evict the least recently updated lists above max_lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				evicted, err := a.matrix.PruneLists(cmd.Context())
				if err != nil {
					return err
				}
				if len(evicted) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgGreen).Sprint("nothing to prune"))
					return nil
				}
				for _, id := range evicted {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgRed).Sprint("DELETE"), id)
				}
				return nil
			})
		},
	}
}

func showCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "show <list-id>",
		Short: "Render a list as a priority matrix in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				l, err := a.matrix.GetList(ctx, args[0])
				if err != nil {
					return fmt.Errorf("list %s: %w", args[0], err)
				}
				items, err := a.matrix.ListItems(ctx, l.ListID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), RenderMatrix(l, items, width))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 80, "total width of the grid")
	return cmd
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or restore the whole database",
	}
	cmd.AddCommand(backupExportCmd())
	cmd.AddCommand(backupImportCmd())
	return cmd
}

func backupExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a full snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				b, err := a.matrix.ExportAll(cmd.Context())
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(b); err != nil {
					return err
				}
				if out != "" && out != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %d lists, %d items -> %s\n",
						color.New(color.FgGreen).Sprint("exported"), len(b.Lists), len(b.TodoItems), out)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func backupImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all data with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			b, err := DecodeBackup(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return withApp(cmd, func(a *app) error {
				if err := a.matrix.ImportAll(cmd.Context(), b); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d lists, %d items\n",
					color.New(color.FgGreen).Sprint("restored"), len(b.Lists), len(b.TodoItems))
				return nil
			})
		},
	}
}

func importFileCmd() *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "import-file <data.json>",
		Short: "Import the legacy flat-file document into the database",
		Long: `Reads a data.json written by the old file storage and inserts every list
with a fresh list id. The source file is copied to <file>.backup.<unix-ms> first
unless --keep is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			raw, err := os.ReadFile(src)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				lists, err := a.matrix.ImportLegacy(cmd.Context(), raw)
				if err != nil {
					return err
				}
				for _, l := range lists {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("CREATE"), l.ListID)
				}
				if keep {
					return nil
				}
				backup := fmt.Sprintf("%s.backup.%d", src, time.Now().UnixMilli())
				if err := os.WriteFile(backup, raw, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "original saved to %s\n", backup)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "do not write a backup copy of the source file")
	return cmd
}

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as backup_token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok := strings.TrimSpace(args[0])
			if len(tok) < 12 {
				return fmt.Errorf("token must be at least 12 characters")
			}
			h, err := bcrypt.GenerateFromPassword([]byte(tok), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(h))
			return nil
		},
	}
}
