package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jacentio/tendril/di"
	"github.com/jacentio/tendril/kv"
	"github.com/jacentio/tendril/store"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "inspect <key>",
		Short:   "Print the hash stored at a key",
		Example: "  tendril inspect persons:2f1c",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(s kv.Store) error {
				h, err := s.HGetAll(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(h) == 0 {
					return fmt.Errorf("no hash at %s", args[0])
				}
				printHash(cmd.OutOrStdout(), h)
				return nil
			})
		},
	}
}

func newKeysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [prefix]",
		Short: "List keys, optionally starting with a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return a.withBackend(cmd.Context(), func(s kv.Store) error {
				keys, err := s.Keys(cmd.Context(), prefix)
				if err != nil {
					return err
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "find <keyspace> <field> <value>",
		Short:   "Print the ids of entities whose indexed field equals value",
		Example: "  tendril find persons lastname stark",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := di.New(ctx, a.config, di.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer c.Close()

			found, err := c.Store.FindByIndex(ctx, args[0], args[1], args[2], store.WithDepth(0))
			if err != nil {
				return err
			}
			for _, e := range found {
				fmt.Fprintln(cmd.OutOrStdout(), e.EntityID())
			}
			return nil
		},
	}
}

func (a *app) withBackend(ctx context.Context, fn func(kv.Store) error) error {
	s, err := di.OpenBackend(ctx, a.config.Store)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printHash(w io.Writer, h kv.Hash) {
	fields := make([]string, 0, len(h))
	for f := range h {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(w, "%s\t%s\n", f, h[f])
	}
}
