package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"photonix/internal/catalog"
	"photonix/internal/classify"
	"photonix/internal/queue"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Manage photo libraries and their classifiers",
	}
	libraryCmd.AddCommand(newLibraryAddCommand(ctx))
	libraryCmd.AddCommand(newLibraryListCommand(ctx))
	libraryCmd.AddCommand(newLibraryToggleCommand(ctx, "enable", true))
	libraryCmd.AddCommand(newLibraryToggleCommand(ctx, "disable", false))
	return libraryCmd
}

func newLibraryAddCommand(ctx *commandContext) *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := parseKindFlags(kinds)
			if err != nil {
				return err
			}
			return ctx.withStores(func(_ *queue.Store, cat *catalog.Store) error {
				lib, err := cat.CreateLibrary(cmd.Context(), args[0], flags)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created library %s (%s) with classifiers: %s\n", lib.Name, lib.ID, enabledKinds(lib))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "classifiers", kindNames(), "Classifier kinds to enable")
	return cmd
}

func newLibraryListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List libraries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(_ *queue.Store, cat *catalog.Store) error {
				libraries, err := cat.ListLibraries(cmd.Context())
				if err != nil {
					return err
				}
				if len(libraries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No libraries")
					return nil
				}
				rows := make([][]string, 0, len(libraries))
				for _, lib := range libraries {
					photos, err := cat.PhotoIDs(cmd.Context(), lib.ID)
					if err != nil {
						return err
					}
					rows = append(rows, []string{lib.Name, lib.ID, enabledKinds(lib), fmt.Sprintf("%d", len(photos))})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "ID", "Classifiers", "Photos"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newLibraryToggleCommand(ctx *commandContext, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <library> <kind>...",
		Short: fmt.Sprintf("%s classifier kinds for a library", strings.ToUpper(verb[:1])+verb[1:]),
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(_ *queue.Store, cat *catalog.Store) error {
				lib, err := cat.LibraryByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, raw := range args[1:] {
					kind, err := classify.ParseKind(raw)
					if err != nil {
						return err
					}
					if err := cat.SetClassifierEnabled(cmd.Context(), lib.ID, string(kind), enabled); err != nil {
						return err
					}
				}
				lib, err = cat.GetLibrary(cmd.Context(), lib.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Library %s classifiers: %s\n", lib.Name, enabledKinds(lib))
				return nil
			})
		},
	}
}

func parseKindFlags(values []string) (map[string]bool, error) {
	flags := make(map[string]bool, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		kind, err := classify.ParseKind(value)
		if err != nil {
			return nil, err
		}
		flags[string(kind)] = true
	}
	return flags, nil
}

func kindNames() []string {
	kinds := classify.Kinds()
	names := make([]string, len(kinds))
	for i, kind := range kinds {
		names[i] = string(kind)
	}
	return names
}

func enabledKinds(lib *catalog.Library) string {
	var names []string
	for kind, on := range lib.Classifiers {
		if on {
			names = append(names, kind)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	order := make(map[string]int, len(names))
	for i, name := range kindNames() {
		order[name] = i
	}
	sort.Slice(names, func(i, j int) bool { return order[names[i]] < order[names[j]] })
	return strings.Join(names, ", ")
}
