package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"photonix/internal/catalog"
	"photonix/internal/queue"
	"photonix/internal/workflow"
)

func newPhotoCommand(ctx *commandContext) *cobra.Command {
	photoCmd := &cobra.Command{
		Use:   "photo",
		Short: "Register photos and inspect their tags",
	}
	photoCmd.AddCommand(newPhotoAddCommand(ctx))
	photoCmd.AddCommand(newPhotoTagsCommand(ctx))
	photoCmd.AddCommand(newPhotoReprocessCommand(ctx))
	return photoCmd
}

func newPhotoAddCommand(ctx *commandContext) *cobra.Command {
	var (
		libraryName string
		takenRaw    string
		latitude    float64
		longitude   float64
	)
	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Register photo files and start their pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(libraryName) == "" {
				return fmt.Errorf("--library is required")
			}
			var takenAt *time.Time
			if strings.TrimSpace(takenRaw) != "" {
				parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(takenRaw))
				if err != nil {
					return fmt.Errorf("parse --taken: %w", err)
				}
				takenAt = &parsed
			}
			var lat, lon *float64
			if cmd.Flags().Changed("lat") != cmd.Flags().Changed("lon") {
				return fmt.Errorf("--lat and --lon must be given together")
			}
			if cmd.Flags().Changed("lat") {
				lat, lon = &latitude, &longitude
			}

			return ctx.withDispatcher(func(d *workflow.Dispatcher, store *queue.Store, cat *catalog.Store) error {
				lib, err := cat.LibraryByName(cmd.Context(), libraryName)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, arg := range args {
					path, err := filepath.Abs(arg)
					if err != nil {
						return fmt.Errorf("resolve %s: %w", arg, err)
					}
					info, err := os.Stat(path)
					if err != nil {
						return fmt.Errorf("stat %s: %w", arg, err)
					}
					if info.IsDir() {
						return fmt.Errorf("%s is a directory", arg)
					}
					photo, task, err := d.AddPhoto(cmd.Context(), catalog.NewPhoto{
						LibraryID: lib.ID,
						Path:      path,
						Bytes:     info.Size(),
						TakenAt:   takenAt,
						Latitude:  lat,
						Longitude: lon,
					})
					if err != nil {
						return err
					}
					status := "queued"
					if current, err := store.Get(cmd.Context(), task.ID); err == nil {
						status = current.Status.String()
					}
					fmt.Fprintf(out, "Added %s as photo %s (pipeline %s)\n", filepath.Base(path), photo.ID, status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&libraryName, "library", "l", "", "Library to add photos to")
	cmd.Flags().StringVar(&takenRaw, "taken", "", "Capture time (RFC3339)")
	cmd.Flags().Float64Var(&latitude, "lat", 0, "Capture latitude")
	cmd.Flags().Float64Var(&longitude, "lon", 0, "Capture longitude")
	return cmd
}

func newPhotoTagsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <photo-id>",
		Short: "List tags attached to a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(_ *queue.Store, cat *catalog.Store) error {
				if _, err := cat.GetPhoto(cmd.Context(), args[0]); err != nil {
					return err
				}
				tags, err := cat.PhotoTags(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(tags) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tags")
					return nil
				}
				rows := make([][]string, 0, len(tags))
				for _, tag := range tags {
					name := catalog.DisplayName(tag.Name)
					if tag.Parent != "" {
						name = catalog.DisplayName(tag.Parent) + " / " + name
					}
					rows = append(rows, []string{
						tag.Type.String(),
						name,
						tag.Source,
						fmt.Sprintf("%.3f", tag.Confidence),
						fmt.Sprintf("%.3f", tag.Significance),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Type", "Tag", "Source", "Confidence", "Significance"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newPhotoReprocessCommand(ctx *commandContext) *cobra.Command {
	var libraryName string
	cmd := &cobra.Command{
		Use:   "reprocess [photo-id]...",
		Short: "Restart the pipeline for photos or a whole library",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && strings.TrimSpace(libraryName) == "" {
				return fmt.Errorf("pass photo ids or --library")
			}
			return ctx.withDispatcher(func(d *workflow.Dispatcher, _ *queue.Store, cat *catalog.Store) error {
				ids := append([]string(nil), args...)
				if strings.TrimSpace(libraryName) != "" {
					lib, err := cat.LibraryByName(cmd.Context(), libraryName)
					if err != nil {
						return err
					}
					libraryIDs, err := cat.PhotoIDs(cmd.Context(), lib.ID)
					if err != nil {
						return err
					}
					ids = append(ids, libraryIDs...)
				}
				count := 0
				for _, id := range ids {
					photo, err := cat.GetPhoto(cmd.Context(), id)
					if err != nil {
						return err
					}
					if _, err := d.OnSubjectCreated(cmd.Context(), photo.ID, photo.LibraryID); err != nil {
						return err
					}
					count++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %d photo(s) for processing\n", count)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&libraryName, "library", "l", "", "Reprocess every photo in this library")
	return cmd
}
