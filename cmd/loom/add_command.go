package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/catalog"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var title string
	var prompt string
	var style string

	cmd := &cobra.Command{
		Use:   "add <entity-id>",
		Short: "Register a new track in the catalog",
		Long: `Add registers an entity with every stage pending, so the next run
generates its music, artwork, and video. The id doubles as the artifact
file stem. Without --title a display title is derived from the id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("entity id must not be empty")
			}
			if strings.ContainsAny(id, "/\\") {
				return fmt.Errorf("entity id %q must not contain path separators", id)
			}

			return ctx.withRuntime(func(rt *runtime) error {
				if _, err := rt.store.Get(id); err == nil {
					return fmt.Errorf("entity %q already exists", id)
				} else if !errors.Is(err, catalog.ErrNotFound) {
					return err
				}

				resolvedTitle := strings.TrimSpace(title)
				if resolvedTitle == "" {
					resolvedTitle = deriveTitle(id)
				}
				entity, err := rt.store.Upsert(id, func(e *catalog.Entity) error {
					e.Title = resolvedTitle
					e.Prompt = strings.TrimSpace(prompt)
					e.Style = strings.TrimSpace(style)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", entity.ID, entity.DisplayName())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title (derived from the id when omitted)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Generation prompt passed to the music service")
	cmd.Flags().StringVar(&style, "style", "", "Style tags passed to the music service")
	return cmd
}
