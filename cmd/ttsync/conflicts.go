package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/conflict"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve stored sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		unresolved, err := a.engine.Conflicts().Unresolved(cmd.Context())
		if err != nil {
			return err
		}
		if len(unresolved) == 0 {
			fmt.Println(ui.Pass("no unresolved conflicts"))
			return nil
		}

		fmt.Println(ui.Title.Render(fmt.Sprintf("%d unresolved conflicts", len(unresolved))))
		for _, c := range unresolved {
			fmt.Println(ui.Bullet("%s  (detected %s)", c.ID, c.DetectedAt.Format("2006-01-02 15:04")))
			fmt.Println(ui.Dim.Render("    todoist: " + c.TodoistVersion.Title))
			fmt.Println(ui.Dim.Render("    things:  " + c.ThingsVersion.Title))
			if c.Suggested != "" {
				fmt.Println(ui.Accent.Render("    suggested: " + string(c.Suggested)))
			}
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve [conflict-id]",
	Short: "Resolve a stored conflict",
	Long: `Resolve a stored conflict by ID.

With --strategy, the given strategy is applied directly. Without it, an
interactive picker shows both versions and asks which resolution to
apply. Omitting the ID resolves interactively through all unresolved
conflicts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategyFlag, _ := cmd.Flags().GetString("strategy")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var targets []*conflict.Conflict
		if len(args) == 1 {
			c, err := a.engine.Conflicts().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c == nil {
				return fmt.Errorf("conflict %s not found (expired or resolved)", args[0])
			}
			targets = append(targets, c)
		} else {
			targets, err = a.engine.Conflicts().Unresolved(cmd.Context())
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Println(ui.Pass("no unresolved conflicts"))
				return nil
			}
		}

		for _, c := range targets {
			strategy := conflict.Strategy(strategyFlag)
			if strategyFlag == "" {
				strategy, err = pickStrategy(c)
				if err != nil {
					return err
				}
				if strategy == "" {
					fmt.Println(ui.Dim.Render("skipped " + c.ID))
					continue
				}
			}
			if !strategy.Valid() || strategy == conflict.StrategyManual {
				return fmt.Errorf("invalid resolution strategy %q", strategy)
			}

			resolution, err := a.engine.ResolveStoredConflict(cmd.Context(), c.ID, strategy)
			if err != nil {
				return err
			}
			fmt.Println(ui.Pass("resolved %s with %s: %q", c.ID, resolution.Applied, resolution.Task.Title))
		}
		return nil
	},
}

// pickStrategy shows an interactive chooser for one conflict. An empty
// return means the user skipped it.
func pickStrategy(c *conflict.Conflict) (conflict.Strategy, error) {
	var choice string

	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Conflict %s", c.ID)).
			Description(fmt.Sprintf("todoist: %q\nthings:  %q", c.TodoistVersion.Title, c.ThingsVersion.Title)).
			Options(
				huh.NewOption("Keep Todoist's version", string(conflict.StrategyTodoistWins)),
				huh.NewOption("Keep Things' version", string(conflict.StrategyThingsWins)),
				huh.NewOption("Keep the newest edit", string(conflict.StrategyNewestWins)),
				huh.NewOption("Merge both", string(conflict.StrategyMerge)),
				huh.NewOption("Skip for now", ""),
			).
			Value(&choice),
	))

	if err := form.Run(); err != nil {
		return "", err
	}
	return conflict.Strategy(choice), nil
}

func init() {
	conflictsResolveCmd.Flags().String("strategy", "", "Resolution strategy (todoist_wins, things_wins, newest_wins, merge)")
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
