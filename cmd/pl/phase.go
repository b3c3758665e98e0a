package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"phaseline/internal/app"
	"phaseline/internal/domain"
)

func phaseCmd() *cobra.Command {
	ph := &cobra.Command{
		Use:   "phase",
		Short: "Move a project through its phases",
		Long:  "Phases run in a fixed order: " + phaseNames() + ".",
	}
	ph.AddCommand(phaseListCmd())
	ph.AddCommand(phaseStartCmd())
	ph.AddCommand(phaseCompleteCmd())
	ph.AddCommand(phaseSkipCmd())
	return ph
}

func phaseNames() string {
	var s string
	for i, p := range domain.Phases {
		if i > 0 {
			s += ", "
		}
		s += string(p)
	}
	return s
}

// withPhase loads the project and parses the phase argument.
func withPhase(cmd *cobra.Command, args []string, fn func(context.Context, *app.App, domain.Project, domain.Phase) (domain.Project, error)) error {
	phase, err := domain.ParsePhase(args[1])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		p, err := a.Engine.GetProject(ctx, orgID(), args[0])
		if err != nil {
			return err
		}
		p, err = fn(ctx, a, p, phase)
		if err != nil {
			return err
		}
		return printProject(p)
	})
}

func phaseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "Show phase states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
}

func phaseStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <project-id> <phase>",
		Short: "Start a phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPhase(cmd, args, func(ctx context.Context, a *app.App, p domain.Project, ph domain.Phase) (domain.Project, error) {
				return a.Engine.StartPhase(ctx, p, actor(), ph)
			})
		},
	}
}

func phaseCompleteCmd() *cobra.Command {
	var data, file string
	cmd := &cobra.Command{
		Use:   "complete <project-id> <phase>",
		Short: "Complete a phase, optionally storing a JSON object as its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var output json.RawMessage
			if data != "" || file != "" {
				raw, err := readJSONArg(data, file)
				if err != nil {
					return err
				}
				output = raw
			}
			return withPhase(cmd, args, func(ctx context.Context, a *app.App, p domain.Project, ph domain.Phase) (domain.Project, error) {
				return a.Engine.CompletePhase(ctx, p, actor(), ph, output)
			})
		},
	}
	cmd.Flags().StringVar(&data, "output", "", "phase output as a JSON object")
	cmd.Flags().StringVar(&file, "output-file", "", "read phase output from file (- for stdin)")
	return cmd
}

func phaseSkipCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <project-id> <phase>",
		Short: "Skip a phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPhase(cmd, args, func(ctx context.Context, a *app.App, p domain.Project, ph domain.Phase) (domain.Project, error) {
				return a.Engine.SkipPhase(ctx, p, actor(), ph, reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the phase is skipped")
	return cmd
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{
		Use:   "artifact",
		Short: "Link courses, learning paths and assessments to a project",
	}
	art.AddCommand(artifactEditCmd("link", "Link an artifact"))
	art.AddCommand(artifactEditCmd("unlink", "Unlink an artifact"))
	art.AddCommand(artifactReconcileCmd())
	return art
}

func artifactEditCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id> <course|learning_path|assessment> <artifact-id>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseArtifactKind(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				if use == "link" {
					p, err = a.Engine.LinkArtifact(ctx, p, actor(), kind, args[2])
				} else {
					p, err = a.Engine.UnlinkArtifact(ctx, p, actor(), kind, args[2])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"project_id":                p.ID,
					"version":                   p.Version,
					"created_course_ids":        p.CreatedCourseIDs,
					"created_learning_path_ids": p.CreatedLearningPathIDs,
					"created_assessment_ids":    p.CreatedAssessmentIDs,
				})
			})
		},
	}
}

func artifactReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <project-id> <develop|implement>",
		Short: "Re-collect artifact ids from the develop or implement records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPhase(cmd, args, func(ctx context.Context, a *app.App, p domain.Project, ph domain.Phase) (domain.Project, error) {
				return a.Engine.Reconcile(ctx, p, actor(), ph)
			})
		},
	}
}
