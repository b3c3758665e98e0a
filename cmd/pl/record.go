package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/app"
	"phaseline/internal/domain"
)

func recordCmd() *cobra.Command {
	rec := &cobra.Command{
		Use:   "record",
		Short: "Manage phase records",
		Long:  "Record kinds: content, analysis, design, generation, implementation, analytics, governance. Bodies are the records' JSON documents.",
	}
	rec.AddCommand(recordListCmd())
	rec.AddCommand(recordCreateCmd())
	rec.AddCommand(recordPatchCmd())
	return rec
}

func recordListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id> <kind>",
		Short: "List records of one kind",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRecordKind(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListRecords(ctx, orgID(), args[0], kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Version", "Updated", "Summary"})
				for _, raw := range items {
					var meta domain.RecordMeta
					_ = json.Unmarshal(raw, &meta)
					tw.AppendRow(table.Row{meta.ID, meta.Version, meta.UpdatedAt, summarize(raw)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// summarize picks the first descriptive field of a record document.
func summarize(raw json.RawMessage) string {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	for _, key := range []string{"file_name", "title", "status"} {
		if v, ok := doc[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func recordCreateCmd() *cobra.Command {
	var data, file string
	cmd := &cobra.Command{
		Use:   "create <project-id> <kind>",
		Short: "Create a record from a JSON document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRecordKind(args[1])
			if err != nil {
				return err
			}
			body, err := readJSONArg(data, file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.CreateRecord(ctx, orgID(), args[0], actor(), kind, body)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "record JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read record JSON from file (- for stdin)")
	return cmd
}

func recordPatchCmd() *cobra.Command {
	var data, file string
	var version int
	cmd := &cobra.Command{
		Use:   "patch <project-id> <kind> <record-id>",
		Short: "Merge top-level fields into a record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRecordKind(args[1])
			if err != nil {
				return err
			}
			patch, err := readJSONArg(data, file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.PatchRecord(ctx, orgID(), args[0], kind, args[2], version, patch, actor())
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "patch JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read patch JSON from file (- for stdin)")
	cmd.Flags().IntVar(&version, "version", 0, "expected record version (0 skips the check)")
	return cmd
}

func approvalCmd() *cobra.Command {
	ap := &cobra.Command{
		Use:   "approval",
		Short: "Govern-phase approval stages",
	}
	ap.AddCommand(approvalStatusCmd())
	ap.AddCommand(approvalAddStageCmd())
	ap.AddCommand(approvalRemoveStageCmd())
	ap.AddCommand(approvalDecideCmd("approve", true))
	ap.AddCommand(approvalDecideCmd("reject", false))
	return ap
}

func printGovernance(g domain.Governance) error {
	if viper.GetBool("json") {
		return printJSON(g)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Order", "Stage", "ID", "Status", "Roles", "Approver", "Decided"})
	for _, s := range g.Approval.Stages {
		tw.AppendRow(table.Row{s.Order, s.Name, s.ID, s.Status, strings.Join(s.RequiredRoles, ","), s.ApproverID, deref(s.DecidedAt)})
	}
	tw.Render()
	switch {
	case g.Approval.Satisfied():
		fmt.Println("approval satisfied")
	case g.Approval.Halted():
		fmt.Println("approval halted by a rejection")
	}
	return nil
}

func approvalStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show approval stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := a.Engine.GetGovernance(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				return printGovernance(g)
			})
		},
	}
}

func approvalAddStageCmd() *cobra.Command {
	var name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "add-stage <project-id>",
		Short: "Append a pending approval stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := a.Engine.GetGovernance(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				g, err = a.Engine.AddApprovalStage(ctx, g, domain.ApprovalStage{Name: name, RequiredRoles: roles}, actor())
				if err != nil {
					return err
				}
				return printGovernance(g)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "stage name")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role allowed to decide the stage (repeatable)")
	return cmd
}

func approvalRemoveStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-stage <project-id> <stage-id>",
		Short: "Remove a pending approval stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := a.Engine.GetGovernance(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				g, err = a.Engine.RemoveApprovalStage(ctx, g, args[1], actor())
				if err != nil {
					return err
				}
				return printGovernance(g)
			})
		},
	}
}

func approvalDecideCmd(use string, approve bool) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   use + " <project-id> <stage-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " an approval stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				g, err := a.Engine.GetGovernance(ctx, orgID(), args[0])
				if err != nil {
					return err
				}
				if approve {
					g, err = a.Engine.ApproveStage(ctx, g, args[1], actor(), notes)
				} else {
					g, err = a.Engine.RejectStage(ctx, g, args[1], actor(), notes)
				}
				if err != nil {
					return err
				}
				return printGovernance(g)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "decision notes")
	return cmd
}
