package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/app"
	"phaseline/internal/db"
	"phaseline/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Phaseline CLI",
	Long: `Phaseline moves learning projects through nine ordered phases.
Core concepts:
- Phases: ingest, analyze, design, develop, implement, evaluate, personalize, portal, govern.
  Each goes pending -> in_progress -> completed or skipped; a phase starts only after every
  earlier phase is completed or skipped. Ingest can never be skipped.
- Records: the data each phase owns (content, analysis, design, generation, implementation,
  analytics, governance). Completing ingest, analyze, design, develop, implement, evaluate or
  govern requires its record.
- Artifacts: ids of courses, learning paths and assessments the project produced.
- Approvals: governance stages decided strictly in order.
- Audit log: every change, view with 'pl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PHASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("org", "default", "organization id")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("actor-name", "", "actor display name")
	flags.String("actor-role", "", "actor role")
	for _, name := range []string{"workspace", "json", "org", "actor-id", "actor-name", "actor-role"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(artifactCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func orgID() string {
	return viper.GetString("org")
}

func actor() domain.Actor {
	return domain.Actor{
		ID:   viper.GetString("actor-id"),
		Name: viper.GetString("actor-name"),
		Role: viper.GetString("actor-role"),
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProject(p domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	fmt.Printf("%s  %s  [%s]  current=%s  version=%d\n", p.ID, p.Name, p.Status, p.CurrentPhase, p.Version)
	return printPhases(p)
}

func printPhases(p domain.Project) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Phase", "Status", "Started", "Completed"})
	for i, ph := range domain.Phases {
		st := p.Phase(ph)
		marker := ""
		if ph == p.CurrentPhase {
			marker = "*"
		}
		tw.AppendRow(table.Row{i + 1, ph.Title() + marker, st.Status, deref(st.StartedAt), deref(st.CompletedAt)})
	}
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

// readJSONArg returns inline JSON, the contents of a file, or stdin for "-".
func readJSONArg(data, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, fmt.Errorf("--data or --file required")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("input is not valid JSON")
	}
	return raw, nil
}
