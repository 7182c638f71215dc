package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/tandem/internal/config"
	"github.com/mpataki/tandem/internal/logger"
	_ "github.com/mpataki/tandem/internal/lua"
	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/observer"
	"github.com/mpataki/tandem/internal/profile"
	"github.com/mpataki/tandem/internal/protocol"
	"github.com/mpataki/tandem/internal/storage"
	"github.com/mpataki/tandem/internal/tui"
	"github.com/mpataki/tandem/internal/workspace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "tandem",
		Short:        "Two-agent pair-programming orchestrator",
		Long:         "Tandem pairs two model workers as driver and navigator: joint planning, reviewed rounds, role swaps and a joint sign-off.",
		SilenceUsage: true,
		RunE:         runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newJournalCommand())
	rootCmd.AddCommand(newProfilesCommand())
	rootCmd.AddCommand(newDeleteCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what every command needs: resolved config, a logger and the run store.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *storage.Storage
}

func openEnv() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{cfg: cfg, logger: logger.New(cfg.LogLevel, cfg.LogFormat), store: store}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

// deleteRun removes the run's workspace and then its records.
func (e *env) deleteRun(id int64) error {
	run, err := e.store.GetRun(id)
	if err != nil {
		return err
	}
	if run.Status == models.RunStatusRunning {
		return fmt.Errorf("run %d is still running", id)
	}

	if ws, err := workspace.Open(e.cfg.WorkspacesDir(), id); err == nil {
		if err := ws.Remove(); err != nil {
			return err
		}
	}
	return e.store.DeleteRun(id)
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	app := tui.NewApp(e.store, e.deleteRun)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run ID: %w", err)
	}
	return id, nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status, rounds and contribution shares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			run, err := e.store.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run #%d: %s (%s)\n", run.ID, run.ProfileName, run.Strategy)
			fmt.Fprintf(out, "Status: %s\n", run.Status)
			fmt.Fprintf(out, "Task: %s\n", run.Task)
			fmt.Fprintf(out, "Workspace: %s\n", run.WorkspacePath)
			if run.CurrentDriver != "" {
				fmt.Fprintf(out, "Driver: %s\n", run.CurrentDriver)
			}
			if run.Verdict != "" {
				fmt.Fprintf(out, "Verdict: %s\n", run.Verdict)
			}
			if run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", run.Error)
			}
			if run.EventsPath != "" {
				fmt.Fprintf(out, "Events: %s\n", run.EventsPath)
			}

			rounds, err := e.store.GetRounds(runID)
			if err != nil {
				return err
			}
			if len(rounds) > 0 {
				fmt.Fprintln(out, "\nRounds:")
				printRounds(out, rounds)
			}

			if run.ArtifactPath != "" {
				result, err := workspace.ReadArtifact(run.ArtifactPath)
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				printSummary(out, result.Summary)
			}

			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.store.ListRuns(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			for _, run := range runs {
				verdict := run.Verdict
				if verdict == "" {
					verdict = "-"
				}
				fmt.Fprintf(out, "#%d %s [%s] %s %s\n",
					run.ID, run.ProfileName, run.Status, verdict,
					truncate(run.Task, 50))
			}

			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	return cmd
}

func newJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal <run-id>",
		Short: "Print the shared journal of a run, or its event trail with --events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			events, _ := cmd.Flags().GetBool("events")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if events {
				run, err := e.store.GetRun(runID)
				if err != nil {
					return err
				}
				if run.EventsPath == "" {
					return fmt.Errorf("run %d has no event log", runID)
				}
				trail, err := observer.ReadEvents(run.EventsPath)
				if err != nil {
					return err
				}
				for _, ev := range trail {
					fmt.Fprintf(out, "%4d %s %-14s r%-2d %-2s %s\n",
						ev.Seq, ev.Time.Format("15:04:05"), ev.Type, ev.Round, ev.Agent, firstLine(ev.Message))
				}
				return nil
			}

			entries, err := e.store.GetJournal(runID)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "Journal is empty.")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintln(out, protocol.RenderEntry(entry))
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().Bool("events", false, "Replay the JSONL event trail instead of the journal")
	return cmd
}

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List available pairing profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}

			profiles, err := profile.LoadAll(cfg.ProfileDirs())
			if err != nil {
				return err
			}
			if _, ok := profiles[profile.DefaultName]; !ok {
				profiles[profile.DefaultName] = profile.Default()
			}

			out := cmd.OutOrStdout()
			for _, name := range profile.Names(profiles) {
				p := profiles[name]
				fmt.Fprintf(out, "%s", name)
				if p.Path != "" {
					fmt.Fprintf(out, " (%s)", p.Path)
				}
				fmt.Fprintln(out)
				if p.Description != "" {
					fmt.Fprintf(out, "  %s\n", p.Description)
				}
				if err := profile.Validate(p); err != nil {
					fmt.Fprintf(out, "  invalid: %v\n", err)
					continue
				}
				opts, _ := p.Options()
				fmt.Fprintf(out, "  %s, max %d rounds, %s drives first\n", opts.Strategy, opts.MaxRounds, opts.InitialDriver)
				fmt.Fprintf(out, "  pause: %s\n", opts.Pause.Describe())
				fmt.Fprintf(out, "  turn:  %s\n", opts.Turn.Describe())
			}
			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.deleteRun(runID); err != nil {
				if errors.Is(err, storage.ErrRunNotFound) {
					return err
				}
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run #%d\n", runID)
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
