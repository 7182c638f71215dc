package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpataki/tandem/internal/config"
	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/observer"
	"github.com/mpataki/tandem/internal/orchestrator"
	"github.com/mpataki/tandem/internal/profile"
	"github.com/mpataki/tandem/internal/storage"
	"github.com/mpataki/tandem/internal/telemetry"
	"github.com/mpataki/tandem/internal/worker"
	"github.com/mpataki/tandem/internal/workspace"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a pairing session on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profileName, _ := cmd.Flags().GetString("profile")
			repoPath, _ := cmd.Flags().GetString("repo")
			noObserve, _ := cmd.Flags().GetBool("no-observe")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			prof, err := profile.Lookup(e.cfg.ProfileDirs(), profileName)
			if err != nil {
				return err
			}
			if err := profile.Validate(prof); err != nil {
				return err
			}

			opts, err := applyOverrides(cmd, prof)
			if err != nil {
				return err
			}

			isolate := prof.Workspace.Isolate
			if cmd.Flags().Changed("isolate") {
				isolate, _ = cmd.Flags().GetBool("isolate")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := &runner{cfg: e.cfg, store: e.store, logger: e.logger, out: cmd.OutOrStdout()}
			run, _, err := r.execute(ctx, runRequest{
				Task:    args[0],
				Profile: prof,
				Options: opts,
				Repo:    repoPath,
				Isolate: isolate,
				Observe: e.cfg.Observe && !noObserve,
			})
			if err != nil {
				if run != nil && run.EventsPath != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Event log: %s\n", run.EventsPath)
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringP("profile", "p", "", "Pairing profile name (default: \"default\")")
	cmd.Flags().StringP("repo", "r", ".", "Source directory the workers operate on")
	cmd.Flags().Bool("isolate", false, "Work in a detached git worktree instead of the source directory")
	cmd.Flags().String("strategy", "", "Override the strategy (paired_turns, solo_driver_then_reviewer)")
	cmd.Flags().Int("max-rounds", 0, "Override the maximum number of rounds")
	cmd.Flags().String("initial-driver", "", "Override which agent drives first (A or B)")
	cmd.Flags().Bool("no-observe", false, "Do not write the on-disk event trail")
	return cmd
}

// applyOverrides layers explicit CLI flags on top of the profile's options.
func applyOverrides(cmd *cobra.Command, prof *profile.Profile) (orchestrator.Options, error) {
	opts, err := prof.Options()
	if err != nil {
		return opts, err
	}

	flags := cmd.Flags()
	if flags.Changed("strategy") {
		s, _ := flags.GetString("strategy")
		opts.Strategy = models.Strategy(s)
	}
	if flags.Changed("max-rounds") {
		opts.MaxRounds, _ = flags.GetInt("max-rounds")
	}
	if flags.Changed("initial-driver") {
		s, _ := flags.GetString("initial-driver")
		id, err := models.ParseAgentID(s)
		if err != nil {
			return opts, err
		}
		opts.InitialDriver = id
	}
	return opts, opts.Validate()
}

type runRequest struct {
	Task    string
	Profile *profile.Profile
	Options orchestrator.Options
	Repo    string
	Isolate bool
	Observe bool
}

// runner performs one session end to end: run record, workspace, workers,
// event trail, persistence of the result and the run artifact.
type runner struct {
	cfg    *config.Config
	store  *storage.Storage
	logger *slog.Logger
	out    io.Writer
}

func (r *runner) execute(ctx context.Context, req runRequest) (*models.Run, *models.PairRunResult, error) {
	run := &models.Run{
		Task:          req.Task,
		ProfileName:   req.Profile.Name,
		Strategy:      req.Options.Strategy,
		Status:        models.RunStatusPending,
		CurrentDriver: string(req.Options.InitialDriver),
	}
	id, err := r.store.CreateRun(run)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create run: %w", err)
	}
	run.ID = id
	log := r.logger.With("run", id)

	ws, err := workspace.Prepare(r.cfg.WorkspacesDir(), id, req.Repo, req.Isolate)
	if err != nil {
		return run, nil, r.fail(run, err)
	}
	run.WorkspacePath = ws.RepoPath

	fmt.Fprintf(r.out, "Created run #%d\n", run.ID)
	fmt.Fprintf(r.out, "Workspace: %s\n", ws.RepoPath)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Warn("metrics disabled", "error", err)
	}

	a, closeA, err := r.newWorker(models.AgentA, req.Profile, ws.RepoPath, metrics)
	if err != nil {
		return run, nil, r.fail(run, err)
	}
	defer closeA()
	b, closeB, err := r.newWorker(models.AgentB, req.Profile, ws.RepoPath, metrics)
	if err != nil {
		return run, nil, r.fail(run, err)
	}
	defer closeB()

	obsOpts := observer.Options{}
	if req.Observe {
		obsOpts.Dir = ws.Path
		run.EventsPath = filepath.Join(ws.Path, observer.EventsFile)
	}
	events := observer.New(obsOpts, observer.NewLogSink(log), r.store.DriverTracker(id))

	session, err := orchestrator.NewSession(orchestrator.Config{
		Options:  req.Options,
		A:        a,
		B:        b,
		Observer: events,
		Logger:   log,
		Metrics:  metrics,
		RunID:    fmt.Sprintf("run-%d", id),
	})
	if err != nil {
		return run, nil, r.fail(run, err)
	}

	run.Status = models.RunStatusRunning
	if err := r.store.UpdateRun(run); err != nil {
		return run, nil, fmt.Errorf("failed to update run: %w", err)
	}

	fmt.Fprintf(r.out, "Pairing with profile %q (%s)...\n", req.Profile.Name, req.Options.Strategy)
	result, err := session.Run(ctx, req.Task)
	if err != nil {
		var runErr *orchestrator.RunError
		if errors.As(err, &runErr) && runErr.Observability != nil && runErr.Observability.EventsPath != "" {
			run.EventsPath = runErr.Observability.EventsPath
		}
		return run, nil, r.fail(run, err)
	}

	if err := r.store.SaveResult(id, result); err != nil {
		return run, result, r.fail(run, fmt.Errorf("failed to save result: %w", err))
	}
	artifact, err := workspace.WriteArtifact(ws.Path, result)
	if err != nil {
		return run, result, r.fail(run, err)
	}

	// the driver tracker may have moved current_driver during the session
	if latest, err := r.store.GetRun(id); err == nil {
		run.CurrentDriver = latest.CurrentDriver
	}
	now := time.Now()
	run.CompletedAt = &now
	run.Status = models.RunStatusCompleted
	run.Verdict = string(result.Final.JointVerdict)
	run.ArtifactPath = artifact
	if err := r.store.UpdateRun(run); err != nil {
		return run, result, fmt.Errorf("failed to update run: %w", err)
	}

	fmt.Fprintf(r.out, "Run completed: %s after %d round(s)\n", result.Final.JointVerdict, len(result.Rounds))
	printRounds(r.out, result.Rounds)
	printSummary(r.out, result.Summary)
	fmt.Fprintf(r.out, "Artifact: %s\n", artifact)
	return run, result, nil
}

// fail marks the run failed and returns err unchanged, so the caller prints
// the underlying message verbatim.
func (r *runner) fail(run *models.Run, err error) error {
	if latest, gerr := r.store.GetRun(run.ID); gerr == nil {
		run.CurrentDriver = latest.CurrentDriver
	}
	now := time.Now()
	run.CompletedAt = &now
	run.Status = models.RunStatusFailed
	run.Error = err.Error()
	if uerr := r.store.UpdateRun(run); uerr != nil {
		r.logger.Error("failed to record run failure", "run", run.ID, "error", uerr)
	}
	return err
}

func (r *runner) newWorker(id models.AgentID, prof *profile.Profile, workDir string, metrics *telemetry.Metrics) (*worker.Worker, func(), error) {
	spec, err := prof.Agent(id)
	if err != nil {
		return nil, nil, err
	}
	rt, err := worker.NewRuntime(spec.Provider, r.cfg.RuntimeOptions(spec.Provider, spec.Model))
	if err != nil {
		return nil, nil, fmt.Errorf("agent %s: %w", id, err)
	}

	closeFn := func() {}
	if c, ok := rt.(interface{ Close() }); ok {
		closeFn = c.Close
	}

	w := worker.New(worker.Config{
		ID:      id,
		Model:   spec,
		WorkDir: workDir,
		Runtime: rt,
		Logger:  r.logger,
		Metrics: metrics,
	})
	return w, closeFn, nil
}

func printRounds(out io.Writer, rounds []models.RoundResult) {
	for _, rr := range rounds {
		decision := "-"
		if rr.Decision != nil {
			decision = string(rr.Decision.Decision)
		}
		fmt.Fprintf(out, "  %d. driver %s, navigator %s: %s, %d checkpoint(s), %d write call(s), ~%d bytes, decision %s\n",
			rr.Round, rr.Driver, rr.Navigator, rr.Report.Status,
			rr.CheckpointCount, rr.EditWriteCallCount, rr.EstimatedWrittenBytes, decision)
	}
}

func printSummary(out io.Writer, sum models.RunSummary) {
	fmt.Fprintf(out, "Summary: %d checkpoint(s), %d swap(s), ~%d bytes written\n",
		sum.TotalCheckpoints, sum.TotalSwaps, sum.TotalEstimatedBytes)
	for _, id := range []models.AgentID{models.AgentA, models.AgentB} {
		c := sum.Contributions[id]
		fmt.Fprintf(out, "  %s: %.1f%% share, %d round(s) driven, %d checkpoint(s)\n",
			id, c.RoughCodeSharePercent, c.RoundsDriven, c.CheckpointsAsDriver)
	}
}
