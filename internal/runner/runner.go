package runner

import (
	"context"
	"path/filepath"
	"time"

	"stdinfuzz/config"
	"stdinfuzz/internal/campaign"
	"stdinfuzz/internal/crash"
	"stdinfuzz/internal/report"
	"stdinfuzz/internal/seeds"
	"stdinfuzz/internal/types"
	"stdinfuzz/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// how long the target file must stay unchanged before a watch rerun
const settleDelay = 250 * time.Millisecond

type CampaignRunner interface {
	Run(ctx context.Context, c campaign.Campaign) (*campaign.Outcome, error)
}

type CrashHandler interface {
	Handle(ctx context.Context, report *types.CrashReport) error
}

type Runner struct {
	logger       *zap.Logger
	orchestrator CampaignRunner
	crashes      CrashHandler
	console      *report.Console
	watchdogs    *watchdog.WatchDogFactory

	campaign  campaign.Campaign
	watch     bool
	watchPath string

	done chan struct{}
}

type RunnerParams struct {
	fx.In

	Lc           fx.Lifecycle
	Shutdowner   fx.Shutdowner
	Logger       *zap.Logger
	AppConfig    *config.AppConfig
	Orchestrator *campaign.Orchestrator
	CrashManager *crash.CrashManager
	Console      *report.Console
	WatchDogs    *watchdog.WatchDogFactory
	Target       types.TargetCommand
	Seed         *seeds.Seed
}

// NewRunner runs the fuzzing session in the background once the application
// has started and shuts the application down with the session's exit status.
func NewRunner(p RunnerParams) *Runner {
	r := New(p.Logger, p.Orchestrator, p.CrashManager, p.Console, p.WatchDogs)
	r.campaign = campaign.Campaign{
		Seed:   p.Seed.Data,
		Rounds: p.AppConfig.Campaign.Rounds,
		Target: p.Target,
	}
	r.watch = p.AppConfig.Watch
	r.watchPath = filepath.Join(p.AppConfig.WorkDir, p.AppConfig.Command)

	runCtx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(r.done)
				code := r.Run(runCtx)
				if runCtx.Err() != nil {
					// already stopping
					return
				}
				if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					r.logger.Error("failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-r.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})
	return r
}

func New(logger *zap.Logger, orchestrator CampaignRunner, crashes CrashHandler, console *report.Console, watchdogs *watchdog.WatchDogFactory) *Runner {
	return &Runner{
		logger:       logger.Named("runner"),
		orchestrator: orchestrator,
		crashes:      crashes,
		console:      console,
		watchdogs:    watchdogs,
		done:         make(chan struct{}),
	}
}

// Run executes one campaign, or keeps rerunning it on every change of the
// target file in watch mode, and returns the process exit status.
func (r *Runner) Run(ctx context.Context) int {
	r.console.Command(r.campaign.Target)

	code := r.runCampaign(ctx)
	if !r.watch {
		return code
	}
	return r.watchTarget(ctx)
}

// runCampaign returns 1 for a crash or a campaign that could not run.
func (r *Runner) runCampaign(ctx context.Context) int {
	outcome, err := r.orchestrator.Run(ctx, r.campaign)
	if outcome == nil {
		r.logger.Error("campaign failed", zap.Error(err))
		return 1
	}

	r.console.Outcome(outcome)
	switch outcome.State {
	case campaign.Halted:
		// sinks log their own errors
		_ = r.crashes.Handle(ctx, outcome.Crash)
		return 1
	case campaign.Interrupted:
		r.logger.Debug("campaign interrupted", zap.Error(err))
	}
	return 0
}

// watchTarget blocks until ctx is done. Crashes are reported but do not end
// the session.
func (r *Runner) watchTarget(ctx context.Context) int {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := make(chan string, 16)
	wd, err := r.watchdogs.New(watchCtx, changes, watchdog.MatchFile(r.watchPath))
	if err != nil {
		r.logger.Error("failed to start watch mode", zap.Error(err))
		return 1
	}
	if err := wd.AddDir(filepath.Dir(r.watchPath)); err != nil {
		r.logger.Error("failed to start watch mode", zap.Error(err))
		return 1
	}
	r.logger.Info("watching target for changes", zap.String("path", r.watchPath))

	for {
		select {
		case <-ctx.Done():
			return 0
		case _, ok := <-changes:
			if !ok || !settle(ctx, changes, settleDelay) {
				return 0
			}
			r.logger.Info("target changed, rerunning campaign", zap.String("path", r.watchPath))
			r.runCampaign(ctx)
		}
	}
}

// settle swallows change events until none arrived for quiet. It returns
// false when ctx is done or the channel is closed.
func settle(ctx context.Context, changes <-chan string, quiet time.Duration) bool {
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-changes:
			if !ok {
				return false
			}
			timer.Reset(quiet)
		case <-timer.C:
			return true
		}
	}
}
