package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stdinfuzz/internal/harness"
	"stdinfuzz/internal/mutate"
	"stdinfuzz/internal/types"
	"stdinfuzz/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Generator produces the whole mutant batch up front.
type Generator interface {
	Generate(seed []byte, rounds int) ([]types.Mutant, error)
}

// Executor runs the target once with the given input.
type Executor interface {
	Run(ctx context.Context, target types.TargetCommand, input []byte) (*types.ExecutionResult, error)
}

type Campaign struct {
	Seed   []byte
	Rounds int
	Target types.TargetCommand
}

type State int

const (
	Completed   State = iota // every mutant ran, none crashed
	Halted                   // stopped on the first crash
	Interrupted              // context cancelled between executions
)

func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case Halted:
		return "halted"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ExecFailure records a mutant the target could not be run with.
type ExecFailure struct {
	Mutant types.Mutant
	Err    error
}

func (f ExecFailure) Error() string {
	return fmt.Sprintf("mutant %d (%s): %v", f.Mutant.Index, f.Mutant.Operator, f.Err)
}

func (f ExecFailure) Unwrap() error {
	return f.Err
}

type Outcome struct {
	ID       string
	State    State
	Mutants  int // size of the generated batch
	Executed int // mutants the target ran to completion with
	Failures []ExecFailure
	Crash    *types.CrashReport // set only when State is Halted
}

type Orchestrator struct {
	logger        *zap.Logger
	generator     Generator
	executor      Executor
	tracerFactory *telemetry.TracerFactory
}

type OrchestratorParams struct {
	fx.In

	Logger        *zap.Logger
	Engine        *mutate.Engine
	Harness       *harness.Harness
	TracerFactory *telemetry.TracerFactory `optional:"true"`
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return New(p.Logger, p.Engine, p.Harness, p.TracerFactory)
}

// New builds an orchestrator. tracerFactory may be nil.
func New(logger *zap.Logger, generator Generator, executor Executor, tracerFactory *telemetry.TracerFactory) *Orchestrator {
	return &Orchestrator{
		logger.Named("campaign"),
		generator,
		executor,
		tracerFactory,
	}
}

// Run generates the batch once and executes it in order, stopping at the first
// crash. Execution errors are recorded and skipped. When ctx is cancelled the
// partial outcome is returned together with the context error.
func (o *Orchestrator) Run(ctx context.Context, c Campaign) (*Outcome, error) {
	mutants, err := o.generator.Generate(c.Seed, c.Rounds)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mutants: %w", err)
	}

	outcome := &Outcome{ID: uuid.NewString(), Mutants: len(mutants)}
	logger := o.logger.With(zap.String("campaign_id", outcome.ID))

	tracer := o.tracerFactory.NewTracer(ctx, fmt.Sprintf("fuzzing campaign %s", outcome.ID)).
		WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Fuzzing).
				WithCampaignID(outcome.ID).
				WithTargetCommand(c.Target.String()).
				WithRounds(c.Rounds).
				WithMutantCount(len(mutants)),
		)
	tracer.Start()
	defer func() {
		tracer.WithAttributes(
			telemetry.EmptySpanAttributes().
				WithExecuted(outcome.Executed).
				WithFailures(len(outcome.Failures)).
				WithExtraAttribute("fuzz.campaign.state", outcome.State.String()),
		)
		tracer.End()
	}()

	logger.Info("campaign started",
		zap.Stringer("target", c.Target),
		zap.Int("rounds", c.Rounds),
		zap.Int("mutants", len(mutants)),
	)

	for _, m := range mutants {
		if err := ctx.Err(); err != nil {
			return o.interrupt(logger, tracer, outcome, err)
		}

		result, err := o.executor.Run(ctx, c.Target, m.Data)
		if err != nil {
			if ctx.Err() != nil {
				return o.interrupt(logger, tracer, outcome, ctx.Err())
			}
			logger.Error("failed to execute mutant",
				zap.Int("index", m.Index),
				zap.Stringer("operator", m.Operator),
				zap.ByteString("input", m.Data),
				zap.Bool("launch_failure", isLaunchFailure(err)),
				zap.Error(err),
			)
			outcome.Failures = append(outcome.Failures, ExecFailure{m, err})
			continue
		}
		outcome.Executed++

		if !result.Crashed() {
			continue
		}

		outcome.State = Halted
		outcome.Crash = &types.CrashReport{
			CampaignID: outcome.ID,
			Target:     c.Target,
			Mutant:     m,
			ExitCode:   result.ExitCode,
			Output:     result.Output,
			DetectedAt: time.Now(),
		}
		tracer.AddEvent("crash_found", telemetry.NewEventAttributes(map[string]string{
			"fuzz.mutant.index":    fmt.Sprint(m.Index),
			"fuzz.mutant.operator": m.Operator.String(),
			"fuzz.exit_code":       fmt.Sprint(result.ExitCode),
		}))
		tracer.SetStatus(codes.Error, "crash found")
		logger.Warn("crash found, halting campaign",
			zap.Int("index", m.Index),
			zap.Int("round", m.Round),
			zap.Stringer("operator", m.Operator),
			zap.Int("exit_code", result.ExitCode),
		)
		return outcome, nil
	}

	outcome.State = Completed
	tracer.SetStatus(codes.Ok, "no crash found")
	logger.Info("campaign completed",
		zap.Int("executed", outcome.Executed),
		zap.Int("failures", len(outcome.Failures)),
	)
	return outcome, nil
}

func (o *Orchestrator) interrupt(logger *zap.Logger, tracer telemetry.Tracer, outcome *Outcome, err error) (*Outcome, error) {
	outcome.State = Interrupted
	tracer.SetStatus(codes.Error, "interrupted")
	logger.Info("campaign interrupted", zap.Int("executed", outcome.Executed), zap.Error(err))
	return outcome, err
}

func isLaunchFailure(err error) bool {
	var launchErr *harness.LaunchError
	return errors.As(err, &launchErr)
}
