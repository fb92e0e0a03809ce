package campaign

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"stdinfuzz/config"
	"stdinfuzz/internal/harness"
	"stdinfuzz/internal/mutate"
	"stdinfuzz/internal/types"
	"stdinfuzz/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fixedGenerator struct {
	batch []types.Mutant
	err   error
}

func (g fixedGenerator) Generate(seed []byte, rounds int) ([]types.Mutant, error) {
	return g.batch, g.err
}

// scriptedExecutor answers each call with the next step and records the inputs it saw.
type scriptedExecutor struct {
	steps []func(ctx context.Context) (*types.ExecutionResult, error)
	seen  [][]byte
}

func (e *scriptedExecutor) Run(ctx context.Context, target types.TargetCommand, input []byte) (*types.ExecutionResult, error) {
	e.seen = append(e.seen, input)
	step := e.steps[len(e.seen)-1]
	return step(ctx)
}

func exit(code int) func(context.Context) (*types.ExecutionResult, error) {
	return func(context.Context) (*types.ExecutionResult, error) {
		return &types.ExecutionResult{ExitCode: code, Output: "out"}, nil
	}
}

func fail(err error) func(context.Context) (*types.ExecutionResult, error) {
	return func(context.Context) (*types.ExecutionResult, error) {
		return nil, err
	}
}

func batchOf(n int) []types.Mutant {
	ops := []types.Operator{types.OpSubstitute, types.OpDelete, types.OpInsert}
	batch := make([]types.Mutant, n)
	for i := range batch {
		batch[i] = types.Mutant{Index: i, Round: i / 3, Operator: ops[i%3], Data: []byte{byte('a' + i)}}
	}
	return batch
}

var testTarget = types.TargetCommand{Name: "./target", Argv: []string{"sh", "-c", "./target"}}

func TestRunCompletes(t *testing.T) {
	ex := &scriptedExecutor{steps: []func(context.Context) (*types.ExecutionResult, error){exit(0), exit(0), exit(0)}}
	o := New(zaptest.NewLogger(t), fixedGenerator{batch: batchOf(3)}, ex, nil)

	outcome, err := o.Run(context.Background(), Campaign{Seed: []byte("x"), Rounds: 1, Target: testTarget})
	require.NoError(t, err)

	assert.Equal(t, Completed, outcome.State)
	assert.Equal(t, 3, outcome.Mutants)
	assert.Equal(t, 3, outcome.Executed)
	assert.Nil(t, outcome.Crash)
	assert.Empty(t, outcome.Failures)
	_, err = uuid.Parse(outcome.ID)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{{'a'}, {'b'}, {'c'}}, ex.seen)
}

func TestRunHaltsOnFirstCrash(t *testing.T) {
	ex := &scriptedExecutor{steps: []func(context.Context) (*types.ExecutionResult, error){exit(0), exit(139)}}
	o := New(zaptest.NewLogger(t), fixedGenerator{batch: batchOf(6)}, ex, nil)

	outcome, err := o.Run(context.Background(), Campaign{Seed: []byte("x"), Rounds: 2, Target: testTarget})
	require.NoError(t, err)

	assert.Equal(t, Halted, outcome.State)
	assert.Equal(t, 2, outcome.Executed)
	assert.Len(t, ex.seen, 2, "mutants after the crash are never executed")

	require.NotNil(t, outcome.Crash)
	assert.Equal(t, outcome.ID, outcome.Crash.CampaignID)
	assert.Equal(t, 1, outcome.Crash.Mutant.Index)
	assert.Equal(t, types.OpDelete, outcome.Crash.Mutant.Operator)
	assert.Equal(t, 139, outcome.Crash.ExitCode)
	assert.Equal(t, "out", outcome.Crash.Output)
	assert.Equal(t, testTarget, outcome.Crash.Target)
	assert.False(t, outcome.Crash.DetectedAt.IsZero())
}

func TestRunSignalDeathIsCrash(t *testing.T) {
	ex := &scriptedExecutor{steps: []func(context.Context) (*types.ExecutionResult, error){exit(-1)}}
	o := New(zaptest.NewLogger(t), fixedGenerator{batch: batchOf(3)}, ex, nil)

	outcome, err := o.Run(context.Background(), Campaign{Seed: []byte("x"), Rounds: 1, Target: testTarget})
	require.NoError(t, err)
	assert.Equal(t, Halted, outcome.State)
	assert.Equal(t, -1, outcome.Crash.ExitCode)
}

func TestRunContinuesAfterExecutionFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	launchErr := &harness.LaunchError{Argv: []string{"sh"}, Err: errors.New("permission denied")}
	ex := &scriptedExecutor{steps: []func(context.Context) (*types.ExecutionResult, error){
		fail(launchErr),
		fail(harness.ErrExecTimeout),
		exit(0),
	}}
	o := New(zap.New(core), fixedGenerator{batch: batchOf(3)}, ex, nil)

	outcome, err := o.Run(context.Background(), Campaign{Seed: []byte("x"), Rounds: 1, Target: testTarget})
	require.NoError(t, err)

	assert.Equal(t, Completed, outcome.State)
	assert.Equal(t, 1, outcome.Executed)
	require.Len(t, outcome.Failures, 2)
	assert.Equal(t, 0, outcome.Failures[0].Mutant.Index)
	assert.ErrorIs(t, outcome.Failures[1], harness.ErrExecTimeout)

	var le *harness.LaunchError
	assert.True(t, errors.As(outcome.Failures[0], &le))

	failed := logs.FilterMessage("failed to execute mutant").All()
	require.Len(t, failed, 2)
	fields := failed[0].ContextMap()
	assert.Equal(t, int64(0), fields["index"])
	assert.Equal(t, "substitute", fields["operator"])
	assert.Equal(t, "a", fields["input"])
	assert.Equal(t, true, fields["launch_failure"])
	assert.Equal(t, false, failed[1].ContextMap()["launch_failure"])
}

func TestRunGenerateError(t *testing.T) {
	ex := &scriptedExecutor{}
	o := New(zaptest.NewLogger(t), mutate.NewEngine(nil), ex, nil)

	outcome, err := o.Run(context.Background(), Campaign{Seed: nil, Rounds: 10, Target: testTarget})
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, mutate.ErrInvalidInput)
	assert.Empty(t, ex.seen)
}

func TestRunInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := &scriptedExecutor{steps: []func(context.Context) (*types.ExecutionResult, error){
		exit(0),
		func(context.Context) (*types.ExecutionResult, error) {
			cancel()
			return &types.ExecutionResult{}, nil
		},
	}}
	o := New(zaptest.NewLogger(t), fixedGenerator{batch: batchOf(6)}, ex, nil)

	outcome, err := o.Run(ctx, Campaign{Seed: []byte("x"), Rounds: 2, Target: testTarget})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, outcome)
	assert.Equal(t, Interrupted, outcome.State)
	assert.Equal(t, 2, outcome.Executed)
	assert.Len(t, ex.seen, 2)
}

func TestRunInterruptedDuringExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := &scriptedExecutor{steps: []func(context.Context) (*types.ExecutionResult, error){
		func(context.Context) (*types.ExecutionResult, error) {
			cancel()
			return nil, errors.New("signal: killed")
		},
	}}
	o := New(zaptest.NewLogger(t), fixedGenerator{batch: batchOf(3)}, ex, nil)

	outcome, err := o.Run(ctx, Campaign{Seed: []byte("x"), Rounds: 1, Target: testTarget})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Interrupted, outcome.State)
	assert.Empty(t, outcome.Failures, "a cancelled execution is not a failure")
}

type recordingTelemetry struct {
	tracer trace.Tracer
}

func (r recordingTelemetry) GetTracer() trace.Tracer { return r.tracer }
func (r recordingTelemetry) GetLogger() log.Logger   { return nil }

func TestRunRecordsCampaignSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	factory := telemetry.NewTracerFactory(telemetry.TracerFactoryParams{Telemetry: recordingTelemetry{provider.Tracer("test")}})

	ex := &scriptedExecutor{steps: []func(context.Context) (*types.ExecutionResult, error){exit(0), exit(2)}}
	o := New(zaptest.NewLogger(t), fixedGenerator{batch: batchOf(3)}, ex, factory)

	outcome, err := o.Run(context.Background(), Campaign{Seed: []byte("x"), Rounds: 1, Target: testTarget})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "fuzzing campaign "+outcome.ID, span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	attrs := attribute.NewSet(span.Attributes()...)
	id, ok := attrs.Value("fuzz.campaign.id")
	require.True(t, ok)
	assert.Equal(t, outcome.ID, id.AsString())
	executed, ok := attrs.Value("fuzz.mutants.executed")
	require.True(t, ok)
	assert.Equal(t, int64(2), executed.AsInt64())

	require.Len(t, span.Events(), 1)
	assert.Equal(t, "crash_found", span.Events()[0].Name)
}

// recordingExecutor wraps the real harness and remembers what it ran.
type recordingExecutor struct {
	h    *harness.Harness
	seen [][]byte
}

func (r *recordingExecutor) Run(ctx context.Context, target types.TargetCommand, input []byte) (*types.ExecutionResult, error) {
	r.seen = append(r.seen, input)
	return r.h.Run(ctx, target, input)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell targets need a POSIX sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newHarness(t *testing.T) *harness.Harness {
	t.Helper()
	h, err := harness.New(zaptest.NewLogger(t), harness.Options{Filters: config.DefaultFilters})
	require.NoError(t, err)
	return h
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func TestCampaignAgainstSuccessfulTarget(t *testing.T) {
	requireShell(t)
	rec := &recordingExecutor{h: newHarness(t)}
	o := New(zaptest.NewLogger(t), mutate.NewEngine(nil), rec, nil)

	target := types.TargetCommand{Name: "cat", Argv: []string{"sh", "-c", "cat >/dev/null"}}
	outcome, err := o.Run(testContext(t), Campaign{
		Seed:   []byte("<html><body><p>aaaa</p></body></html>"),
		Rounds: 10,
		Target: target,
	})
	require.NoError(t, err)

	assert.Equal(t, Completed, outcome.State)
	assert.Nil(t, outcome.Crash)
	assert.Equal(t, 30, outcome.Executed)
	assert.Len(t, rec.seen, 30)
}

func TestCampaignHaltsOnOversizedInput(t *testing.T) {
	requireShell(t)
	rec := &recordingExecutor{h: newHarness(t)}
	o := New(zaptest.NewLogger(t), mutate.NewEngine(mutate.NewSeededSource(7)), rec, nil)

	// only insertions can push a 180 byte seed past 200 bytes
	seed := bytes.Repeat([]byte("<p>aaaa</p>\n"), 15)
	require.Len(t, seed, 180)

	target := types.TargetCommand{Name: "limit", Argv: []string{"sh", "-c", "test $(wc -c) -le 200"}}
	outcome, err := o.Run(testContext(t), Campaign{Seed: seed, Rounds: 50, Target: target})
	require.NoError(t, err)

	require.Equal(t, Halted, outcome.State)
	require.NotNil(t, outcome.Crash)
	assert.Equal(t, types.OpInsert, outcome.Crash.Mutant.Operator)
	assert.Greater(t, len(outcome.Crash.Mutant.Data), 200)
	assert.Equal(t, 1, outcome.Crash.ExitCode)

	// the crashing mutant is the last one executed and the first oversized one
	require.Len(t, rec.seen, outcome.Crash.Mutant.Index+1)
	for _, input := range rec.seen[:len(rec.seen)-1] {
		assert.LessOrEqual(t, len(input), 200)
	}
}

func TestCampaignLaunchFailureContinues(t *testing.T) {
	rec := &recordingExecutor{h: newHarness(t)}
	o := New(zaptest.NewLogger(t), mutate.NewEngine(nil), rec, nil)

	target := types.TargetCommand{Name: "missing", Argv: []string{filepath.Join(t.TempDir(), "missing")}}
	outcome, err := o.Run(testContext(t), Campaign{Seed: []byte("seed"), Rounds: 2, Target: target})
	require.NoError(t, err)

	assert.Equal(t, Completed, outcome.State)
	assert.Zero(t, outcome.Executed)
	assert.Len(t, outcome.Failures, 6)
	assert.Len(t, rec.seen, 6)
}
