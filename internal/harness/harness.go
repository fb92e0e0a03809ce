package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"stdinfuzz/config"
	"stdinfuzz/internal/types"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Filters     []string      // output filter patterns
	ExecTimeout time.Duration // 0 waits for the target forever
	DrainGrace  time.Duration // how long to wait for EOF once the target has exited
}

// Harness runs the target once per input and reports how it exited.
type Harness struct {
	logger     *zap.Logger
	filter     *OutputFilter
	timeout    time.Duration
	drainGrace time.Duration
}

type HarnessParams struct {
	fx.In

	Logger    *zap.Logger
	AppConfig *config.AppConfig
}

func NewHarness(p HarnessParams) (*Harness, error) {
	return New(p.Logger, Options{
		Filters:     p.AppConfig.Harness.Filters,
		ExecTimeout: p.AppConfig.Harness.ExecTimeout,
		DrainGrace:  p.AppConfig.Harness.DrainGrace,
	})
}

func New(logger *zap.Logger, opts Options) (*Harness, error) {
	filter, err := NewOutputFilter(opts.Filters)
	if err != nil {
		return nil, err
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = config.DefaultDrainGrace
	}
	return &Harness{
		logger.Named("harness"),
		filter,
		opts.ExecTimeout,
		opts.DrainGrace,
	}, nil
}

// Run executes the target once with input on its standard input.
//
//  1. Starts the target with stdout and stderr sharing one pipe.
//  2. Feeds the input and closes stdin while the merged output is drained
//     concurrently, so a target that fills the output pipe before it has
//     consumed its input cannot stall the harness.
//  3. Waits for the target to exit, then gives the drain DrainGrace to see
//     EOF. Descendants that keep the pipe open past that are cut off.
//
// A target that cannot be started yields a *LaunchError. A target killed by
// the execution timeout yields ErrExecTimeout. Otherwise the exit status is
// always reported, whatever it is.
func (h *Harness) Run(ctx context.Context, target types.TargetCommand, input []byte) (*types.ExecutionResult, error) {
	if len(target.Argv) == 0 {
		return nil, &LaunchError{Err: errors.New("empty command line")}
	}

	execCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, target.Argv[0], target.Argv[1:]...)
	cmd.Dir = target.Dir

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	defer outR.Close()
	cmd.Stdout = outW
	cmd.Stderr = outW

	stdin, err := cmd.StdinPipe()
	if err != nil {
		outW.Close()
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		outW.Close()
		return nil, &LaunchError{Argv: target.Argv, Err: err}
	}
	// the child has its own copy; ours must go or the drain never sees EOF
	outW.Close()

	var output bytes.Buffer
	drained := make(chan struct{})

	g := new(errgroup.Group)
	g.Go(func() error {
		return feed(stdin, input)
	})
	g.Go(func() error {
		defer close(drained)
		if _, err := io.Copy(&output, outR); err != nil && !errors.Is(err, os.ErrClosed) {
			return fmt.Errorf("failed to read target output: %w", err)
		}
		return nil
	})

	waitErr := cmd.Wait()
	duration := time.Since(startTime)

	select {
	case <-drained:
	case <-time.After(h.drainGrace):
		h.logger.Warn("target output still open after exit, closing it",
			zap.Int("pid", cmd.Process.Pid),
			zap.Duration("grace", h.drainGrace),
		)
		outR.Close()
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := execCtx.Err(); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (%s)", ErrExecTimeout, h.timeout)
		}
		return nil, err
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("failed to wait for target: %w", waitErr)
		}
		// -1 when the target was killed by a signal
		exitCode = exitErr.ExitCode()
	}

	raw := output.String()
	result := &types.ExecutionResult{
		ExitCode:  exitCode,
		Output:    h.filter.Apply(raw),
		RawOutput: raw,
		Duration:  duration,
	}

	h.logger.Debug("target exited",
		zap.Int("exit_code", exitCode),
		zap.Duration("duration", duration),
		zap.Int("input_bytes", len(input)),
		zap.Int("output_bytes", len(raw)),
	)
	return result, nil
}

// feed writes the whole input and signals end-of-input. A target is free to
// exit without reading, so a broken or already closed pipe is not an error.
func feed(stdin io.WriteCloser, input []byte) error {
	_, werr := stdin.Write(input)
	cerr := stdin.Close()
	if werr != nil && !isClosedPipe(werr) {
		return fmt.Errorf("failed to write target input: %w", werr)
	}
	if cerr != nil && !isClosedPipe(cerr) {
		return fmt.Errorf("failed to close target input: %w", cerr)
	}
	return nil
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}
