package target

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"stdinfuzz/config"
	"stdinfuzz/internal/types"

	"go.uber.org/zap"
)

var ErrTargetNotFound = errors.New("could not find command")

// Resolve checks that command names an existing file in workDir and builds
// the shell invocation used for every execution.
func Resolve(command, workDir string) (types.TargetCommand, error) {
	if command == "" {
		return types.TargetCommand{}, fmt.Errorf("%w: empty command", ErrTargetNotFound)
	}
	path := filepath.Join(workDir, command)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.TargetCommand{}, fmt.Errorf("%w '%s' in %s", ErrTargetNotFound, command, workDir)
		}
		return types.TargetCommand{}, fmt.Errorf("failed to stat command '%s': %w", command, err)
	}

	return types.TargetCommand{
		Name: command,
		Argv: ShellArgv(runtime.GOOS, command),
		Dir:  workDir,
	}, nil
}

// ShellArgv wraps command in the native shell of goos so that it may carry
// shell syntax of its own.
func ShellArgv(goos, command string) []string {
	if goos == "windows" {
		return []string{"cmd.exe", "/c", command}
	}
	return []string{"sh", "-c", command}
}

// NewTargetCommand resolves the configured command for the application graph.
func NewTargetCommand(cfg *config.AppConfig, logger *zap.Logger) (types.TargetCommand, error) {
	cmd, err := Resolve(cfg.Command, cfg.WorkDir)
	if err != nil {
		logger.Error("target resolution failed", zap.String("command", cfg.Command), zap.Error(err))
		return types.TargetCommand{}, err
	}
	logger.Debug("target resolved", zap.Strings("argv", cmd.Argv), zap.String("dir", cmd.Dir))
	return cmd, nil
}
