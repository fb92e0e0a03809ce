package types

import "time"

type ExecutionResult struct {
	ExitCode  int
	Output    string // merged stdout/stderr after noise filtering
	RawOutput string // merged stdout/stderr as captured
	Duration  time.Duration
}

// Crashed is the whole oracle: any non-zero exit status is a crash.
func (r *ExecutionResult) Crashed() bool {
	return r.ExitCode != 0
}

// CrashReport is the terminal artifact of a halted campaign.
type CrashReport struct {
	CampaignID string
	Target     TargetCommand
	Mutant     Mutant
	ExitCode   int
	Output     string
	DetectedAt time.Time
}
