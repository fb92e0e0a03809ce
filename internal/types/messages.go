package types

import "time"

// CrashMessage is published to the crash queue when a campaign halts.
type CrashMessage struct {
	CampaignID string    `json:"campaign_id"`
	Command    string    `json:"command"`
	Operator   string    `json:"operator"`
	Round      int       `json:"round"`
	Index      int       `json:"index"`
	Input      []byte    `json:"input"` // base64 encoded by encoding/json
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output"`
	Reproducer string    `json:"reproducer,omitempty"` // path of the saved input, if any
	DetectedAt time.Time `json:"detected_at"`
}

func NewCrashMessage(report *CrashReport, reproducer string) CrashMessage {
	return CrashMessage{
		CampaignID: report.CampaignID,
		Command:    report.Target.Name,
		Operator:   report.Mutant.Operator.String(),
		Round:      report.Mutant.Round,
		Index:      report.Mutant.Index,
		Input:      report.Mutant.Data,
		ExitCode:   report.ExitCode,
		Output:     report.Output,
		Reproducer: reproducer,
		DetectedAt: report.DetectedAt,
	}
}
