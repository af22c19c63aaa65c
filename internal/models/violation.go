package models

import "time"

type ViolationType uint8

const (
	ViolationBurst ViolationType = iota + 1
	ViolationCumulative
)

func (v ViolationType) String() string {
	switch v {
	case ViolationBurst:
		return "burst"
	case ViolationCumulative:
		return "cumulative"
	default:
		return "unknown"
	}
}

// Quota scopes for cumulative violations.
const (
	QuotaHourly = "hourly"
	QuotaDaily  = "daily"
)

// Violation is the Detector's verdict for one action that crossed a limit.
// Actions is populated only for burst violations: only the burst window
// retains the precise action list the RestorationEngine undoes; cumulative
// violations recover through the audit sweep instead.
type Violation struct {
	Type       ViolationType
	Action     ActionType
	Count      int
	Limit      int
	Window     time.Duration // burst only
	Quota      string        // cumulative only: QuotaHourly or QuotaDaily
	DetectedAt time.Time
	Actions    []ActionEvent
}
