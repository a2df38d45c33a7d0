package models

// StageStatus is the outcome class of one pipeline stage.
type StageStatus int

const (
	StageOk StageStatus = iota
	StageDegraded
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageOk:
		return "ok"
	case StageDegraded:
		return "degraded"
	default:
		return "failed"
	}
}

// StageResult is the explicit tagged outcome of a pipeline stage, replacing
// exception-driven fallback control flow: Ok | Degraded(reason) | Failed(reason).
type StageResult struct {
	Stage  string
	Status StageStatus
	Reason string
}

func Ok(stage string) StageResult {
	return StageResult{Stage: stage, Status: StageOk}
}

func Degraded(stage, reason string) StageResult {
	return StageResult{Stage: stage, Status: StageDegraded, Reason: reason}
}

func Failed(stage, reason string) StageResult {
	return StageResult{Stage: stage, Status: StageFailed, Reason: reason}
}
