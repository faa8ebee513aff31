package consolidate

// Stage is a state of the consolidation pipeline. Stages only move forward.
type Stage int

const (
	StageIdle Stage = iota
	StageAnalyzing
	StageGenerating
	StageReviewing
	StageApplying
	StageCompleted
	StageAborted
	StageFailed
)

var stageNames = [...]string{
	StageIdle:       "Idle",
	StageAnalyzing:  "Analyzing",
	StageGenerating: "Generating",
	StageReviewing:  "Reviewing",
	StageApplying:   "Applying",
	StageCompleted:  "Completed",
	StageAborted:    "Aborted",
	StageFailed:     "Failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Unknown"
	}
	return stageNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s >= StageCompleted
}
