package engine

// StageState is the runtime execution state of one stage.
type StageState string

const (
	StagePending   StageState = "PENDING"
	StageRunning   StageState = "RUNNING"
	StageCompleted StageState = "COMPLETED"
	StageFailed    StageState = "FAILED"
	StageSkipped   StageState = "SKIPPED"
	StageCached    StageState = "CACHED"
)

// Done reports whether the stage produced its outputs, in this run or a
// previous one.
func (s StageState) Done() bool {
	return s == StageCompleted || s == StageCached
}
