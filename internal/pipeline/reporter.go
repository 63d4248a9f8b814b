package pipeline

// Stage names a pipeline step for progress reporting.
type Stage string

const (
	StageStart     Stage = "start"
	StageNormalize Stage = "normalize"
	StageEmbed     Stage = "embed"
	StageCluster   Stage = "cluster"
	StageScore     Stage = "score"
	StageNews      Stage = "news"
	StagePersist   Stage = "persist"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Progress is one stage update. Done and Total are stage-specific counts;
// Total is zero when unknown.
type Progress struct {
	Stage Stage
	RunID string
	Done  int
	Total int
	Err   error
}

// Reporter receives progress updates. Report is called synchronously from
// the run goroutine and must not block for long.
type Reporter interface {
	Report(Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Progress)

// Report calls f(p).
func (f ReporterFunc) Report(p Progress) { f(p) }
