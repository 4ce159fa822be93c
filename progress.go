package renpack

// Stage names one phase of a pipeline run.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageExtracting  Stage = "extracting"
	StageCompressing Stage = "compressing"
	StageRepackaging Stage = "repackaging"
	StageAligning    Stage = "aligning"
	StageSigning     Stage = "signing"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Event is one progress report from the pipeline. Processed never
// decreases within a stage. Every run ends with exactly one terminal
// event: StageDone carrying the outcome and the output digest, or
// StageFailed carrying the error.
type Event struct {
	Stage     Stage
	Item      string
	Processed int
	Total     int

	// Outcome and Digest are set on the StageDone event.
	Outcome *Outcome
	Digest  string

	// Err is set on the StageFailed event.
	Err error
}

// Sink receives progress events. Report is called from the goroutine
// running the pipeline and must not block it.
type Sink interface {
	Report(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Report(e Event) {
	f(e)
}
