package model

// IngestJob is the queue payload for one upload awaiting processing.
// The queue delivers jobs at least once, so the pipeline must tolerate
// re-execution of the same job. Attempt counts completed pipeline runs for
// this job; the dispatcher uses it to compute backoff and exhaustion.
type IngestJob struct {
	TrackID      int64  `json:"trackId"`
	InputPath    string `json:"inputPath"` // absolute path to the temporary uploaded file
	OutputFormat string `json:"outputFormat"`
	Attempt      int    `json:"attempt"`
}
