package renpack

// Outcome aggregates the results of one compression run. Every
// candidate file lands in exactly one of FilesProcessed or
// FilesFailed.
type Outcome struct {
	FilesProcessed int   `json:"filesProcessed"`
	FilesFailed    int   `json:"filesFailed"`
	OriginalBytes  int64 `json:"originalBytes"`
	ResultBytes    int64 `json:"resultBytes"`
}

func (o *Outcome) addSuccess(original, result int64) {
	o.FilesProcessed++
	o.OriginalBytes += original
	o.ResultBytes += result
}

// Failed files keep their original size, so reduction is
// never credited for them.
func (o *Outcome) addFailure(original int64) {
	o.FilesFailed++
	o.OriginalBytes += original
	o.ResultBytes += original
}

// Reduction returns the percentage by which the run shrank its
// candidate files.
func (o *Outcome) Reduction() float64 {
	if o.OriginalBytes <= 0 {
		return 0
	}

	return float64(o.OriginalBytes-o.ResultBytes) / float64(o.OriginalBytes) * 100
}
