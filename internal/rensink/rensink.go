// Package rensink provides progress sinks for pipeline runs.
package rensink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/frantjc/renpack"
	"github.com/frantjc/renpack/internal/renerr"
	"github.com/go-logr/logr"
)

type progressFile struct {
	Operation      string `json:"operation"`
	TotalFiles     int    `json:"totalFiles"`
	ProcessedFiles int    `json:"processedFiles"`
	CurrentFile    string `json:"currentFile,omitempty"`
	StartTime      int64  `json:"startTime"`
	LastUpdateTime int64  `json:"lastUpdateTime"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// FileSink mirrors each event into a JSON progress file that an
// observer can poll, replacing the file atomically on every report.
// Write failures are dropped so that progress reporting never fails a
// run.
type FileSink struct {
	name  string
	start time.Time

	mu        sync.Mutex
	stage     renpack.Stage
	processed int
	total     int
}

func NewFileSink(name string) *FileSink {
	return &FileSink{
		name:  name,
		start: time.Now(),
	}
}

func (s *FileSink) Report(e renpack.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Stage != s.stage {
		s.stage = e.Stage

		// Terminal events keep the last stage's counts.
		if e.Stage != renpack.StageDone && e.Stage != renpack.StageFailed {
			s.processed, s.total = 0, 0
		}
	}

	if e.Total > 0 {
		s.total = e.Total
	}
	if e.Processed > 0 {
		s.processed = e.Processed
	}

	p := progressFile{
		Operation:      string(e.Stage),
		TotalFiles:     s.total,
		ProcessedFiles: s.processed,
		CurrentFile:    e.Item,
		StartTime:      s.start.UnixMilli(),
		LastUpdateTime: time.Now().UnixMilli(),
		Status:         status(e.Stage),
	}

	if e.Err != nil {
		p.ErrorMessage = e.Err.Error()
	}

	_ = s.write(p)
}

func status(stage renpack.Stage) string {
	switch stage {
	case renpack.StageDone:
		return "completed"
	case renpack.StageFailed:
		return "failed"
	default:
		return "in_progress"
	}
}

func (s *FileSink) write(p progressFile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(s.name), filepath.Base(s.name)+".*")
	if err != nil {
		return err
	}

	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}

	if err = f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return err
	}

	return os.Rename(f.Name(), s.name)
}

// NewLogSink returns a sink that writes events to log. Per-item events
// log at verbosity 1, stage transitions and terminals at 0.
func NewLogSink(log logr.Logger) renpack.Sink {
	return renpack.SinkFunc(func(e renpack.Event) {
		switch {
		case e.Err != nil:
			log.Error(e.Err, "run failed", "stage", renerr.Stage(e.Err))
		case e.Stage == renpack.StageDone:
			log.Info("run finished",
				"processed", e.Outcome.FilesProcessed,
				"failed", e.Outcome.FilesFailed,
				"reduction", e.Outcome.Reduction(),
				"digest", e.Digest,
			)
		case e.Item != "" && e.Total > 0:
			log.V(1).Info(string(e.Stage), "item", e.Item, "processed", e.Processed, "total", e.Total)
		default:
			log.Info("entering stage", "stage", string(e.Stage))
		}
	})
}

// Multi fans each event out to every sink in order.
func Multi(sinks ...renpack.Sink) renpack.Sink {
	return renpack.SinkFunc(func(e renpack.Event) {
		for _, sink := range sinks {
			sink.Report(e)
		}
	})
}
