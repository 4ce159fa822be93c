package renpack_test

import (
	"testing"

	"github.com/frantjc/renpack"
)

func TestOutcomeReduction(t *testing.T) {
	// One file halved, an equally sized one failed and kept its
	// original bytes.
	outcome := &renpack.Outcome{
		FilesProcessed: 1,
		FilesFailed:    1,
		OriginalBytes:  200,
		ResultBytes:    150,
	}

	if reduction := outcome.Reduction(); reduction != 25 {
		t.Fatal("unexpected reduction:", reduction)
	}
}

func TestOutcomeReductionEmpty(t *testing.T) {
	if reduction := (&renpack.Outcome{}).Reduction(); reduction != 0 {
		t.Fatal("unexpected reduction:", reduction)
	}
}
