package governor

import (
	"fmt"
	"runtime"

	"github.com/prometheus/procfs"
)

// MemorySample is one reading of process memory.
type MemorySample struct {
	HeapAlloc uint64 `json:"heap_alloc"`
	Sys       uint64 `json:"sys"`
	RSS       uint64 `json:"rss,omitempty"`
}

// Used returns the figure compared against the ceiling: resident set size
// when known, Go heap otherwise.
func (s MemorySample) Used() uint64 {
	if s.RSS > 0 {
		return s.RSS
	}
	return s.HeapAlloc
}

// MemoryReader samples process memory.
type MemoryReader interface {
	Read() (MemorySample, error)
}

// RuntimeReader reads Go runtime statistics.
type RuntimeReader struct{}

// Read implements MemoryReader.
func (RuntimeReader) Read() (MemorySample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemorySample{HeapAlloc: ms.HeapAlloc, Sys: ms.Sys}, nil
}

// ProcReader adds the resident set size from /proc to the runtime figures.
// Browser child processes are not included.
type ProcReader struct {
	runtime RuntimeReader
}

// NewProcReader verifies /proc is readable for the current process.
func NewProcReader() (*ProcReader, error) {
	if _, err := procfs.Self(); err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcReader{}, nil
}

// Read implements MemoryReader.
func (r *ProcReader) Read() (MemorySample, error) {
	sample, _ := r.runtime.Read()
	proc, err := procfs.Self()
	if err != nil {
		return sample, fmt.Errorf("open procfs: %w", err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return sample, fmt.Errorf("read proc stat: %w", err)
	}
	sample.RSS = uint64(stat.ResidentMemory())
	return sample, nil
}
