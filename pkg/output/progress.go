package output

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"
)

const (
	progressRefreshRate = 200 * time.Millisecond
	minBarWidth         = 40
	maxBarWidth         = 120
)

// HashProgress shows bytes hashed against the total size of a run.
// Add may be called from several hashing goroutines at once.
type HashProgress struct {
	mu  sync.Mutex
	bar *pb.ProgressBar
}

// NewHashProgress returns a progress bar writing to w, or nil when w is not a
// terminal. All methods are safe on a nil receiver.
func NewHashProgress(w io.Writer, totalBytes int64) *HashProgress {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return newHashProgress(w, totalBytes, terminalWidth(f))
}

func newHashProgress(w io.Writer, totalBytes int64, width int) *HashProgress {
	bar := pb.New64(totalBytes)
	bar.SetTemplate(pb.Full)
	bar.Set(pb.Bytes, true)
	bar.SetWriter(w)
	bar.SetWidth(width)
	bar.SetRefreshRate(progressRefreshRate)
	return &HashProgress{bar: bar}
}

// terminalWidth returns the clamped width of the terminal behind f
func terminalWidth(f *os.File) int {
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width < minBarWidth {
		return minBarWidth
	}
	if width > maxBarWidth {
		return maxBarWidth
	}
	return width
}

// Start begins rendering
func (p *HashProgress) Start() {
	if p == nil {
		return
	}
	p.bar.Start()
}

// Add records n more bytes hashed
func (p *HashProgress) Add(n int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.bar.Add64(n)
	p.mu.Unlock()
}

// Current returns the bytes recorded so far
func (p *HashProgress) Current() int64 {
	if p == nil {
		return 0
	}
	return p.bar.Current()
}

// Finish stops rendering and leaves the final state on screen
func (p *HashProgress) Finish() {
	if p == nil {
		return
	}
	p.bar.Finish()
}
