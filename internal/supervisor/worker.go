package supervisor

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxScratchLines bounds the per-worker output ring kept for diagnostics.
const maxScratchLines = 1000

// activeWorker is the in-memory record of one spawned worker process. It
// references its task by id only; the store owns the task.
type activeWorker struct {
	handle    string
	taskID    int64
	character string
	runID     string
	cmd       *exec.Cmd
	spawnedAt time.Time

	mu       sync.Mutex
	scratch  []string
	exitedAt *time.Time
	live     bool

	done chan struct{} // closed once the process has been reaped
}

// appendLine adds one output line to the ring, evicting the oldest when full.
func (w *activeWorker) appendLine(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.scratch) >= maxScratchLines {
		copy(w.scratch, w.scratch[1:])
		w.scratch[len(w.scratch)-1] = line
		return
	}
	w.scratch = append(w.scratch, line)
}

// lines returns a copy of the ring.
func (w *activeWorker) lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.scratch))
	copy(out, w.scratch)
	return out
}

func (w *activeWorker) isLive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.live
}

func (w *activeWorker) markExited(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.live = false
	w.exitedAt = &at
}

func (w *activeWorker) exitTime() *time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitedAt
}

func (w *activeWorker) pid() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// pump drains stdout and stderr into the ring until both close.
func (w *activeWorker) pump(stdout, stderr io.ReadCloser) error {
	var g errgroup.Group
	for _, pipe := range []io.ReadCloser{stdout, stderr} {
		pipe := pipe
		g.Go(func() error {
			scanner := bufio.NewScanner(pipe)
			scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
			for scanner.Scan() {
				w.appendLine(scanner.Text())
			}
			return scanner.Err()
		})
	}
	return g.Wait()
}
