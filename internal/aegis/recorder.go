package aegis

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"chariot/internal/model"
)

// Recorder captures interactive sessions to asciinema v2 cast files. The
// session runs under a pty so the subprocess sees a real terminal; output
// is teed to the user's terminal and timestamped into the cast.
type Recorder struct {
	dir    string
	logger *log.Logger
	now    func() time.Time
}

func NewRecorder(dir string, logger *log.Logger) *Recorder {
	return &Recorder{dir: dir, logger: logger, now: time.Now}
}

type castHeader struct {
	Version   int    `json:"version"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"`
	Command   string `json:"command,omitempty"`
}

// Record runs argv under a pty and writes the session to a cast file named
// after name and the start time. Returns the cast file path.
func (r *Recorder) Record(ctx context.Context, argv []string, name string) (string, error) {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return "", fmt.Errorf("creating recording directory: %w", err)
	}
	started := r.now()
	filename := fmt.Sprintf("%s_%s.cast", model.SanitizeFilename(name), started.Format("20060102_150405"))
	path := filepath.Join(r.dir, filename)

	cast, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	defer cast.Close()
	w := bufio.NewWriter(cast)
	defer w.Flush()

	cols, rows := 80, 24
	if c, rws, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
		cols, rows = c, rws
	}
	header, _ := json.Marshal(castHeader{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: started.Unix(),
		Command:   argv[0],
	})
	w.Write(header)
	w.WriteByte('\n')

	r.logger.Printf("[Recorder] Recording session to %s", path)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("starting pty: %w", err)
	}
	defer ptmx.Close()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- syscall.SIGWINCH
	defer func() { signal.Stop(winch); close(winch) }()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	go io.Copy(ptmx, os.Stdin)

	buf := make([]byte, 32*1024)
	for {
		n, readErr := ptmx.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			os.Stdout.Write(chunk)
			elapsed := r.now().Sub(started).Seconds()
			event, _ := json.Marshal([3]any{elapsed, "o", string(chunk)})
			w.Write(event)
			w.WriteByte('\n')
		}
		if readErr != nil {
			break
		}
	}

	return path, cmd.Wait()
}
