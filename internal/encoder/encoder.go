package encoder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/metrics"
)

// Encoder turns a directory of PNG frames into a video via FFmpeg
type Encoder struct {
	ffmpegPath string
	logger     *logging.Logger
}

// NewEncoder creates a new encoder
func NewEncoder(ffmpegPath string, logger *logging.Logger) *Encoder {
	return &Encoder{
		ffmpegPath: ffmpegPath,
		logger:     logger,
	}
}

// Encode validates inputs, spawns FFmpeg and streams parsed progress events
// on the returned channel. The error channel delivers exactly one value when
// the run finishes; the progress channel is closed at the same time.
// An empty frame directory fails before any subprocess is spawned.
func (e *Encoder) Encode(ctx context.Context, opts Options) (<-chan Progress, <-chan error) {
	events := make(chan Progress, 16)
	done := make(chan error, 1)

	frames, err := filepath.Glob(filepath.Join(opts.FramesDir, "*.png"))
	if err != nil || len(frames) == 0 {
		close(events)
		done <- faults.NewResource(opts.FramesDir, "no frames to encode")
		return events, done
	}
	totalFrames := len(frames)

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		close(events)
		done <- faults.NewResource(filepath.Dir(opts.OutputPath), fmt.Sprintf("cannot create output directory: %v", err))
		return events, done
	}

	args, err := BuildArgs(opts)
	if err != nil {
		close(events)
		done <- err
		return events, done
	}

	go e.run(ctx, args, totalFrames, events, done)

	return events, done
}

func (e *Encoder) run(ctx context.Context, args []string, totalFrames int, events chan<- Progress, done chan<- error) {
	defer close(events)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		done <- fmt.Errorf("failed to create stderr pipe: %w", err)
		return
	}

	if err := cmd.Start(); err != nil {
		metrics.RecordEncoderRun("spawn_failed")
		done <- fmt.Errorf("failed to start ffmpeg: %w", err)
		return
	}

	// FFmpeg writes status lines to stderr; everything is captured for
	// diagnostics, status lines additionally become progress events.
	var stderrBuf strings.Builder
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanCRorLF)
	for scanner.Scan() {
		line := scanner.Text()
		stderrBuf.WriteString(line)
		stderrBuf.WriteString("\n")

		if p, ok := parseProgressLine(line, totalFrames); ok {
			metrics.RecordEncoderProgress(p.FPS, p.Speed)
			select {
			case events <- p:
			default:
				// Slow consumer; dropping a sample is fine, the next
				// status line supersedes it.
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		metrics.RecordEncoderRun("failed")
		done <- faults.NewEncoder(err, stderrBuf.String())
		return
	}

	metrics.RecordEncoderRun("completed")
	done <- nil
}

// scanCRorLF splits on both \n and \r since FFmpeg rewrites its status line
// with carriage returns.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
