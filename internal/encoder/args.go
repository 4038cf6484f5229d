package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/renderdeck/renderdeck/internal/faults"
)

// codecEncoders maps the public codec names to FFmpeg encoder flags
var codecEncoders = map[string]string{
	"h264": "libx264",
	"h265": "libx265",
	"vp9":  "libvpx-vp9",
	"av1":  "libaom-av1",
}

// qualityCRF maps quality tiers to CRF values. Lower is better quality.
var qualityCRF = map[string]int{
	"low":    28,
	"medium": 23,
	"high":   18,
	"ultra":  15,
}

// Options holds everything needed to encode a frame sequence into a video
type Options struct {
	FramesDir       string
	AudioPath       string
	OutputPath      string
	FrameRate       int
	Codec           string
	Quality         string
	Resolution      string
	Bitrate         string
	FastStart       bool
	Metadata        map[string]string
	AudioBitrate    string
	AudioSampleRate int
}

// BuildArgs builds the FFmpeg argument vector for an encode. The audio
// input is only wired in when the file actually exists, so a render
// without narration still produces a valid video.
func BuildArgs(opts Options) ([]string, error) {
	encoder, ok := codecEncoders[opts.Codec]
	if !ok {
		return nil, faults.NewValidation("codec", fmt.Sprintf("unsupported codec %q", opts.Codec))
	}

	crf, ok := qualityCRF[opts.Quality]
	if !ok {
		crf = qualityCRF["medium"]
	}

	frameRate := opts.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}

	args := []string{
		"-framerate", fmt.Sprintf("%d", frameRate),
		"-pattern_type", "glob",
		"-i", filepath.Join(opts.FramesDir, "*.png"),
	}

	hasAudio := false
	if opts.AudioPath != "" {
		if _, err := os.Stat(opts.AudioPath); err == nil {
			hasAudio = true
			args = append(args, "-i", opts.AudioPath)
		}
	}

	args = append(args,
		"-c:v", encoder,
		"-crf", fmt.Sprintf("%d", crf),
		"-pix_fmt", "yuv420p",
	)

	if opts.Resolution != "" {
		args = append(args, "-vf", "scale="+strings.Replace(opts.Resolution, "x", ":", 1))
	}

	if opts.Bitrate != "" {
		args = append(args, "-b:v", opts.Bitrate)
	}

	if hasAudio {
		audioBitrate := opts.AudioBitrate
		if audioBitrate == "" {
			audioBitrate = "192k"
		}
		sampleRate := opts.AudioSampleRate
		if sampleRate <= 0 {
			sampleRate = 44100
		}
		args = append(args,
			"-c:a", "aac",
			"-b:a", audioBitrate,
			"-ar", fmt.Sprintf("%d", sampleRate),
			"-shortest",
		)
	}

	// Sorted so the vector is deterministic for a given option set
	keys := make([]string, 0, len(opts.Metadata))
	for k := range opts.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-metadata", fmt.Sprintf("%s=%s", k, opts.Metadata[k]))
	}

	if opts.FastStart {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args, "-threads", "0", "-y", opts.OutputPath)

	return args, nil
}
