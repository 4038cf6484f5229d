package encoder

import (
	"regexp"
	"strconv"
)

// Progress is one parsed FFmpeg stderr status line
type Progress struct {
	Frame       int
	FPS         float64
	TimeSeconds float64
	Speed       float64
	Bitrate     string
	Size        string
	Percent     float64
}

var (
	frameRegex   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRegex     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	timeRegex    = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
	speedRegex   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
	bitrateRegex = regexp.MustCompile(`bitrate=\s*([\d.]+\S*)`)
	sizeRegex    = regexp.MustCompile(`size=\s*(\d+\S*)`)
)

// parseProgressLine extracts a Progress event from one stderr line.
// Lines that carry no frame counter are not status lines and are skipped.
func parseProgressLine(line string, totalFrames int) (Progress, bool) {
	matches := frameRegex.FindStringSubmatch(line)
	if len(matches) < 2 {
		return Progress{}, false
	}

	var p Progress
	p.Frame, _ = strconv.Atoi(matches[1])

	if m := fpsRegex.FindStringSubmatch(line); len(m) > 1 {
		p.FPS, _ = strconv.ParseFloat(m[1], 64)
	}

	if m := timeRegex.FindStringSubmatch(line); len(m) > 3 {
		hours, _ := strconv.ParseFloat(m[1], 64)
		minutes, _ := strconv.ParseFloat(m[2], 64)
		seconds, _ := strconv.ParseFloat(m[3], 64)
		p.TimeSeconds = hours*3600 + minutes*60 + seconds
	}

	if m := speedRegex.FindStringSubmatch(line); len(m) > 1 {
		p.Speed, _ = strconv.ParseFloat(m[1], 64)
	}

	if m := bitrateRegex.FindStringSubmatch(line); len(m) > 1 {
		p.Bitrate = m[1]
	}

	if m := sizeRegex.FindStringSubmatch(line); len(m) > 1 {
		p.Size = m[1]
	}

	if totalFrames > 0 {
		p.Percent = float64(p.Frame) / float64(totalFrames) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}

	return p, true
}
