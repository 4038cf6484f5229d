package engine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/internal/lipsync"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// LocalEngine renders avatar frames in-process. It never reports
// unavailable: a missing avatar asset degrades to a procedurally drawn
// placeholder face, so the pipeline always has a frame source.
type LocalEngine struct {
	logger *logging.Logger
}

// NewLocalEngine creates the in-process raster engine
func NewLocalEngine(logger *logging.Logger) *LocalEngine {
	return &LocalEngine{logger: logger}
}

// Name returns the engine identifier
func (e *LocalEngine) Name() string { return models.EngineLocal }

// Render produces the full frame sequence for the request duration
func (e *LocalEngine) Render(ctx context.Context, req *models.EngineRequest) (*models.RenderResult, error) {
	if req.Local == nil {
		return nil, faults.NewValidation("local", "missing local engine options")
	}

	width, height := req.Local.Width, req.Local.Height
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}

	frameRate := req.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}
	count := int(math.Floor(req.DurationSeconds * float64(frameRate)))
	if count <= 0 {
		return nil, faults.NewValidation("duration_seconds", "must be positive")
	}

	base := e.loadAsset(req.Local.AssetPath, width, height)

	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Mouth opening follows the lip-sync track when present, a slow
		// sine otherwise so the face still appears to talk.
		t := float64(i) / float64(frameRate)
		var mouthOpen float64
		if len(req.LipSync) > 0 {
			mouthOpen = lipsync.SampleFrameAtTime(req.LipSync, t).Intensity
		} else {
			mouthOpen = 0.5 + 0.5*math.Sin(t*2*math.Pi*2.5)
		}

		frame := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(frame, frame.Bounds(), base, image.Point{}, draw.Src)
		drawMouth(frame, width, height, mouthOpen)

		var buf bytes.Buffer
		if err := png.Encode(&buf, frame); err != nil {
			return nil, faults.NewResource("frame", err.Error())
		}
		frames = append(frames, buf.Bytes())
	}

	return &models.RenderResult{
		Kind:   models.ResultKindFrames,
		Engine: models.EngineLocal,
		Frames: frames,
	}, nil
}

// loadAsset returns the avatar base image, or a drawn placeholder face when
// the asset is missing or unreadable.
func (e *LocalEngine) loadAsset(assetPath string, width, height int) image.Image {
	if assetPath != "" {
		if f, err := os.Open(assetPath); err == nil {
			defer f.Close()
			if img, err := png.Decode(f); err == nil {
				return img
			}
		}
		e.logger.Warnf("Avatar asset %s unavailable, drawing placeholder", assetPath)
	}

	return placeholderFace(width, height)
}

// placeholderFace draws a flat cartoon head: background, head disc, eyes.
// The mouth is drawn per frame since it animates.
func placeholderFace(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	background := color.RGBA{R: 38, G: 42, B: 54, A: 255}
	skin := color.RGBA{R: 224, G: 172, B: 105, A: 255}
	eye := color.RGBA{R: 30, G: 30, B: 30, A: 255}

	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	cx, cy := width/2, height/2
	radius := minInt(width, height) * 2 / 5
	fillCircle(img, cx, cy, radius, skin)

	eyeRadius := radius / 8
	fillCircle(img, cx-radius/3, cy-radius/4, eyeRadius, eye)
	fillCircle(img, cx+radius/3, cy-radius/4, eyeRadius, eye)

	return img
}

// drawMouth draws the mouth with an opening between 0 and 1
func drawMouth(img *image.RGBA, width, height int, open float64) {
	mouth := color.RGBA{R: 120, G: 40, B: 40, A: 255}

	cx, cy := width/2, height/2
	radius := minInt(width, height) * 2 / 5
	mouthWidth := radius / 2
	mouthHeight := 2 + int(open*float64(radius)/4)

	rect := image.Rect(cx-mouthWidth/2, cy+radius/3-mouthHeight/2, cx+mouthWidth/2, cy+radius/3+mouthHeight/2)
	draw.Draw(img, rect, &image.Uniform{C: mouth}, image.Point{}, draw.Src)
}

func fillCircle(img *image.RGBA, cx, cy, r int, c color.Color) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.Set(x, y, c)
			}
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
