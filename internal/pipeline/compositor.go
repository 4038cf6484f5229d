package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// elementFrames holds the rendered frame sequence for one avatar element,
// keyed so the compositor can pick the right frame per output timestamp.
type elementFrames struct {
	elementID string
	start     float64
	duration  float64
	frameRate int
	frames    [][]byte
}

// composeFrames rasterizes the project into numbered PNG frames in outDir.
// Layers are drawn in ascending index order so higher layers paint over
// lower ones.
func composeFrames(project *models.TimelineProject, avatarFrames map[string]*elementFrames, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, faults.NewResource(outDir, fmt.Sprintf("cannot create frame directory: %v", err))
	}

	layers := make([]models.TimelineLayer, len(project.Layers))
	copy(layers, project.Layers)
	sort.Slice(layers, func(i, j int) bool { return layers[i].Index < layers[j].Index })

	total := int(project.Duration * float64(project.FrameRate))
	background := color.RGBA{R: 16, G: 16, B: 20, A: 255}

	for i := 0; i < total; i++ {
		t := float64(i) / float64(project.FrameRate)

		canvas := image.NewRGBA(image.Rect(0, 0, project.Width, project.Height))
		draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

		for _, layer := range layers {
			for _, el := range layer.Elements {
				if t < el.Start || t >= el.Start+el.Duration {
					continue
				}
				drawElement(canvas, &el, t, avatarFrames)
			}
		}

		name := filepath.Join(outDir, fmt.Sprintf("frame_%06d.png", i))
		f, err := os.Create(name)
		if err != nil {
			return 0, faults.NewResource(name, err.Error())
		}
		if err := png.Encode(f, canvas); err != nil {
			f.Close()
			return 0, faults.NewResource(name, err.Error())
		}
		f.Close()
	}

	return total, nil
}

// drawElement paints one active element onto the canvas at time t
func drawElement(canvas *image.RGBA, el *models.TimelineElement, t float64, avatarFrames map[string]*elementFrames) {
	switch el.Type {
	case models.ElementTypeAvatar:
		ef, ok := avatarFrames[el.ID]
		if !ok || len(ef.frames) == 0 {
			return
		}
		idx := int((t - ef.start) * float64(ef.frameRate))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(ef.frames) {
			idx = len(ef.frames) - 1
		}
		img, err := png.Decode(bytes.NewReader(ef.frames[idx]))
		if err != nil {
			return
		}
		drawScaled(canvas, img)

	case models.ElementTypeImage, models.ElementTypePPTXSlide:
		f, err := os.Open(el.Source)
		if err != nil {
			return
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return
		}
		drawScaled(canvas, img)

	case models.ElementTypeShape:
		// Shapes render as a translucent panel across the lower third.
		bounds := canvas.Bounds()
		panel := image.Rect(bounds.Min.X, bounds.Max.Y*2/3, bounds.Max.X, bounds.Max.Y)
		draw.Draw(canvas, panel, &image.Uniform{C: color.RGBA{R: 30, G: 30, B: 40, A: 200}}, image.Point{}, draw.Over)
	}
}

// drawScaled paints src onto dst with nearest-neighbor scaling to fill it
func drawScaled(dst *image.RGBA, src image.Image) {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Dx() == sb.Dx() && db.Dy() == sb.Dy() {
		draw.Draw(dst, db, src, sb.Min, draw.Over)
		return
	}

	for y := db.Min.Y; y < db.Max.Y; y++ {
		sy := sb.Min.Y + (y-db.Min.Y)*sb.Dy()/db.Dy()
		for x := db.Min.X; x < db.Max.X; x++ {
			sx := sb.Min.X + (x-db.Min.X)*sb.Dx()/db.Dx()
			dst.Set(x, y, src.At(sx, sy))
		}
	}
}
