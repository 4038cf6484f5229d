package lipsync

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/logging"
	"github.com/renderdeck/renderdeck/internal/metrics"
	"github.com/renderdeck/renderdeck/internal/resilience"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// fallbackPhonemes is the viseme cycle the local generator walks through.
// Rough mouth shapes, enough for a plausible idle-talk animation.
var fallbackPhonemes = []string{"sil", "AA", "E", "O", "M", "F", "L"}

// Synthesizer produces lip-sync frame sequences for avatar narration. It
// prefers the analysis service and degrades to a local generator whenever
// the service is unconfigured or fails.
type Synthesizer struct {
	client      *Client
	fallbackFPS int
	logger      *logging.Logger
}

// NewSynthesizer creates a synthesizer. The analysis client shares the
// "lipsync" breaker from the registry; a nil registry builds one with
// default thresholds.
func NewSynthesizer(cfg config.LipSyncConfig, breakers *resilience.Registry, logger *logging.Logger) *Synthesizer {
	if breakers == nil {
		breakers = resilience.NewRegistry(resilience.BreakerConfig{})
	}
	fps := cfg.FallbackFPS
	if fps <= 0 {
		fps = 30
	}
	return &Synthesizer{
		client:      NewClient(cfg, breakers.Get("lipsync")),
		fallbackFPS: fps,
		logger:      logger,
	}
}

// GenerateFrames returns a lip-sync frame sequence covering the narration.
// Never fails: any analysis-service problem falls back to locally generated
// frames for the full duration.
func (s *Synthesizer) GenerateFrames(ctx context.Context, text, audioURL string, duration float64) []models.LipSyncFrame {
	if s.client.IsConfigured() {
		frames, err := s.analyze(ctx, text, audioURL)
		if err == nil && len(frames) > 0 {
			return frames
		}
		if err != nil {
			s.logger.Warn("Lip-sync analysis failed, using local fallback: " + err.Error())
		}
	}

	metrics.RecordLipSyncFallback()
	return s.fallbackFrames(text, duration)
}

func (s *Synthesizer) analyze(ctx context.Context, text, audioURL string) ([]models.LipSyncFrame, error) {
	sessionID, err := s.client.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	defer s.client.CloseSession(context.Background(), sessionID)

	return s.client.ProcessAudio(ctx, sessionID, text, audioURL)
}

// fallbackFrames generates floor(duration*fps) frames of low-intensity
// mouth movement. Seeded by the text so the same narration always animates
// the same way.
func (s *Synthesizer) fallbackFrames(text string, duration float64) []models.LipSyncFrame {
	count := int(math.Floor(duration * float64(s.fallbackFPS)))
	if count <= 0 {
		return nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	frameMS := 1000.0 / float64(s.fallbackFPS)
	frames := make([]models.LipSyncFrame, count)
	for i := range frames {
		phoneme := fallbackPhonemes[rng.Intn(len(fallbackPhonemes))]
		intensity := 0.2 + rng.Float64()*0.3

		jaw := intensity * 0.8
		if phoneme == "sil" {
			intensity = 0.05
			jaw = 0.02
		}

		frames[i] = models.LipSyncFrame{
			Timestamp: int(math.Round(float64(i) * frameMS)),
			Phoneme:   phoneme,
			Intensity: intensity,
			BlendShapes: map[string]float64{
				"jawOpen":     jaw,
				"mouthClose":  1 - intensity,
				"mouthFunnel": intensity * 0.4,
			},
		}
	}

	return frames
}

// SampleFrameAtTime returns the frame whose timestamp is nearest to the
// requested playback time. An empty sequence yields a zero frame.
func SampleFrameAtTime(frames []models.LipSyncFrame, seconds float64) models.LipSyncFrame {
	if len(frames) == 0 {
		return models.LipSyncFrame{}
	}

	targetMS := seconds * 1000
	best := frames[0]
	bestDist := math.Abs(float64(best.Timestamp) - targetMS)
	for _, f := range frames[1:] {
		dist := math.Abs(float64(f.Timestamp) - targetMS)
		if dist < bestDist {
			best = f
			bestDist = dist
		}
	}

	return best
}

// emotionOverlays are additive blend-shape deltas layered over the base
// lip-sync pose. "neutral" is deliberately absent: it is a no-op.
var emotionOverlays = map[string]map[string]float64{
	"happy": {
		"mouthSmileLeft":  0.6,
		"mouthSmileRight": 0.6,
		"cheekSquintLeft": 0.3,
	},
	"sad": {
		"mouthFrownLeft":  0.5,
		"mouthFrownRight": 0.5,
		"browInnerUp":     0.4,
	},
	"angry": {
		"browDownLeft":  0.6,
		"browDownRight": 0.6,
		"noseSneerLeft": 0.3,
	},
	"surprised": {
		"browInnerUp": 0.7,
		"eyeWideLeft": 0.5,
		"jawOpen":     0.3,
	},
}

// ApplyBlendShapes writes a frame's pose into the mesh in two passes: the
// lip-sync base first, then the emotion overlay scaled by emotionIntensity
// and added on top. Intensity is clamped to [0, 1]; at 0 the overlay is a
// no-op. Influences are clamped to 1.0 and shapes the mesh does not carry
// are skipped.
func ApplyBlendShapes(mesh *models.Mesh, frame models.LipSyncFrame, emotion string, emotionIntensity float64) {
	for name, value := range frame.BlendShapes {
		idx, ok := mesh.ShapeIndex[name]
		if !ok {
			continue
		}
		mesh.Influences[idx] = math.Min(value, 1.0)
	}

	overlay, ok := emotionOverlays[emotion]
	if !ok || emotionIntensity <= 0 {
		return
	}
	if emotionIntensity > 1 {
		emotionIntensity = 1
	}
	for name, delta := range overlay {
		idx, ok := mesh.ShapeIndex[name]
		if !ok {
			continue
		}
		mesh.Influences[idx] = math.Min(mesh.Influences[idx]+delta*emotionIntensity, 1.0)
	}
}
