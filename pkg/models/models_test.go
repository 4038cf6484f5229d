package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderSettingsValueScan(t *testing.T) {
	settings := RenderSettings{
		Codec:     "h265",
		Quality:   "high",
		FrameRate: 30,
		FastStart: true,
		Metadata:  map[string]string{"title": "demo"},
	}

	value, err := settings.Value()
	assert.NoError(t, err)

	var scanned RenderSettings
	err = scanned.Scan(value.([]byte))
	assert.NoError(t, err)
	assert.Equal(t, settings, scanned)
}

func TestRenderSettingsScanNil(t *testing.T) {
	var settings RenderSettings
	assert.NoError(t, settings.Scan(nil))
	assert.Empty(t, settings.Codec)
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{JobStatusQueued, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTerminal(tt.status))
		})
	}
}

func TestRenderJobJSONOmitsEmptyTimestamps(t *testing.T) {
	job := RenderJob{
		ID:        "job-1",
		ProjectID: "project-1",
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	assert.NoError(t, err)
	assert.NotContains(t, string(data), "started_at")
	assert.NotContains(t, string(data), "completed_at")
}

func TestMeshInfluenceLookup(t *testing.T) {
	mesh := NewMesh("jawOpen", "mouthFunnel")

	assert.Equal(t, 0.0, mesh.Influence("jawOpen"))
	mesh.Influences[mesh.ShapeIndex["jawOpen"]] = 0.7
	assert.Equal(t, 0.7, mesh.Influence("jawOpen"))

	// Unknown shapes read as zero rather than panicking
	assert.Equal(t, 0.0, mesh.Influence("browUp"))
}

func TestEngineRequestTaggedUnion(t *testing.T) {
	req := EngineRequest{
		Engine:          EngineHeyGen,
		DurationSeconds: 10,
		HeyGen: &HeyGenOptions{
			AvatarID:  "host-1",
			VoiceID:   "voice-1",
			InputText: "hello",
		},
	}

	data, err := json.Marshal(req)
	assert.NoError(t, err)
	assert.Contains(t, string(data), `"heygen"`)
	assert.NotContains(t, string(data), `"ue5"`)
	assert.NotContains(t, string(data), `"local"`)
}
