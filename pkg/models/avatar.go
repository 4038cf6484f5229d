package models

// Avatar engine identifiers
const (
	EngineUE5    = "ue5"
	EngineLocal  = "local"
	EngineHeyGen = "heygen"
	EngineAuto   = "auto"
)

// AvatarDefinition is an immutable registry entry describing one avatar.
// Entries are looked up by ID and never mutated at runtime.
type AvatarDefinition struct {
	ID     string   `json:"id" db:"id"`
	Name   string   `json:"name" db:"name"`
	Engine string   `json:"engine" db:"engine"`
	Gender string   `json:"gender" db:"gender"`
	Style  string   `json:"style" db:"style"`
	Tags   []string `json:"tags,omitempty" db:"tags"`

	// Engine-specific metadata
	ModelPath     string `json:"model_path,omitempty" db:"model_path"`
	MaxWidth      int    `json:"max_width,omitempty" db:"max_width"`
	MaxHeight     int    `json:"max_height,omitempty" db:"max_height"`
	HostedID      string `json:"hosted_id,omitempty" db:"hosted_id"`
	HostedVoiceID string `json:"hosted_voice_id,omitempty" db:"hosted_voice_id"`
}

// EngineRequest asks one avatar backend for a render. Exactly one of the
// options fields is set, keyed by Engine, so each client only ever sees
// its own well-typed options.
type EngineRequest struct {
	Engine          string         `json:"engine"`
	DurationSeconds float64        `json:"duration_seconds"`
	FrameRate       int            `json:"frame_rate"`
	LipSync         []LipSyncFrame `json:"lipsync,omitempty"`
	UE5             *UE5Options    `json:"ue5,omitempty"`
	Local           *LocalOptions  `json:"local,omitempty"`
	HeyGen          *HeyGenOptions `json:"heygen,omitempty"`
}

// UE5Options configures a render-farm request
type UE5Options struct {
	ModelPath string `json:"model_path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Quality   string `json:"quality,omitempty"`
}

// LocalOptions configures the in-process raster renderer
type LocalOptions struct {
	AssetPath string `json:"asset_path,omitempty"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// HeyGenOptions configures a hosted talking-avatar video request
type HeyGenOptions struct {
	AvatarID   string `json:"avatar_id"`
	VoiceID    string `json:"voice_id"`
	InputText  string `json:"input_text"`
	Background string `json:"background,omitempty"`
}

// Render result kinds
const (
	ResultKindFrames = "frames"
	ResultKindVideo  = "video"
)

// RenderResult is the normalized output of any avatar backend: either an
// ordered frame sequence to be encoded locally, or a hosted video.
type RenderResult struct {
	Kind     string   `json:"kind"`
	Engine   string   `json:"engine"`
	Frames   [][]byte `json:"-"`
	VideoID  string   `json:"video_id,omitempty"`
	VideoURL string   `json:"video_url,omitempty"`
}
