package models

import "time"

// TimelineProject is an edited project: ordered layers of timed elements.
type TimelineProject struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Duration  float64         `json:"duration"` // seconds
	FrameRate int             `json:"frame_rate"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	Layers    []TimelineLayer `json:"layers"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// TimelineLayer is an ordered sequence of elements. Higher layer indexes
// are composited above lower ones.
type TimelineLayer struct {
	Index    int               `json:"index"`
	Elements []TimelineElement `json:"elements"`
}

// TimelineElement is a single timed item on a layer. An element is owned
// by exactly one layer; moving it between layers transfers ownership.
type TimelineElement struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Start     float64    `json:"start"`    // seconds
	Duration  float64    `json:"duration"` // seconds
	Source    string     `json:"source,omitempty"`
	Text      string     `json:"text,omitempty"`
	AvatarID  string     `json:"avatar_id,omitempty"`
	Engine    string     `json:"engine,omitempty"`
	Emotion   string     `json:"emotion,omitempty"`
	AudioURL  string     `json:"audio_url,omitempty"`
	Keyframes []Keyframe `json:"keyframes,omitempty"`
}

// Keyframe animates one element property over time
type Keyframe struct {
	Property  string  `json:"property"`
	Timestamp float64 `json:"timestamp"` // seconds
	Value     float64 `json:"value"`
	Easing    string  `json:"easing,omitempty"`
}

// Element type constants
const (
	ElementTypeVideo      = "video"
	ElementTypeAudio      = "audio"
	ElementTypeImage      = "image"
	ElementTypeText       = "text"
	ElementTypeAvatar     = "avatar"
	ElementTypeShape      = "shape"
	ElementTypeEffect     = "effect"
	ElementTypeTransition = "transition"
	ElementTypePPTXSlide  = "pptx-slide"
)
