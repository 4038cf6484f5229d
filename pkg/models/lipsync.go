package models

// LipSyncFrame is one timestamped sample of mouth articulation: a dominant
// phoneme class, its intensity, and up to ten named blend-shape weights in
// [0, 1]. A sequence is ordered by Timestamp, monotonically non-decreasing.
type LipSyncFrame struct {
	Timestamp   int                `json:"timestamp"` // ms
	Phoneme     string             `json:"phoneme"`
	Intensity   float64            `json:"intensity"`
	BlendShapes map[string]float64 `json:"blend_shapes,omitempty"`
}

// Mesh is the minimal face-model surface the synthesizer writes to: a
// morph-target influence array addressed by shape name.
type Mesh struct {
	ShapeIndex map[string]int `json:"shape_index"`
	Influences []float64      `json:"influences"`
}

// NewMesh builds a mesh with the given morph-target names, all weights zero.
func NewMesh(shapes ...string) *Mesh {
	m := &Mesh{
		ShapeIndex: make(map[string]int, len(shapes)),
		Influences: make([]float64, len(shapes)),
	}
	for i, name := range shapes {
		m.ShapeIndex[name] = i
	}
	return m
}

// Influence returns the current weight for a named shape, or 0 if the mesh
// does not define it.
func (m *Mesh) Influence(name string) float64 {
	idx, ok := m.ShapeIndex[name]
	if !ok {
		return 0
	}
	return m.Influences[idx]
}
