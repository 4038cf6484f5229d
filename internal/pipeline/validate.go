package pipeline

import (
	"fmt"

	"github.com/renderdeck/renderdeck/internal/faults"
	"github.com/renderdeck/renderdeck/pkg/models"
)

// ValidateProject checks a timeline project before any external call or
// subprocess is spawned. Validation failures never consume farm or API
// quota.
func ValidateProject(project *models.TimelineProject) error {
	if project == nil {
		return faults.NewValidation("project", "missing project")
	}
	if project.Duration <= 0 {
		return faults.NewValidation("duration", "must be positive")
	}
	if project.Width <= 0 || project.Height <= 0 {
		return faults.NewValidation("dimensions", "width and height must be positive")
	}
	if project.FrameRate <= 0 {
		return faults.NewValidation("frame_rate", "must be positive")
	}

	for _, layer := range project.Layers {
		for _, el := range layer.Elements {
			if el.ID == "" {
				return faults.NewValidation("element.id", fmt.Sprintf("empty element id on layer %d", layer.Index))
			}
			if el.Start < 0 {
				return faults.NewValidation("element.start", fmt.Sprintf("element %s starts before zero", el.ID))
			}
			if el.Duration <= 0 {
				return faults.NewValidation("element.duration", fmt.Sprintf("element %s has non-positive duration", el.ID))
			}
			if el.Start+el.Duration > project.Duration {
				return faults.NewValidation("element.duration", fmt.Sprintf("element %s extends past the project end", el.ID))
			}
		}
	}

	return nil
}
