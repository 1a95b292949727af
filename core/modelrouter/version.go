package modelrouter

import (
	"errors"
	"fmt"
	"time"
)

// ErrModelNotFound indicates no versions are registered under a model name.
// A hard error: there is no fallback artifact.
var ErrModelNotFound = errors.New("model_not_found")

// ErrVersionNotFound indicates the referenced version was never registered.
var ErrVersionNotFound = errors.New("version_not_found")

// InvalidSplitError rejects an activation or split that would leave traffic
// percentages in an illegal state. Never partially applied.
type InvalidSplitError struct {
	Model  string
	Detail string
}

func (e *InvalidSplitError) Error() string {
	return fmt.Sprintf("invalid split for model %s: %s", e.Model, e.Detail)
}

// Version is one deployable artifact of a served model. Multiple versions of
// a model may be active only during a split, with percentages summing to at
// most 100.
type Version struct {
	ID           string            `json:"id"`
	Model        string            `json:"model"`
	Label        string            `json:"label"`
	ArtifactPath string            `json:"artifact_path"`
	Active       bool              `json:"active"`
	TrafficPct   int               `json:"traffic_pct"`
	PerfScore    *float64          `json:"perf_score,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	DeployedAt   *time.Time        `json:"deployed_at,omitempty"`
}

// Clone returns a deep copy so stored records cannot be mutated by callers.
func (v *Version) Clone() *Version {
	if v == nil {
		return nil
	}
	out := *v
	if v.Metadata != nil {
		out.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			out.Metadata[k] = val
		}
	}
	if v.PerfScore != nil {
		score := *v.PerfScore
		out.PerfScore = &score
	}
	if v.DeployedAt != nil {
		ts := *v.DeployedAt
		out.DeployedAt = &ts
	}
	return &out
}
