package storyflow

import (
	"strconv"
	"time"

	"github.com/magictales/storyforge/internal/pkg/env"
)

// StepTemplate names one pipeline step and carries the instruction sent to
// the generation backend for it.
type StepTemplate struct {
	Name        string
	Instruction string
}

// Config fixes the pipeline shape. The step count and the billing window are
// deliberately configuration, not inference.
type Config struct {
	Steps           []StepTemplate
	StepTimeout     time.Duration
	ConflictRetries int
	ConflictBackoff time.Duration
}

// TotalSteps is the number of generation steps a story must pass to be
// completed.
func (c Config) TotalSteps() int {
	return len(c.Steps)
}

// DefaultConfig returns the standard five-step pipeline. STORY_STEP_TIMEOUT
// (seconds) overrides the per-step generation timeout.
func DefaultConfig() Config {
	timeout := 90 * time.Second
	if v, err := strconv.Atoi(env.GetEnv("STORY_STEP_TIMEOUT", "")); err == nil && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	return Config{
		Steps: []StepTemplate{
			{Name: "premise", Instruction: "Write the premise and synopsis of the story for this profile."},
			{Name: "characters", Instruction: "Introduce the main characters, their looks and their quirks."},
			{Name: "outline", Instruction: "Lay out the chapter outline from opening to resolution."},
			{Name: "chapters", Instruction: "Write the full chapters following the outline."},
			{Name: "finale", Instruction: "Write the finale and closing moral of the story."},
		},
		StepTimeout:     timeout,
		ConflictRetries: 3,
		ConflictBackoff: 150 * time.Millisecond,
	}
}
