package train

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the training hyperparameters and session cadences. JSON
// tags define the serialized form used in the checkpoint metadata
// envelope and the API request body; they must stay stable across
// versions or old checkpoints become unreadable.
type Config struct {
	// Learner hyperparameters.
	LearningRate        float64 `json:"learning_rate" mapstructure:"learningRate"`
	BufferSize          int     `json:"buffer_size" mapstructure:"bufferSize"`
	BatchSize           int     `json:"batch_size" mapstructure:"batchSize"`
	Gamma               float64 `json:"gamma" mapstructure:"gamma"`
	ExplorationInitial  float64 `json:"exploration_initial_eps" mapstructure:"explorationInitialEps"`
	ExplorationFinal    float64 `json:"exploration_final_eps" mapstructure:"explorationFinalEps"`
	ExplorationFraction float64 `json:"exploration_fraction" mapstructure:"explorationFraction"`
	TrainFreq           int     `json:"train_freq" mapstructure:"trainFreq"`
	LearningStarts      int     `json:"learning_starts" mapstructure:"learningStarts"`

	// Session goal and budget.
	MaxTimesteps int `json:"max_timesteps" mapstructure:"maxTimesteps"`
	// TargetLines of 0 disables goal-based early stopping.
	TargetLines int `json:"target_lines" mapstructure:"targetLines"`

	// Checkpointing.
	CheckpointDir  string `json:"checkpoint_dir" mapstructure:"checkpointDir"`
	CheckpointFreq int    `json:"checkpoint_freq" mapstructure:"checkpointFreq"`

	// Telemetry cadences, in loop iterations. Both are decoupled from
	// the visualization speed, which only stretches the inter-step delay.
	MetricsFreq   int `json:"metrics_freq" mapstructure:"metricsFreq"`
	BoardFreq     int `json:"board_freq" mapstructure:"boardFreq"`
	GoalCheckFreq int `json:"goal_check_freq" mapstructure:"goalCheckFreq"`
}

// DefaultConfig returns the tuned defaults for the falling-block task.
func DefaultConfig() Config {
	return Config{
		LearningRate:        1e-4,
		BufferSize:          100_000,
		BatchSize:           64,
		Gamma:               0.99,
		ExplorationInitial:  1.0,
		ExplorationFinal:    0.05,
		ExplorationFraction: 0.2,
		TrainFreq:           4,
		LearningStarts:      10_000,
		MaxTimesteps:        500_000,
		TargetLines:         0,
		CheckpointDir:       "./checkpoints",
		CheckpointFreq:      10_000,
		MetricsFreq:         100,
		BoardFreq:           10,
		GoalCheckFreq:       1000,
	}
}

// FromYaml loads a Config from a kind/def yaml document, falling back to
// defaults for any field the file omits. Viper lowercases every key it
// reads, so the def subtree is decoded straight onto the struct through
// its mapstructure tags, which match case-insensitively; never re-emit
// viper's view of the document as yaml, the casing is already gone.
func FromYaml(path string) (Config, error) {
	cfg := DefaultConfig()

	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return cfg, err
	}

	def := vp.Sub("def")
	if def == nil {
		return cfg, nil
	}
	if err := def.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

const (
	// MinSpeed and MaxSpeed bound the visualization speed knob.
	MinSpeed = 0.1
	MaxSpeed = 1.0
)

// ClampSpeed forces a requested speed into [MinSpeed, MaxSpeed].
func ClampSpeed(speed float64) float64 {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}

// StepDelay maps a clamped speed onto the optional per-step sleep used
// in visual mode: full speed means no delay, minimum speed 0.45s.
func StepDelay(speed float64) time.Duration {
	speed = ClampSpeed(speed)
	return time.Duration((MaxSpeed - speed) * 0.5 * float64(time.Second))
}
