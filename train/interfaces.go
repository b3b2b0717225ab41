// Package train defines the worker side of a training session: the
// interface boundary to the environment and learner, the per-iteration
// loop contract, episode statistics, goal-based early stopping, and the
// checkpoint metadata envelope.
package train

// Observation is the feature vector the environment exposes per step.
type Observation []float64

// StepInfo carries the environment's side-band data for one step: the
// episode's running line-clear count and the visible playfield.
type StepInfo struct {
	Lines int
	Board [][]int
}

// Environment is the game simulation boundary. Implementations own all
// board mechanics and reward shaping; the trainer treats both as opaque.
type Environment interface {
	// Reset begins a new episode.
	Reset() (Observation, StepInfo)
	// Step advances the simulation by one action.
	Step(action int) (obs Observation, reward float64, terminated, truncated bool, info StepInfo)
	// ActionCount reports the size of the discrete action space.
	ActionCount() int
}

// Step is the per-iteration report a learner hands its observer after
// each environment interaction.
type Step struct {
	// Timesteps is the learner's cumulative step counter.
	Timesteps int
	Reward    float64
	Lines     int
	// Done marks an episode boundary (terminated or truncated).
	Done  bool
	Board [][]int
}

// StepObserver is invoked synchronously after every environment step a
// learner takes. Returning false requests cooperative loop termination;
// the learner must honor it before the next step.
type StepObserver interface {
	OnStep(step Step) bool
}

// Learner is the trainable policy boundary. Train runs up to the given
// number of environment steps, calling the observer after each one.
// Save and Load move the learner's opaque artifacts (model, replay
// state) in and out of a checkpoint directory; the metadata envelope is
// handled separately by this package.
type Learner interface {
	Train(steps int, observer StepObserver) error
	Predict(obs Observation) int
	Save(dir string) error
	Load(dir string) error
	// TimestepsTrained is the cumulative step count across Train calls,
	// preserved over Save/Load.
	TimestepsTrained() int
}
