// Package agent implements the trainable policy behind the
// train.Learner boundary: a tabular Q-learner with an epsilon-greedy
// exploration schedule and an experience-replay buffer, over a
// discretized view of the environment's feature vector.
package agent

import (
	"math"
	"math/rand"
	"strconv"
	"strings"

	"mltetris/train"
)

// transition is one replayable experience.
type transition struct {
	Key     string
	Action  int
	Reward  float64
	NextKey string
	Done    bool
}

// QLearner is a train.Learner. Not safe for concurrent use; the owning
// worker is its only caller.
type QLearner struct {
	env train.Environment
	cfg train.Config
	rng *rand.Rand

	table   map[string][]float64
	actions int

	replay    []transition
	replayPos int

	timestepsTrained int
}

// Option configures a QLearner.
type Option func(*QLearner)

// WithSeed fixes the exploration sequence, for reproducible tests.
func WithSeed(seed int64) Option {
	return func(q *QLearner) { q.rng = rand.New(rand.NewSource(seed)) }
}

// New returns a learner bound to its environment.
func New(env train.Environment, cfg train.Config, opts ...Option) *QLearner {
	q := &QLearner{
		env:     env,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(rand.Int63())),
		table:   make(map[string][]float64),
		actions: env.ActionCount(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// TimestepsTrained implements train.Learner.
func (q *QLearner) TimestepsTrained() int { return q.timestepsTrained }

// Train implements train.Learner: run up to steps environment steps,
// reporting each to the observer and stopping early when it returns
// false.
func (q *QLearner) Train(steps int, observer train.StepObserver) error {
	obs, _ := q.env.Reset()
	key := q.discretize(obs)

	for i := 0; i < steps; i++ {
		action := q.explore(key)
		next, reward, terminated, truncated, nextInfo := q.env.Step(action)
		nextKey := q.discretize(next)
		done := terminated || truncated

		q.update(transition{Key: key, Action: action, Reward: reward, NextKey: nextKey, Done: done})
		q.remember(transition{Key: key, Action: action, Reward: reward, NextKey: nextKey, Done: done})
		q.timestepsTrained++

		if q.timestepsTrained > q.cfg.LearningStarts &&
			q.cfg.TrainFreq > 0 && q.timestepsTrained%q.cfg.TrainFreq == 0 {
			q.replayBatch()
		}

		cont := observer.OnStep(train.Step{
			Timesteps: q.timestepsTrained,
			Reward:    reward,
			Lines:     nextInfo.Lines,
			Done:      done,
			Board:     nextInfo.Board,
		})

		if done {
			obs, _ = q.env.Reset()
			key = q.discretize(obs)
		} else {
			key = nextKey
		}

		if !cont {
			break
		}
	}
	return nil
}

// Predict implements train.Learner: the greedy action for an observation.
func (q *QLearner) Predict(obs train.Observation) int {
	return q.argmax(q.discretize(obs))
}

// explore follows the linear epsilon schedule: decay from initial to
// final over ExplorationFraction of the timestep budget.
func (q *QLearner) explore(key string) int {
	eps := q.epsilon()
	if q.rng.Float64() < eps {
		return q.rng.Intn(q.actions)
	}
	return q.argmax(key)
}

func (q *QLearner) epsilon() float64 {
	span := q.cfg.ExplorationFraction * float64(q.cfg.MaxTimesteps)
	if span <= 0 {
		return q.cfg.ExplorationFinal
	}
	frac := float64(q.timestepsTrained) / span
	if frac > 1 {
		frac = 1
	}
	return q.cfg.ExplorationInitial + frac*(q.cfg.ExplorationFinal-q.cfg.ExplorationInitial)
}

func (q *QLearner) values(key string) []float64 {
	vals, ok := q.table[key]
	if !ok {
		vals = make([]float64, q.actions)
		q.table[key] = vals
	}
	return vals
}

func (q *QLearner) argmax(key string) int {
	vals, ok := q.table[key]
	if !ok {
		return 0
	}
	best, bestVal := 0, math.Inf(-1)
	for a, v := range vals {
		if v > bestVal {
			best, bestVal = a, v
		}
	}
	return best
}

func (q *QLearner) maxValue(key string) float64 {
	vals, ok := q.table[key]
	if !ok {
		return 0
	}
	max := math.Inf(-1)
	for _, v := range vals {
		if v > max {
			max = v
		}
	}
	return max
}

// update applies the Q-learning rule:
// Q(s,a) += lr * (r + gamma*max_a' Q(s',a') - Q(s,a)).
func (q *QLearner) update(t transition) {
	vals := q.values(t.Key)
	target := t.Reward
	if !t.Done {
		target += q.cfg.Gamma * q.maxValue(t.NextKey)
	}
	vals[t.Action] += q.cfg.LearningRate * (target - vals[t.Action])
}

func (q *QLearner) remember(t transition) {
	if q.cfg.BufferSize <= 0 {
		return
	}
	if len(q.replay) < q.cfg.BufferSize {
		q.replay = append(q.replay, t)
		return
	}
	q.replay[q.replayPos] = t
	q.replayPos = (q.replayPos + 1) % q.cfg.BufferSize
}

func (q *QLearner) replayBatch() {
	if len(q.replay) == 0 || q.cfg.BatchSize <= 0 {
		return
	}
	for i := 0; i < q.cfg.BatchSize; i++ {
		q.update(q.replay[q.rng.Intn(len(q.replay))])
	}
}

// discretize buckets the feature vector into a compact state key. The
// first ten features are column heights (bucketed by 2), then holes,
// bumpiness, and max height (capped so the table stays bounded).
func (q *QLearner) discretize(obs train.Observation) string {
	var b strings.Builder
	for i, f := range obs {
		v := int(f)
		switch {
		case i < 10:
			v /= 2
		case v > 12:
			v = 12
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}
