// Package game implements a falling-block puzzle environment behind the
// train.Environment boundary: a 20x10 playfield, seven tetrominoes, and
// shaped rewards that penalize holes and stack height while rewarding
// line clears.
package game

import (
	"math/rand"

	"mltetris/train"
)

// Board dimensions of the visible playfield.
const (
	Rows = 20
	Cols = 10
)

// Discrete action space.
const (
	ActionLeft = iota
	ActionRight
	ActionRotate
	ActionSoftDrop
	ActionHardDrop
	ActionNoop
	actionCount
)

// RewardConfig holds the shaping parameters. Penalties are negative.
type RewardConfig struct {
	HolePenalty     float64
	HeightPenalty   float64
	ClearBonus      float64
	GameOverPenalty float64
}

// DefaultRewardConfig mirrors the tuned shaping defaults.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		HolePenalty:     -0.5,
		HeightPenalty:   -0.1,
		ClearBonus:      1.0,
		GameOverPenalty: -10.0,
	}
}

// Line-clear base rewards, indexed by lines cleared at once.
var lineRewards = [5]float64{0, 1, 3, 5, 8}

// tetromino shapes as cell offsets per rotation.
var shapes = [][][][2]int{
	{ // I
		{{1, 0}, {1, 1}, {1, 2}, {1, 3}},
		{{0, 2}, {1, 2}, {2, 2}, {3, 2}},
	},
	{ // O
		{{0, 1}, {0, 2}, {1, 1}, {1, 2}},
	},
	{ // T
		{{0, 1}, {1, 0}, {1, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {1, 2}, {2, 1}},
		{{1, 0}, {1, 1}, {1, 2}, {2, 1}},
		{{0, 1}, {1, 0}, {1, 1}, {2, 1}},
	},
	{ // S
		{{0, 1}, {0, 2}, {1, 0}, {1, 1}},
		{{0, 1}, {1, 1}, {1, 2}, {2, 2}},
	},
	{ // Z
		{{0, 0}, {0, 1}, {1, 1}, {1, 2}},
		{{0, 2}, {1, 1}, {1, 2}, {2, 1}},
	},
	{ // J
		{{0, 0}, {1, 0}, {1, 1}, {1, 2}},
		{{0, 1}, {0, 2}, {1, 1}, {2, 1}},
		{{1, 0}, {1, 1}, {1, 2}, {2, 2}},
		{{0, 1}, {1, 1}, {2, 0}, {2, 1}},
	},
	{ // L
		{{0, 2}, {1, 0}, {1, 1}, {1, 2}},
		{{0, 1}, {1, 1}, {2, 1}, {2, 2}},
		{{1, 0}, {1, 1}, {1, 2}, {2, 0}},
		{{0, 0}, {0, 1}, {1, 1}, {2, 1}},
	},
}

type piece struct {
	kind     int
	rotation int
	row, col int
}

func (p piece) cells() [][2]int {
	offsets := shapes[p.kind][p.rotation%len(shapes[p.kind])]
	cells := make([][2]int, len(offsets))
	for i, off := range offsets {
		cells[i] = [2]int{p.row + off[0], p.col + off[1]}
	}
	return cells
}

// Env is a train.Environment. Not safe for concurrent use; each worker
// owns exactly one instance.
type Env struct {
	reward RewardConfig
	rng    *rand.Rand

	board   [Rows][Cols]int
	current piece
	over    bool

	episodeLines int
	episodeSteps int
	maxSteps     int

	prevHoles  int
	prevHeight int
}

// Option configures an Env.
type Option func(*Env)

// WithSeed fixes the piece sequence, for reproducible tests.
func WithSeed(seed int64) Option {
	return func(e *Env) { e.rng = rand.New(rand.NewSource(seed)) }
}

// WithRewardConfig overrides the shaping parameters.
func WithRewardConfig(rc RewardConfig) Option {
	return func(e *Env) { e.reward = rc }
}

// WithMaxEpisodeSteps sets the truncation horizon. Zero disables it.
func WithMaxEpisodeSteps(n int) Option {
	return func(e *Env) { e.maxSteps = n }
}

// NewEnv returns a fresh environment. Reset must be called before Step.
func NewEnv(opts ...Option) *Env {
	e := &Env{
		reward:   DefaultRewardConfig(),
		rng:      rand.New(rand.NewSource(rand.Int63())),
		maxSteps: 10_000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ActionCount implements train.Environment.
func (e *Env) ActionCount() int { return actionCount }

// Reset implements train.Environment.
func (e *Env) Reset() (train.Observation, train.StepInfo) {
	e.board = [Rows][Cols]int{}
	e.over = false
	e.episodeLines = 0
	e.episodeSteps = 0
	e.spawn()
	e.prevHoles = 0
	e.prevHeight = 0
	return e.observe(), e.info()
}

// Step implements train.Environment. Each step applies the action, then
// one row of gravity; a piece that cannot fall locks into the board.
func (e *Env) Step(action int) (train.Observation, float64, bool, bool, train.StepInfo) {
	if e.over {
		// Stepping a finished episode is a caller bug; keep it benign.
		return e.observe(), 0, true, false, e.info()
	}

	e.episodeSteps++
	locked := false
	cleared := 0

	switch action {
	case ActionLeft:
		e.tryMove(0, -1)
	case ActionRight:
		e.tryMove(0, 1)
	case ActionRotate:
		e.tryRotate()
	case ActionSoftDrop:
		e.tryMove(1, 0)
	case ActionHardDrop:
		for e.tryMove(1, 0) {
		}
		locked = true
	}

	if !locked {
		locked = !e.tryMove(1, 0)
	}

	if locked {
		e.lock()
		cleared = e.clearLines()
		e.episodeLines += cleared
		e.spawn()
	}

	// Shaped reward: base clear reward scaled by the bonus multiplier,
	// plus penalties for newly created holes and height growth.
	holes := e.countHoles()
	height := e.maxHeight()
	reward := lineRewards[cleared] * e.reward.ClearBonus
	if d := holes - e.prevHoles; d > 0 {
		reward += float64(d) * e.reward.HolePenalty
	}
	if d := height - e.prevHeight; d > 0 {
		reward += float64(d) * e.reward.HeightPenalty
	}
	e.prevHoles = holes
	e.prevHeight = height

	if e.over {
		reward += e.reward.GameOverPenalty
	}

	truncated := !e.over && e.maxSteps > 0 && e.episodeSteps >= e.maxSteps
	return e.observe(), reward, e.over, truncated, e.info()
}

func (e *Env) spawn() {
	e.current = piece{
		kind:     e.rng.Intn(len(shapes)),
		rotation: 0,
		row:      0,
		col:      Cols/2 - 2,
	}
	if e.collides(e.current) {
		e.over = true
	}
}

func (e *Env) collides(p piece) bool {
	for _, c := range p.cells() {
		r, col := c[0], c[1]
		if r < 0 || r >= Rows || col < 0 || col >= Cols {
			return true
		}
		if e.board[r][col] != 0 {
			return true
		}
	}
	return false
}

func (e *Env) tryMove(dr, dc int) bool {
	moved := e.current
	moved.row += dr
	moved.col += dc
	if e.collides(moved) {
		return false
	}
	e.current = moved
	return true
}

func (e *Env) tryRotate() bool {
	rotated := e.current
	rotated.rotation = (rotated.rotation + 1) % len(shapes[rotated.kind])
	if e.collides(rotated) {
		return false
	}
	e.current = rotated
	return true
}

func (e *Env) lock() {
	for _, c := range e.current.cells() {
		e.board[c[0]][c[1]] = e.current.kind + 1
	}
}

func (e *Env) clearLines() int {
	cleared := 0
	for r := Rows - 1; r >= 0; r-- {
		full := true
		for c := 0; c < Cols; c++ {
			if e.board[r][c] == 0 {
				full = false
				break
			}
		}
		if !full {
			continue
		}
		cleared++
		for rr := r; rr > 0; rr-- {
			e.board[rr] = e.board[rr-1]
		}
		e.board[0] = [Cols]int{}
		r++ // re-check the row that shifted down
	}
	return cleared
}

func (e *Env) columnHeights() [Cols]int {
	var heights [Cols]int
	for c := 0; c < Cols; c++ {
		for r := 0; r < Rows; r++ {
			if e.board[r][c] != 0 {
				heights[c] = Rows - r
				break
			}
		}
	}
	return heights
}

func (e *Env) countHoles() int {
	holes := 0
	for c := 0; c < Cols; c++ {
		seen := false
		for r := 0; r < Rows; r++ {
			if e.board[r][c] != 0 {
				seen = true
			} else if seen {
				holes++
			}
		}
	}
	return holes
}

func (e *Env) maxHeight() int {
	max := 0
	for _, h := range e.columnHeights() {
		if h > max {
			max = h
		}
	}
	return max
}

// observe extracts the feature vector: ten column heights, hole count,
// bumpiness, and max height.
func (e *Env) observe() train.Observation {
	heights := e.columnHeights()
	obs := make(train.Observation, 0, Cols+3)
	for _, h := range heights {
		obs = append(obs, float64(h))
	}
	obs = append(obs, float64(e.countHoles()))
	bumpiness := 0
	for c := 0; c < Cols-1; c++ {
		d := heights[c] - heights[c+1]
		if d < 0 {
			d = -d
		}
		bumpiness += d
	}
	obs = append(obs, float64(bumpiness))
	obs = append(obs, float64(e.maxHeight()))
	return obs
}

// info renders the playfield with the active piece overlaid, the way a
// client expects to draw it.
func (e *Env) info() train.StepInfo {
	grid := make([][]int, Rows)
	for r := 0; r < Rows; r++ {
		grid[r] = make([]int, Cols)
		copy(grid[r], e.board[r][:])
	}
	if !e.over {
		for _, c := range e.current.cells() {
			grid[c[0]][c[1]] = e.current.kind + 1
		}
	}
	return train.StepInfo{Lines: e.episodeLines, Board: grid}
}
