package train

// LinesTracker accumulates line-clear statistics for one session. It is
// owned exclusively by the training worker and mutated only at step and
// episode boundaries, so it needs no locking.
type LinesTracker struct {
	best    int
	total   int
	episode int
}

// Observe records the episode's running line count. Environments report
// cumulative lines per episode, so only increases are kept.
func (t *LinesTracker) Observe(lines int) {
	if lines > t.episode {
		t.episode = lines
	}
}

// EndEpisode folds the finished episode into the session aggregates and
// reports whether it set a new session best.
func (t *LinesTracker) EndEpisode() (lines int, newBest bool) {
	lines = t.episode
	if t.episode > t.best {
		t.best = t.episode
		newBest = true
	}
	t.total += t.episode
	t.episode = 0
	return lines, newBest
}

// BestLines is the maximum single-episode line count this session.
func (t *LinesTracker) BestLines() int { return t.best }

// TotalLines is the sum across all completed episodes this session.
func (t *LinesTracker) TotalLines() int { return t.total }

// GoalMonitor periodically compares the tracker's best against a target
// and signals loop termination once the target is reached. A zero or
// negative target disables the check entirely.
type GoalMonitor struct {
	target    int
	checkFreq int
	tracker   *LinesTracker
	calls     int
}

// NewGoalMonitor wires a monitor to a tracker. checkFreq is in loop
// iterations; values below 1 are treated as 1.
func NewGoalMonitor(targetLines, checkFreq int, tracker *LinesTracker) *GoalMonitor {
	if checkFreq < 1 {
		checkFreq = 1
	}
	return &GoalMonitor{
		target:    targetLines,
		checkFreq: checkFreq,
		tracker:   tracker,
	}
}

// Check returns true when training should stop. Only every checkFreq-th
// call performs the comparison; intermediate calls always continue.
func (g *GoalMonitor) Check() bool {
	if g.target <= 0 {
		return false
	}
	g.calls++
	if g.calls%g.checkFreq != 0 {
		return false
	}
	return g.tracker.BestLines() >= g.target
}
