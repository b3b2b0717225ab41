package train

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"mltetris/control"
	"mltetris/telemetry"
)

// worker is the training-side observer. It owns the lines tracker, the
// goal monitor, and the episode statistics; nothing here is touched by
// the supervisor except through the telemetry channel and the signals.
type worker struct {
	ctx     context.Context
	cfg     Config
	learner Learner
	ch      *telemetry.Channel
	sig     *control.Signals

	visual bool
	speed  float64
	delay  time.Duration

	tracker LinesTracker
	goal    *GoalMonitor

	calls          int
	episodeCount   int
	episodeRewards []float64
	currentReward  float64
	currentLines   int
	timesteps      int
}

// OnStep implements the per-iteration loop contract. The order is
// strict: stop fast path, command drain, pause gate, stop recheck, then
// accounting and telemetry. Reordering breaks the pause/stop interplay.
func (w *worker) OnStep(step Step) bool {
	w.calls++

	if w.sig.StopFlag.IsSet() {
		return false
	}

	// Drain pending commands in FIFO order before any blocking, so a
	// mode or speed change queued just before a pause is not lost.
	for _, cmd := range w.ch.Commands.Drain() {
		switch c := cmd.(type) {
		case telemetry.Stop:
			return false
		case telemetry.SetMode:
			w.visual = c.Visual
		case telemetry.SetSpeed:
			w.speed = ClampSpeed(c.Speed)
			w.delay = StepDelay(c.Speed)
		}
	}

	if !w.sig.PauseGate.Wait(w.ctx.Done()) {
		return false
	}

	// A stop may have been requested while paused; the stop path opens
	// the gate specifically so this recheck runs.
	if w.sig.StopFlag.IsSet() {
		return false
	}

	w.timesteps = step.Timesteps
	w.currentReward += step.Reward
	if step.Lines > w.currentLines {
		w.currentLines = step.Lines
	}
	w.tracker.Observe(step.Lines)

	if w.visual && w.calls%w.cfg.BoardFreq == 0 {
		if step.Board != nil {
			w.ch.Metrics.Put(telemetry.NewBoard(step.Board))
		}
		if w.delay > 0 && !w.sleep(w.delay) {
			return false
		}
	}

	if w.calls%w.cfg.MetricsFreq == 0 {
		w.ch.Metrics.Put(w.metrics())
	}

	if w.cfg.CheckpointFreq > 0 && w.calls%w.cfg.CheckpointFreq == 0 {
		w.checkpoint(CheckpointLatest, "")
	}

	if step.Done {
		w.endEpisode()
	}

	return !w.goal.Check()
}

func (w *worker) metrics() telemetry.Metrics {
	avg := 0.0
	if n := len(w.episodeRewards); n > 0 {
		recent := w.episodeRewards
		if n > 100 {
			recent = recent[n-100:]
		}
		for _, r := range recent {
			avg += r
		}
		avg /= float64(len(recent))
	}
	return telemetry.NewMetrics(
		w.timesteps,
		w.episodeCount,
		w.currentReward,
		w.currentLines,
		avg,
		w.tracker.BestLines(),
	)
}

func (w *worker) endEpisode() {
	w.episodeCount++
	w.episodeRewards = append(w.episodeRewards, w.currentReward)
	w.ch.Metrics.Put(telemetry.NewEpisode(w.episodeCount, w.currentReward, w.currentLines))

	lines, newBest := w.tracker.EndEpisode()
	if newBest && lines > 0 {
		w.checkpoint(CheckpointBest, fmt.Sprintf("new best: %d lines, model saved", lines))
	}

	w.currentReward = 0
	w.currentLines = 0
}

// checkpoint persists the learner into a named checkpoint dir. Failures
// are surfaced as telemetry and do not stop training. A cancelled
// context means the supervisor has abandoned this worker; a successor
// session may already own the checkpoint dir, so nothing is written.
func (w *worker) checkpoint(name, notice string) {
	if w.ctx.Err() != nil {
		return
	}
	md := Metadata{
		TotalTimestepsTrained: w.learner.TimestepsTrained(),
		NumTimesteps:          w.timesteps,
		Config:                w.cfg,
		BestLines:             w.tracker.BestLines(),
	}
	if err := SaveCheckpoint(w.learner, w.cfg.CheckpointDir, name, md); err != nil {
		w.ch.Metrics.Put(telemetry.NewError(err.Error(), ""))
		return
	}
	if notice != "" {
		w.ch.Metrics.Put(telemetry.NewInfo(notice))
	}
}

// status snapshots the worker-side session fields into a status message
// so a running announcement never reaches clients with zeroed fields.
func (w *worker) status(state string, running bool) telemetry.Status {
	st := telemetry.NewStatus(state)
	st.IsRunning = running
	st.VisualMode = w.visual
	st.Speed = w.speed
	return st
}

func (w *worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.ctx.Done():
		return false
	}
}

// RunTraining is the worker's outermost boundary. Any fault escaping the
// learning loop is serialized as an error message with its stack trace,
// and a terminal stopped status is always emitted so the supervisor is
// never left waiting on a silent corpse.
func RunTraining(
	ctx context.Context,
	cfg Config,
	learner Learner,
	ch *telemetry.Channel,
	sig *control.Signals,
	visual bool,
	speed float64,
) {
	// Zero cadences would fault the modulo checks in the loop; treat
	// them as every-iteration, matching the goal monitor's clamp.
	if cfg.MetricsFreq < 1 {
		cfg.MetricsFreq = 1
	}
	if cfg.BoardFreq < 1 {
		cfg.BoardFreq = 1
	}

	w := &worker{
		ctx:     ctx,
		cfg:     cfg,
		learner: learner,
		ch:      ch,
		sig:     sig,
		visual:  visual,
		speed:   ClampSpeed(speed),
		delay:   StepDelay(speed),
	}
	w.goal = NewGoalMonitor(cfg.TargetLines, cfg.GoalCheckFreq, &w.tracker)

	defer func() {
		if r := recover(); r != nil {
			ch.Metrics.Put(telemetry.NewError(
				fmt.Sprintf("training worker fault: %v", r),
				string(debug.Stack()),
			))
		}
		ch.Metrics.Put(w.status(telemetry.StatusStopped, false))
	}()

	ch.Metrics.Put(w.status(telemetry.StatusRunning, true))

	remaining := cfg.MaxTimesteps - learner.TimestepsTrained()
	if remaining <= 0 {
		ch.Metrics.Put(telemetry.NewInfo(fmt.Sprintf(
			"already trained %d steps, nothing to do", learner.TimestepsTrained())))
		return
	}

	if err := learner.Train(remaining, w); err != nil {
		ch.Metrics.Put(telemetry.NewError(err.Error(), ""))
		return
	}

	// Both exit paths (budget exhausted, goal reached, external stop)
	// converge here: persist latest and final, then the deferred
	// terminal status.
	w.checkpoint(CheckpointLatest, "")
	w.checkpoint(CheckpointFinal, "")
}
