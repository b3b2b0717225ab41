// Package session implements the supervisor side of a training session:
// the lifecycle state machine, worker spawning and teardown, and the
// command surface (start/stop/pause/resume/set-mode/set-speed/status)
// the transport layer calls into. All shared state between supervisor
// and worker flows through the telemetry channel and the control
// signals; the coordinator never reaches into worker-owned state.
package session

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"mltetris/control"
	"mltetris/slots"
	"mltetris/telemetry"
	"mltetris/train"
)

// State is the session lifecycle state.
type State string

const (
	Stopped     State = "stopped"
	Running     State = "running"
	Paused      State = "paused"
	Stopping    State = "stopping"
	DemoRunning State = "demo_running"
)

// Status is the session snapshot returned to clients.
type Status struct {
	Status     string  `json:"status"`
	IsRunning  bool    `json:"is_running"`
	VisualMode bool    `json:"visual_mode"`
	Speed      float64 `json:"speed"`
}

// EnvFactory builds a fresh environment for a new worker.
type EnvFactory func() train.Environment

// LearnerFactory builds a learner bound to an environment.
type LearnerFactory func(train.Environment, train.Config) train.Learner

// workerHandle tracks one live worker. done closes when the worker's
// run function returns; that channel is the liveness check, the Go
// rendition of polling a child process.
type workerHandle struct {
	demo   bool
	done   chan struct{}
	cancel context.CancelFunc
}

func (h *workerHandle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Coordinator owns the telemetry channel, the control signals, and the
// worker lifecycle. At most one worker (training or demo) is alive at
// any instant; starting either kind stops whatever is already running.
type Coordinator struct {
	mu      sync.Mutex
	state   State
	visual  bool
	speed   float64
	channel *telemetry.Channel
	signals *control.Signals
	handle  *workerHandle

	baseDir    string
	defaultCfg train.Config
	newEnv     EnvFactory
	newLearner LearnerFactory

	joinTimeout time.Duration
	killTimeout time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJoinTimeout bounds the cooperative-stop wait before escalation.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.joinTimeout = d }
}

// WithKillTimeout bounds the post-escalation wait before the worker is
// abandoned.
func WithKillTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.killTimeout = d }
}

// NewCoordinator returns a stopped session. defaultCfg supplies the
// checkpoint dir and the hyperparameters demo learners are built with.
func NewCoordinator(
	defaultCfg train.Config,
	newEnv EnvFactory,
	newLearner LearnerFactory,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		state:       Stopped,
		speed:       train.MaxSpeed,
		channel:     telemetry.NewChannel(),
		signals:     control.NewSignals(),
		baseDir:     defaultCfg.CheckpointDir,
		defaultCfg:  defaultCfg,
		newEnv:      newEnv,
		newLearner:  newLearner,
		joinTimeout: 5 * time.Second,
		killTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Channel exposes the telemetry pair for the supervisor's poll task.
func (c *Coordinator) Channel() *telemetry.Channel { return c.channel }

// StartTraining spawns a training worker. Fails when a training worker
// is already alive; a live demo worker is stopped first (the demo/train
// asymmetry in older builds was accidental, both directions auto-stop).
// Resumes from the latest checkpoint when one exists.
func (c *Coordinator) StartTraining(cfg train.Config) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.handle != nil && c.handle.alive() {
		if !c.handle.demo {
			return false, "Training already running"
		}
		c.stopWorkerLocked()
		// The stop releases the mutex while joining; another session may
		// have started in that window and now owns the worker slot.
		if c.handle != nil && c.handle.alive() {
			return false, "Training already running"
		}
	}

	// Fresh channel state and fresh signals for every session; a stale
	// stop flag or queued command from a dead worker must never leak in.
	c.channel.Reset()
	c.signals = control.NewSignals()

	env := c.newEnv()
	learner := c.newLearner(env, cfg)

	if train.CheckpointExists(cfg.CheckpointDir, train.CheckpointLatest) {
		if md, err := train.LoadCheckpoint(learner, cfg.CheckpointDir, train.CheckpointLatest); err != nil {
			log.Printf("checkpoint resume failed, training from scratch: %v", err)
		} else {
			c.channel.Metrics.Put(telemetry.NewInfo(fmt.Sprintf(
				"resumed from checkpoint: %d steps already trained", md.TotalTimestepsTrained)))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.handle = &workerHandle{done: done, cancel: cancel}

	sig := c.signals
	ch := c.channel
	visual, speed := c.visual, c.speed
	go func() {
		defer close(done)
		train.RunTraining(ctx, cfg, learner, ch, sig, visual, speed)
	}()

	c.state = Running
	return true, "Training started"
}

// StartDemo stops any live worker, loads a model from a checkpoint or
// slot named by source, and spawns an inference-only demo worker.
func (c *Coordinator) StartDemo(source string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.handle != nil && c.handle.alive() {
		c.stopWorkerLocked()
		if c.handle != nil && c.handle.alive() {
			return false, "Session already running"
		}
	}

	if source == "" {
		source = train.CheckpointLatest
	}
	dir, ok := c.resolveModelDir(source)
	if !ok {
		return false, fmt.Sprintf("no model found for %q", source)
	}

	cfg := c.defaultCfg
	env := c.newEnv()
	learner := c.newLearner(env, cfg)
	if err := learner.Load(dir); err != nil {
		return false, fmt.Sprintf("failed to load model %q: %v", source, err)
	}

	c.channel.Reset()
	c.signals = control.NewSignals()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.handle = &workerHandle{demo: true, done: done, cancel: cancel}

	sig := c.signals
	ch := c.channel
	speed := c.speed
	go func() {
		defer close(done)
		train.RunDemo(ctx, env, learner, ch, sig, speed)
	}()

	c.state = DemoRunning
	return true, "Demo started"
}

// resolveModelDir maps a source name onto a checkpoint dir or, failing
// that, a model slot of the same name.
func (c *Coordinator) resolveModelDir(source string) (string, bool) {
	if train.CheckpointExists(c.baseDir, source) {
		return filepath.Join(c.baseDir, source), true
	}
	mgr := slots.NewManager(c.baseDir)
	if path := mgr.Path(source); path != "" {
		return path, true
	}
	return "", false
}

// Stop halts whatever worker is alive, cooperatively first and forcibly
// after the join timeout. Always leaves the session stopped.
func (c *Coordinator) Stop() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasDemo := c.handle != nil && c.handle.demo
	c.stopWorkerLocked()
	if wasDemo {
		return true, "Demo stopped"
	}
	return true, "Training stopped"
}

// stopWorkerLocked runs the escalation ladder: stop flag + open gate,
// stop command, cooperative join, context cancel, bounded final wait,
// abandon. The flag is raised before the gate opens so a paused worker
// wakes directly into the stop check. The mutex is released for the
// join window so status queries stay responsive while a slow worker
// winds down; concurrent stops of the same worker just wait together.
// Holds c.mu on entry and on return.
func (c *Coordinator) stopWorkerLocked() {
	h := c.handle
	if h == nil || !h.alive() {
		c.handle = nil
		c.state = Stopped
		return
	}

	c.state = Stopping
	c.signals.RequestStop()
	c.channel.Commands.Put(telemetry.Stop{})

	c.mu.Unlock()
	select {
	case <-h.done:
	case <-time.After(c.joinTimeout):
		log.Printf("worker unresponsive after %v, cancelling", c.joinTimeout)
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(c.killTimeout):
			// A goroutine cannot be killed; it holds a cancelled context
			// and a raised stop flag, and exits at its next step.
			log.Printf("worker abandoned after %v", c.killTimeout)
		}
	}
	c.mu.Lock()

	h.cancel()
	// Another caller may have replaced the handle during the unlocked
	// window; only tear down session state still owned by this worker.
	if c.handle == h {
		c.handle = nil
		c.state = Stopped
	}
}

// Pause gates the training worker. Fails unless currently running a
// training session; demo workers ignore pause by contract.
func (c *Coordinator) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.state != Running || c.handle == nil || c.handle.demo {
		return false
	}
	c.signals.PauseGate.Clear()
	c.state = Paused
	return true
}

// Resume reopens the gate. Fails unless currently paused.
func (c *Coordinator) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	if c.state != Paused {
		return false
	}
	c.signals.PauseGate.Set()
	c.state = Running
	return true
}

// SetMode records the visual-mode field and forwards the change to a
// live training worker. The field is recorded even with no worker so
// the next session and status queries observe it.
func (c *Coordinator) SetMode(visual bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visual = visual
	if c.handle != nil && c.handle.alive() && !c.handle.demo {
		c.channel.Commands.Put(telemetry.SetMode{Visual: visual})
	}
}

// SetSpeed clamps, records, and forwards the speed. Both worker kinds
// honor it.
func (c *Coordinator) SetSpeed(speed float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = train.ClampSpeed(speed)
	if c.handle != nil && c.handle.alive() {
		c.channel.Commands.Put(telemetry.SetSpeed{Speed: c.speed})
	}
	return c.speed
}

// GetStatus returns the session snapshot, reconciling state against
// worker liveness first: a worker that exited on its own (goal reached,
// budget exhausted, fault) resolves to stopped here, not by parsing its
// telemetry.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconcileLocked()

	return Status{
		Status:     string(c.state),
		IsRunning:  c.handle != nil && c.handle.alive(),
		VisualMode: c.visual,
		Speed:      c.speed,
	}
}

// IsRunning reports worker liveness.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil && c.handle.alive()
}

// Shutdown is the process-exit path: best-effort worker teardown.
func (c *Coordinator) Shutdown() {
	_, _ = c.Stop()
}

func (c *Coordinator) reconcileLocked() {
	if c.handle != nil && !c.handle.alive() {
		c.handle.cancel()
		c.handle = nil
		c.state = Stopped
	}
}
