package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"mltetris/telemetry"
	"mltetris/train"
)

// testEnv terminates every episode after three steps.
type testEnv struct{ steps int }

func (e *testEnv) Reset() (train.Observation, train.StepInfo) {
	e.steps = 0
	return train.Observation{0}, train.StepInfo{}
}

func (e *testEnv) Step(action int) (train.Observation, float64, bool, bool, train.StepInfo) {
	e.steps++
	return train.Observation{0}, 1, e.steps >= 3, false, train.StepInfo{}
}

func (e *testEnv) ActionCount() int { return 2 }

// testLearner paces its loop so coordinator tests have time to interact
// with a live worker. honorStop controls whether the observer's verdict
// is respected; a rogue learner stands in for a wedged process.
type testLearner struct {
	trained   int
	honorStop bool
	loads     []string
}

func (l *testLearner) Train(steps int, observer train.StepObserver) error {
	for i := 0; i < steps; i++ {
		time.Sleep(time.Millisecond)
		l.trained++
		cont := observer.OnStep(train.Step{Timesteps: l.trained, Reward: 1})
		if !cont && l.honorStop {
			break
		}
	}
	return nil
}

func (l *testLearner) Predict(obs train.Observation) int { return 0 }

func (l *testLearner) Save(dir string) error {
	return os.WriteFile(filepath.Join(dir, train.ModelArtifact), []byte("model"), 0o644)
}

func (l *testLearner) Load(dir string) error {
	l.loads = append(l.loads, dir)
	return nil
}

func (l *testLearner) TimestepsTrained() int { return l.trained }

// harness builds a coordinator around controllable factories and
// remembers the most recently constructed learner.
type harness struct {
	coord   *Coordinator
	learner *testLearner
	cfg     train.Config
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{}

	cfg := train.DefaultConfig()
	cfg.CheckpointDir = t.TempDir()
	cfg.CheckpointFreq = 0
	cfg.MaxTimesteps = 1_000_000
	h.cfg = cfg

	newEnv := func() train.Environment { return &testEnv{} }
	newLearner := func(env train.Environment, c train.Config) train.Learner {
		h.learner = &testLearner{honorStop: true}
		return h.learner
	}
	h.coord = NewCoordinator(cfg, newEnv, newLearner, opts...)
	return h
}

// seedCheckpoint drops a loadable checkpoint under the harness base dir.
func (h *harness) seedCheckpoint(t *testing.T, name string) {
	t.Helper()
	dir := filepath.Join(h.cfg.CheckpointDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, train.ModelArtifact), []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	md := train.Metadata{TotalTimestepsTrained: 77, Config: h.cfg}
	if err := train.SaveMetadata(dir, md); err != nil {
		t.Fatal(err)
	}
}

func TestTrainingLifecycle(t *testing.T) {

	Convey("When training starts", t, func() {
		h := newHarness(t)
		defer h.coord.Shutdown()

		ok, msg := h.coord.StartTraining(h.cfg)
		So(ok, ShouldBeTrue)
		So(msg, ShouldEqual, "Training started")
		So(h.coord.IsRunning(), ShouldBeTrue)

		Convey("A second start is refused while the worker lives", func() {
			ok, msg := h.coord.StartTraining(h.cfg)
			So(ok, ShouldBeFalse)
			So(msg, ShouldEqual, "Training already running")
		})

		Convey("Stop ends the session promptly", func() {
			start := time.Now()
			ok, msg := h.coord.Stop()
			So(ok, ShouldBeTrue)
			So(msg, ShouldEqual, "Training stopped")
			So(time.Since(start), ShouldBeLessThan, 2*time.Second)
			So(h.coord.IsRunning(), ShouldBeFalse)
			So(h.coord.GetStatus().Status, ShouldEqual, string(Stopped))
		})
	})

	Convey("When no worker is alive", t, func() {
		h := newHarness(t)

		Convey("Stop is harmless and leaves the session stopped", func() {
			ok, _ := h.coord.Stop()
			So(ok, ShouldBeTrue)
			So(h.coord.GetStatus().Status, ShouldEqual, string(Stopped))
		})

		Convey("Pause and resume are refused", func() {
			So(h.coord.Pause(), ShouldBeFalse)
			So(h.coord.Resume(), ShouldBeFalse)
		})
	})
}

func TestPauseResume(t *testing.T) {

	Convey("When a training session is live", t, func() {
		h := newHarness(t)
		defer h.coord.Shutdown()
		h.coord.StartTraining(h.cfg)

		Convey("Pause transitions to paused exactly once", func() {
			So(h.coord.Pause(), ShouldBeTrue)
			So(h.coord.GetStatus().Status, ShouldEqual, string(Paused))
			So(h.coord.Pause(), ShouldBeFalse)

			Convey("Resume transitions back exactly once", func() {
				So(h.coord.Resume(), ShouldBeTrue)
				So(h.coord.GetStatus().Status, ShouldEqual, string(Running))
				So(h.coord.Resume(), ShouldBeFalse)
			})

			Convey("Stop while paused still completes within the join timeout", func() {
				start := time.Now()
				ok, _ := h.coord.Stop()
				So(ok, ShouldBeTrue)
				So(time.Since(start), ShouldBeLessThan, 2*time.Second)
				So(h.coord.GetStatus().Status, ShouldEqual, string(Stopped))
			})
		})
	})
}

func TestModeAndSpeed(t *testing.T) {

	Convey("When mode and speed change", t, func() {
		h := newHarness(t)

		Convey("Settings are recorded even with no worker alive", func() {
			h.coord.SetMode(true)
			So(h.coord.SetSpeed(0.5), ShouldEqual, 0.5)

			st := h.coord.GetStatus()
			So(st.VisualMode, ShouldBeTrue)
			So(st.Speed, ShouldEqual, 0.5)
		})

		Convey("Out-of-range speeds are clamped", func() {
			So(h.coord.SetSpeed(0.0), ShouldEqual, train.MinSpeed)
			So(h.coord.SetSpeed(7.0), ShouldEqual, train.MaxSpeed)
		})
	})
}

func TestDemoLifecycle(t *testing.T) {

	Convey("When a demo starts from the latest checkpoint", t, func() {
		h := newHarness(t)
		defer h.coord.Shutdown()
		h.seedCheckpoint(t, train.CheckpointLatest)

		ok, msg := h.coord.StartDemo("")
		So(ok, ShouldBeTrue)
		So(msg, ShouldEqual, "Demo started")
		So(h.coord.GetStatus().Status, ShouldEqual, string(DemoRunning))
		So(h.learner.loads, ShouldHaveLength, 1)

		Convey("Starting training stops the demo first", func() {
			ok, _ := h.coord.StartTraining(h.cfg)
			So(ok, ShouldBeTrue)
			So(h.coord.GetStatus().Status, ShouldNotEqual, string(DemoRunning))
		})

		Convey("Pause does not apply to demos", func() {
			So(h.coord.Pause(), ShouldBeFalse)
		})

		Convey("Stop reports the demo stopping", func() {
			_, msg := h.coord.Stop()
			So(msg, ShouldEqual, "Demo stopped")
		})
	})

	Convey("When the demo source does not exist", t, func() {
		h := newHarness(t)

		ok, msg := h.coord.StartDemo("missing")
		So(ok, ShouldBeFalse)
		So(msg, ShouldContainSubstring, "missing")
		So(h.coord.IsRunning(), ShouldBeFalse)
	})

	Convey("When training is live and a demo starts", t, func() {
		h := newHarness(t)
		defer h.coord.Shutdown()
		h.seedCheckpoint(t, train.CheckpointLatest)

		h.coord.StartTraining(h.cfg)
		trainingLearner := h.learner

		ok, _ := h.coord.StartDemo("")
		So(ok, ShouldBeTrue)

		Convey("The training worker was stopped, not orphaned", func() {
			So(h.coord.GetStatus().Status, ShouldEqual, string(DemoRunning))
			So(h.learner, ShouldNotEqual, trainingLearner)
		})
	})
}

func TestResumeFromCheckpoint(t *testing.T) {

	Convey("When a latest checkpoint exists at start", t, func() {
		h := newHarness(t)
		defer h.coord.Shutdown()
		h.seedCheckpoint(t, train.CheckpointLatest)

		ok, _ := h.coord.StartTraining(h.cfg)
		So(ok, ShouldBeTrue)

		Convey("The learner was loaded and the resume was announced", func() {
			So(h.learner.loads, ShouldHaveLength, 1)

			found := false
			deadline := time.After(time.Second)
			for !found {
				select {
				case <-deadline:
					t.Fatal("no resume notice observed")
				default:
				}
				for _, msg := range h.coord.Channel().Metrics.Drain() {
					if info, isInfo := msg.(telemetry.Info); isInfo {
						So(info.Message, ShouldContainSubstring, "77")
						found = true
					}
				}
			}
		})
	})
}

func TestStopResponsiveness(t *testing.T) {

	Convey("When a slow worker is winding down", t, func() {
		h := &harness{}
		cfg := train.DefaultConfig()
		cfg.CheckpointDir = t.TempDir()
		cfg.CheckpointFreq = 0
		cfg.MaxTimesteps = 1_000_000
		h.cfg = cfg

		newEnv := func() train.Environment { return &testEnv{} }
		newLearner := func(env train.Environment, c train.Config) train.Learner {
			h.learner = &testLearner{honorStop: false}
			return h.learner
		}
		h.coord = NewCoordinator(cfg, newEnv, newLearner,
			WithJoinTimeout(300*time.Millisecond),
			WithKillTimeout(100*time.Millisecond))

		h.coord.StartTraining(h.cfg)

		stopDone := make(chan struct{})
		go func() {
			defer close(stopDone)
			h.coord.Stop()
		}()
		time.Sleep(50 * time.Millisecond)

		Convey("Status queries answer immediately and observe the stopping state", func() {
			start := time.Now()
			st := h.coord.GetStatus()
			So(time.Since(start), ShouldBeLessThan, 100*time.Millisecond)
			So(st.Status, ShouldEqual, string(Stopping))

			select {
			case <-stopDone:
			case <-time.After(2 * time.Second):
				t.Fatal("stop did not return")
			}
			So(h.coord.GetStatus().Status, ShouldEqual, string(Stopped))
		})
	})
}

func TestUnresponsiveWorker(t *testing.T) {

	Convey("When a worker ignores cooperative stop", t, func() {
		h := &harness{}
		cfg := train.DefaultConfig()
		cfg.CheckpointDir = t.TempDir()
		cfg.CheckpointFreq = 0
		cfg.MaxTimesteps = 1_000_000
		h.cfg = cfg

		newEnv := func() train.Environment { return &testEnv{} }
		newLearner := func(env train.Environment, c train.Config) train.Learner {
			h.learner = &testLearner{honorStop: false}
			return h.learner
		}
		h.coord = NewCoordinator(cfg, newEnv, newLearner,
			WithJoinTimeout(100*time.Millisecond),
			WithKillTimeout(100*time.Millisecond))

		h.coord.StartTraining(h.cfg)

		Convey("Stop escalates and returns within its bounded budget", func() {
			start := time.Now()
			ok, _ := h.coord.Stop()
			So(ok, ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, 2*time.Second)
			So(h.coord.GetStatus().Status, ShouldEqual, string(Stopped))

			Convey("A new session can start over the abandoned worker", func() {
				ok, _ := h.coord.StartTraining(h.cfg)
				So(ok, ShouldBeTrue)
			})
		})
	})
}
