package train

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gopkg.in/yaml.v3"
)

func writeConfigDoc(t *testing.T, def map[string]interface{}) string {
	t.Helper()
	doc, err := yaml.Marshal(map[string]interface{}{
		"kind": "qlearner",
		"def":  def,
	})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFromYaml(t *testing.T) {

	Convey("When a config file overrides a subset of fields", t, func() {
		// camelCase keys, exactly as config.yaml ships them; viper
		// lowercases these internally and the decode must still land.
		path := writeConfigDoc(t, map[string]interface{}{
			"learningRate":  0.01,
			"maxTimesteps":  1234,
			"targetLines":   7,
			"checkpointDir": "/tmp/ckpt",
		})

		cfg, err := FromYaml(path)
		So(err, ShouldBeNil)

		Convey("Overridden fields take the file values", func() {
			So(cfg.LearningRate, ShouldEqual, 0.01)
			So(cfg.MaxTimesteps, ShouldEqual, 1234)
			So(cfg.TargetLines, ShouldEqual, 7)
			So(cfg.CheckpointDir, ShouldEqual, "/tmp/ckpt")
		})

		Convey("Omitted fields keep their defaults", func() {
			def := DefaultConfig()
			So(cfg.Gamma, ShouldEqual, def.Gamma)
			So(cfg.BufferSize, ShouldEqual, def.BufferSize)
			So(cfg.MetricsFreq, ShouldEqual, def.MetricsFreq)
			So(cfg.BoardFreq, ShouldEqual, def.BoardFreq)
		})
	})

	Convey("When every field is overridden", t, func() {
		path := writeConfigDoc(t, map[string]interface{}{
			"learningRate":          0.5,
			"bufferSize":            10,
			"batchSize":             2,
			"gamma":                 0.8,
			"explorationInitialEps": 0.9,
			"explorationFinalEps":   0.2,
			"explorationFraction":   0.3,
			"trainFreq":             7,
			"learningStarts":        11,
			"maxTimesteps":          99,
			"targetLines":           4,
			"checkpointDir":         "/tmp/other",
			"checkpointFreq":        13,
			"metricsFreq":           17,
			"boardFreq":             19,
			"goalCheckFreq":         23,
		})

		cfg, err := FromYaml(path)
		So(err, ShouldBeNil)

		Convey("Nothing survives from the defaults", func() {
			So(cfg, ShouldResemble, Config{
				LearningRate:        0.5,
				BufferSize:          10,
				BatchSize:           2,
				Gamma:               0.8,
				ExplorationInitial:  0.9,
				ExplorationFinal:    0.2,
				ExplorationFraction: 0.3,
				TrainFreq:           7,
				LearningStarts:      11,
				MaxTimesteps:        99,
				TargetLines:         4,
				CheckpointDir:       "/tmp/other",
				CheckpointFreq:      13,
				MetricsFreq:         17,
				BoardFreq:           19,
				GoalCheckFreq:       23,
			})
		})
	})

	Convey("When the file has no def section", t, func() {
		path := filepath.Join(t.TempDir(), "config.yaml")
		So(os.WriteFile(path, []byte("kind: qlearner\n"), 0o644), ShouldBeNil)

		cfg, err := FromYaml(path)
		So(err, ShouldBeNil)
		So(cfg, ShouldResemble, DefaultConfig())
	})

	Convey("When the config file is missing", t, func() {
		_, err := FromYaml(filepath.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
	})
}

func TestSpeed(t *testing.T) {

	Convey("When speeds are clamped", t, func() {
		So(ClampSpeed(0.0), ShouldEqual, MinSpeed)
		So(ClampSpeed(5.0), ShouldEqual, MaxSpeed)
		So(ClampSpeed(0.5), ShouldEqual, 0.5)
	})

	Convey("When speed maps to the per-step delay", t, func() {
		Convey("Full speed means no delay", func() {
			So(StepDelay(MaxSpeed), ShouldEqual, time.Duration(0))
		})

		Convey("Minimum speed means the longest delay", func() {
			So(StepDelay(MinSpeed), ShouldBeBetweenOrEqual, 449*time.Millisecond, 451*time.Millisecond)
		})

		Convey("Out-of-range input is clamped before mapping", func() {
			So(StepDelay(-3), ShouldEqual, StepDelay(MinSpeed))
			So(StepDelay(99), ShouldEqual, time.Duration(0))
		})
	})
}
