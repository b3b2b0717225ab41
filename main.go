/*
mltetris trains a reinforcement learning agent on a falling-block puzzle
and serves a realtime control and telemetry surface over websockets.
The server command runs the full coordinator + HTTP stack; the train
command runs a single headless session in the foreground, for batch
training on machines with no browser attached.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/spf13/cobra"

	"mltetris/agent"
	"mltetris/control"
	"mltetris/game"
	"mltetris/server"
	"mltetris/session"
	"mltetris/slots"
	"mltetris/telemetry"
	"mltetris/train"
)

var (
	flagAddr       string
	flagConfig     string
	flagSteps      int
	flagTarget     int
	flagNoResume   bool
	flagVisualSeed int64
)

func loadConfig() (train.Config, error) {
	if flagConfig == "" {
		return train.DefaultConfig(), nil
	}
	return train.FromYaml(flagConfig)
}

func newEnv() train.Environment {
	if flagVisualSeed != 0 {
		return game.NewEnv(game.WithSeed(flagVisualSeed))
	}
	return game.NewEnv()
}

func newLearner(env train.Environment, cfg train.Config) train.Learner {
	return agent.New(env, cfg)
}

var rootCmd = &cobra.Command{
	Use:   "mltetris",
	Short: "RL trainer for a falling-block puzzle with realtime telemetry",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the training server: REST control plane plus websocket telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		coord := session.NewCoordinator(cfg, newEnv, newLearner)
		slotMgr := slots.NewManager(cfg.CheckpointDir)
		srv := server.NewServer(flagAddr, coord, slotMgr, cfg)

		ctx, stop := signal.NotifyContext(
			context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		color.Cyan("mltetris server on %s (checkpoints: %s)", flagAddr, cfg.CheckpointDir)
		return srv.Serve(ctx)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run one headless training session in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if flagSteps > 0 {
			cfg.MaxTimesteps = flagSteps
		}
		if flagTarget > 0 {
			cfg.TargetLines = flagTarget
		}

		env := newEnv()
		learner := newLearner(env, cfg)

		if !flagNoResume && train.CheckpointExists(cfg.CheckpointDir, train.CheckpointLatest) {
			md, err := train.LoadCheckpoint(learner, cfg.CheckpointDir, train.CheckpointLatest)
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}
			color.Yellow("resumed from checkpoint: %d steps already trained", md.TotalTimestepsTrained)
		}

		ch := telemetry.NewChannel()
		sig := control.NewSignals()

		ctx, stop := signal.NotifyContext(
			context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// An interrupt requests a cooperative stop; the worker saves its
		// final checkpoint on the way out.
		go func() {
			<-ctx.Done()
			sig.RequestStop()
		}()

		done := make(chan struct{})
		go func() {
			defer close(done)
			train.RunTraining(ctx, cfg, learner, ch, sig, false, train.MaxSpeed)
		}()

		printTelemetry(ch, done)
		color.Green("training session complete: %d total steps trained", learner.TimestepsTrained())
		return nil
	},
}

// printTelemetry drains worker messages to the console until the worker
// exits, then drains the residue so the final status line is not lost.
func printTelemetry(ch *telemetry.Channel, done <-chan struct{}) {
	bold := color.New(color.Bold)
	for range channerics.NewTicker(done, 100*time.Millisecond) {
		for _, msg := range ch.Metrics.Drain() {
			printMessage(bold, msg)
		}
	}
	for _, msg := range ch.Metrics.Drain() {
		printMessage(bold, msg)
	}
}

func printMessage(bold *color.Color, msg telemetry.Message) {
	switch m := msg.(type) {
	case telemetry.Metrics:
		fmt.Printf("step %d  episodes %d  avg reward %.2f  lines %d  best %d\n",
			m.Timesteps, m.EpisodeCount, m.AvgReward, m.LinesCleared, m.BestLines)
	case telemetry.Info:
		color.Yellow("%s", m.Message)
	case telemetry.Error:
		color.Red("error: %s", m.Error)
	case telemetry.Status:
		_, _ = bold.Printf("status: %s %s\n", m.Status, m.Message)
	}
}

func main() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "listen address")

	trainCmd.Flags().IntVar(&flagSteps, "steps", 0, "override max timesteps")
	trainCmd.Flags().IntVar(&flagTarget, "target-lines", 0, "stop once this many lines clear in one episode")
	trainCmd.Flags().BoolVar(&flagNoResume, "no-resume", false, "ignore any existing latest checkpoint")

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "yaml config file")
	rootCmd.PersistentFlags().Int64Var(&flagVisualSeed, "seed", 0, "environment rng seed (0 for random)")
	rootCmd.AddCommand(serveCmd, trainCmd)

	if err := rootCmd.Execute(); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}
