package train

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"mltetris/control"
	"mltetris/telemetry"
)

// Demo cadences. Inference rollouts exist for visualization, so boards
// flow on every cadence regardless of the session's visual-mode field.
const (
	demoMetricsFreq = 25
	demoBoardFreq   = 2
)

// RunDemo drives inference-only rollouts against a loaded learner. No
// training calls, no checkpoint writes. The demo ignores the pause gate
// and responds only to the stop flag and set_speed commands; pause and
// set_mode arriving on the command queue are discarded.
func RunDemo(
	ctx context.Context,
	env Environment,
	learner Learner,
	ch *telemetry.Channel,
	sig *control.Signals,
	speed float64,
) {
	speed = ClampSpeed(speed)

	// Demo rollouts are always visual; statuses carry the live speed.
	status := func(state string, running bool) telemetry.Status {
		st := telemetry.NewStatus(state)
		st.IsRunning = running
		st.VisualMode = true
		st.Speed = speed
		return st
	}

	defer func() {
		if r := recover(); r != nil {
			ch.Metrics.Put(telemetry.NewError(
				fmt.Sprintf("demo worker fault: %v", r),
				string(debug.Stack()),
			))
		}
		ch.Metrics.Put(status(telemetry.StatusStopped, false))
	}()

	ch.Metrics.Put(status(telemetry.StatusRunning, true))

	delay := StepDelay(speed)
	steps := 0
	episodes := 0

	for {
		obs, _ := env.Reset()
		episodeReward := 0.0
		episodeLines := 0

		for {
			if sig.StopFlag.IsSet() {
				return
			}
			for _, cmd := range ch.Commands.Drain() {
				switch c := cmd.(type) {
				case telemetry.Stop:
					return
				case telemetry.SetSpeed:
					speed = ClampSpeed(c.Speed)
					delay = StepDelay(c.Speed)
				}
			}

			action := learner.Predict(obs)
			next, reward, terminated, truncated, info := env.Step(action)
			obs = next
			steps++
			episodeReward += reward
			if info.Lines > episodeLines {
				episodeLines = info.Lines
			}

			if steps%demoBoardFreq == 0 && info.Board != nil {
				ch.Metrics.Put(telemetry.NewBoard(info.Board))
			}
			if steps%demoMetricsFreq == 0 {
				ch.Metrics.Put(telemetry.NewDemoMetrics(steps, episodes, episodeReward, episodeLines))
			}

			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
				timer.Stop()
			}

			if terminated || truncated {
				break
			}
		}

		episodes++
		ch.Metrics.Put(telemetry.NewDemoEpisode(episodes, episodeReward, episodeLines))
	}
}
