package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"mltetris/session"
	"mltetris/telemetry"
	"mltetris/train"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientCommand is the duplex-stream command vocabulary. Optional fields
// are pointers so absent and zero are distinguishable.
type clientCommand struct {
	Command string           `json:"command"`
	Config  *trainingRequest `json:"config,omitempty"`
	Visual  *bool            `json:"visual,omitempty"`
	Speed   *float64         `json:"speed,omitempty"`
	Source  string           `json:"source,omitempty"`
}

// trainingRequest is the optional start-training config body, shared by
// the REST and websocket surfaces. Unset fields keep server defaults.
type trainingRequest struct {
	MaxTimesteps  *int     `json:"max_timesteps,omitempty"`
	TargetLines   *int     `json:"target_lines,omitempty"`
	LearningRate  *float64 `json:"learning_rate,omitempty"`
	CheckpointDir *string  `json:"checkpoint_dir,omitempty"`
}

func (tr *trainingRequest) apply(cfg train.Config) train.Config {
	if tr == nil {
		return cfg
	}
	if tr.MaxTimesteps != nil {
		cfg.MaxTimesteps = *tr.MaxTimesteps
	}
	if tr.TargetLines != nil {
		cfg.TargetLines = *tr.TargetLines
	}
	if tr.LearningRate != nil {
		cfg.LearningRate = *tr.LearningRate
	}
	if tr.CheckpointDir != nil {
		cfg.CheckpointDir = *tr.CheckpointDir
	}
	return cfg
}

// statusMessage converts the coordinator snapshot into its telemetry
// form, optionally with a human-readable note.
func statusMessage(st session.Status, note string) telemetry.Status {
	msg := telemetry.NewStatus(st.Status)
	msg.Message = note
	msg.IsRunning = st.IsRunning
	msg.VisualMode = st.VisualMode
	msg.Speed = st.Speed
	return msg
}

// serveWebsocket is the duplex stream endpoint: telemetry out via the
// broadcaster, commands in via the read loop. The connection starts
// with a status sync so reconnecting clients recover session state in
// one message.
func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade:", err)
		return
	}

	cli := NewClient(ws)
	s.broadcaster.Register(cli)
	defer func() {
		s.broadcaster.Unregister(cli)
		cli.Close()
	}()

	s.broadcaster.SendTo(cli, statusMessage(s.coord.GetStatus(), ""))

	group, ctx := errgroup.WithContext(r.Context())
	commands := make(chan clientCommand)

	// Read loop: errors from websocket reads are permanent, so any
	// failure tears the whole connection down via group cancellation.
	group.Go(func() error {
		defer close(commands)
		for {
			var cmd clientCommand
			if err := ws.ReadJSON(&cmd); err != nil {
				return err
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return nil
			}
		}
	})

	// Dispatch loop: a client silent past the bounded wait gets a
	// keepalive ping; a client whose ping write fails is pruned by the
	// deferred unregister.
	group.Go(func() error {
		timer := time.NewTimer(clientSilenceWait)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
				if err := cli.WriteJSON(telemetry.NewPing()); err != nil {
					return err
				}
				timer.Reset(clientSilenceWait)
			case cmd, ok := <-commands:
				if !ok {
					return nil
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(clientSilenceWait)
				s.dispatch(cli, cmd)
			}
		}
	})

	if err := group.Wait(); err != nil && !isClosure(err) {
		log.Println("websocket session ended:", err)
	}
}

func isClosure(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

// dispatch applies one client command, replying on the same connection.
// Unknown commands produce an error reply, never a teardown.
func (s *Server) dispatch(cli *Client, cmd clientCommand) {
	switch cmd.Command {
	case "start":
		cfg := cmd.Config.apply(s.defaultCfg)
		if ok, msg := s.coord.StartTraining(cfg); ok {
			s.broadcaster.SendTo(cli, statusMessage(s.coord.GetStatus(), msg))
		} else {
			s.broadcaster.SendTo(cli, telemetry.NewError(msg, ""))
		}

	case "stop":
		_, msg := s.coord.Stop()
		s.broadcaster.SendTo(cli, statusMessage(s.coord.GetStatus(), msg))

	case "pause":
		if s.coord.Pause() {
			s.broadcaster.SendTo(cli, statusMessage(s.coord.GetStatus(), "Training paused"))
		} else {
			s.broadcaster.SendTo(cli, telemetry.NewError("Cannot pause - training not running", ""))
		}

	case "resume":
		if s.coord.Resume() {
			s.broadcaster.SendTo(cli, statusMessage(s.coord.GetStatus(), "Training resumed"))
		} else {
			s.broadcaster.SendTo(cli, telemetry.NewError("Cannot resume - training not paused", ""))
		}

	case "set_mode":
		visual := cmd.Visual != nil && *cmd.Visual
		s.coord.SetMode(visual)
		mode := "headless"
		if visual {
			mode = "visual"
		}
		s.broadcaster.SendTo(cli, telemetry.NewInfo("Mode change requested: "+mode))

	case "set_speed":
		speed := train.MaxSpeed
		if cmd.Speed != nil {
			speed = *cmd.Speed
		}
		applied := s.coord.SetSpeed(speed)
		s.broadcaster.SendTo(cli, telemetry.NewInfo(fmt.Sprintf("Speed set to %.1fx", applied)))

	case "start_demo":
		if ok, msg := s.coord.StartDemo(cmd.Source); ok {
			s.broadcaster.SendTo(cli, statusMessage(s.coord.GetStatus(), msg))
		} else {
			s.broadcaster.SendTo(cli, telemetry.NewError(msg, ""))
		}

	case "status":
		s.broadcaster.SendTo(cli, statusMessage(s.coord.GetStatus(), ""))

	case "pong":
		// Keepalive ack; the read itself proved liveness.

	default:
		s.broadcaster.SendTo(cli, telemetry.NewError("Unknown command: "+cmd.Command, ""))
	}
}
