package telemetry

// Kind discriminates the telemetry message variants on the wire. Every
// message carries its kind in a "type" field so web clients can dispatch
// without reflection.
type Kind string

const (
	KindMetrics     Kind = "metrics"
	KindBoard       Kind = "board"
	KindEpisode     Kind = "episode"
	KindDemoMetrics Kind = "demo_metrics"
	KindDemoEpisode Kind = "demo_episode"
	KindStatus      Kind = "status"
	KindInfo        Kind = "info"
	KindError       Kind = "error"
	KindPing        Kind = "ping"
)

// Session status values a worker may announce. The supervisor-side
// state machine has a wider vocabulary; these two are the only ones a
// worker itself ever reports.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Message is the variant type flowing worker -> coordinator -> clients.
// Implementations are plain structs of JSON-marshalable primitives; no
// live references may cross the channel.
type Message interface {
	Kind() Kind
}

// Metrics is the periodic training progress snapshot.
type Metrics struct {
	Type         Kind    `json:"type"`
	Timesteps    int     `json:"timesteps"`
	EpisodeCount int     `json:"episode_count"`
	CurrentScore float64 `json:"current_score"`
	LinesCleared int     `json:"lines_cleared"`
	AvgReward    float64 `json:"avg_reward"`
	BestLines    int     `json:"best_lines"`
}

func (Metrics) Kind() Kind { return KindMetrics }

// NewMetrics stamps the type tag so the zero-value footgun of a blank
// "type" field never reaches a client.
func NewMetrics(timesteps, episodes int, score float64, lines int, avgReward float64, bestLines int) Metrics {
	return Metrics{
		Type:         KindMetrics,
		Timesteps:    timesteps,
		EpisodeCount: episodes,
		CurrentScore: score,
		LinesCleared: lines,
		AvgReward:    avgReward,
		BestLines:    bestLines,
	}
}

// Board carries the visible playfield as rows of cell states.
type Board struct {
	Type  Kind    `json:"type"`
	Board [][]int `json:"board"`
}

func (Board) Kind() Kind { return KindBoard }

// NewBoard deep-copies the grid; the worker keeps mutating its own board
// after the message is enqueued.
func NewBoard(cells [][]int) Board {
	grid := make([][]int, len(cells))
	for i, row := range cells {
		grid[i] = make([]int, len(row))
		copy(grid[i], row)
	}
	return Board{Type: KindBoard, Board: grid}
}

// Episode reports one completed play-through.
type Episode struct {
	Type    Kind    `json:"type"`
	Episode int     `json:"episode"`
	Reward  float64 `json:"reward"`
	Lines   int     `json:"lines"`
}

func (Episode) Kind() Kind { return KindEpisode }

func NewEpisode(index int, reward float64, lines int) Episode {
	return Episode{Type: KindEpisode, Episode: index, Reward: reward, Lines: lines}
}

// DemoMetrics mirrors Metrics under a distinct tag so the UI never
// confuses inference rollouts with training progress.
type DemoMetrics struct {
	Type         Kind    `json:"type"`
	Timesteps    int     `json:"timesteps"`
	EpisodeCount int     `json:"episode_count"`
	CurrentScore float64 `json:"current_score"`
	LinesCleared int     `json:"lines_cleared"`
}

func (DemoMetrics) Kind() Kind { return KindDemoMetrics }

func NewDemoMetrics(timesteps, episodes int, score float64, lines int) DemoMetrics {
	return DemoMetrics{
		Type:         KindDemoMetrics,
		Timesteps:    timesteps,
		EpisodeCount: episodes,
		CurrentScore: score,
		LinesCleared: lines,
	}
}

// DemoEpisode reports one completed inference rollout.
type DemoEpisode struct {
	Type    Kind    `json:"type"`
	Episode int     `json:"episode"`
	Reward  float64 `json:"reward"`
	Lines   int     `json:"lines"`
}

func (DemoEpisode) Kind() Kind { return KindDemoEpisode }

func NewDemoEpisode(index int, reward float64, lines int) DemoEpisode {
	return DemoEpisode{Type: KindDemoEpisode, Episode: index, Reward: reward, Lines: lines}
}

// Status announces a session lifecycle change. Message is optional
// human-readable context; the remaining fields echo session state so a
// reconnecting client can resync in one message.
type Status struct {
	Type       Kind    `json:"type"`
	Status     string  `json:"status"`
	Message    string  `json:"message,omitempty"`
	IsRunning  bool    `json:"is_running"`
	VisualMode bool    `json:"visual_mode"`
	Speed      float64 `json:"speed"`
}

func (Status) Kind() Kind { return KindStatus }

func NewStatus(status string) Status {
	return Status{Type: KindStatus, Status: status}
}

// Info is a human-readable notice with no structured payload.
type Info struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

func (Info) Kind() Kind { return KindInfo }

func NewInfo(message string) Info {
	return Info{Type: KindInfo, Message: message}
}

// Error carries a failure message; Trace holds the diagnostic stack for
// worker faults and is empty for configuration errors.
type Error struct {
	Type  Kind   `json:"type"`
	Error string `json:"error"`
	Trace string `json:"trace,omitempty"`
}

func (Error) Kind() Kind { return KindError }

func NewError(message, trace string) Error {
	return Error{Type: KindError, Error: message, Trace: trace}
}

// Ping is the server-side keepalive probe.
type Ping struct {
	Type Kind `json:"type"`
}

func (Ping) Kind() Kind { return KindPing }

func NewPing() Ping {
	return Ping{Type: KindPing}
}

// Command is the variant type flowing client -> coordinator -> worker.
// Commands are drained opportunistically once per worker loop iteration;
// FIFO order is preserved, delivery latency is one iteration at worst.
type Command interface {
	isCommand()
}

// Stop requests cooperative worker exit via the command path. The stop
// flag remains the authoritative signal; this exists so a worker blocked
// between signal polls still observes the request while draining.
type Stop struct{}

func (Stop) isCommand() {}

// SetMode toggles visual (board-streaming) mode.
type SetMode struct {
	Visual bool
}

func (SetMode) isCommand() {}

// SetSpeed adjusts the visualization speed in [0.1, 1.0].
type SetSpeed struct {
	Speed float64
}

func (SetSpeed) isCommand() {}
