// Package server is the thin transport layer: gorilla/mux routes, the
// websocket duplex stream, the connection broadcaster, and the periodic
// poll task that drains worker telemetry out to clients. All operational
// decisions live in the session coordinator; handlers translate between
// HTTP/JSON and coordinator calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	channerics "github.com/niceyeti/channerics/channels"

	"mltetris/session"
	"mltetris/slots"
	"mltetris/train"
)

const (
	// Poll task cadence and the per-cycle drain bound, which keeps one
	// chatty worker from starving connection handling.
	pollInterval     = 50 * time.Millisecond
	maxDrainPerCycle = 50

	shutdownGrace     = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Server wires the coordinator, slot manager, and broadcaster behind an
// HTTP surface. Constructed once at startup and injected everywhere; no
// package-level mutable state.
type Server struct {
	addr        string
	coord       *session.Coordinator
	slotMgr     *slots.Manager
	broadcaster *Broadcaster
	defaultCfg  train.Config
	router      *mux.Router
}

// NewServer builds the route table. Serve must be called to listen.
func NewServer(
	addr string,
	coord *session.Coordinator,
	slotMgr *slots.Manager,
	defaultCfg train.Config,
) *Server {
	s := &Server{
		addr:        addr,
		coord:       coord,
		slotMgr:     slotMgr,
		broadcaster: NewBroadcaster(),
		defaultCfg:  defaultCfg,
		router:      mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.serveIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.serveWebsocket)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/training/start", s.handleTrainingStart).Methods(http.MethodPost)
	api.HandleFunc("/training/stop", s.handleTrainingStop).Methods(http.MethodPost)
	api.HandleFunc("/demo/start", s.handleDemoStart).Methods(http.MethodPost)
	api.HandleFunc("/demo/stop", s.handleDemoStop).Methods(http.MethodPost)
	api.HandleFunc("/slots", s.handleSlotList).Methods(http.MethodGet)
	api.HandleFunc("/slots/save", s.handleSlotSave).Methods(http.MethodPost)
	api.HandleFunc("/slots/{name}", s.handleSlotDelete).Methods(http.MethodDelete)
	api.HandleFunc("/slots/{name}/export", s.handleSlotExport).Methods(http.MethodPost)
}

// Serve runs the poll task and the HTTP listener until ctx is
// cancelled, then stops any live worker and drains connections.
func (s *Server) Serve(ctx context.Context) error {
	go s.pollTelemetry(ctx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		s.coord.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pollTelemetry moves at most maxDrainPerCycle messages per tick from
// the worker channel to the broadcaster, preserving per-client FIFO
// ordering of worker emissions.
func (s *Server) pollTelemetry(ctx context.Context) {
	for range channerics.NewTicker(ctx.Done(), pollInterval) {
		for i := 0; i < maxDrainPerCycle; i++ {
			msg, ok := s.coord.Channel().Metrics.TryGet()
			if !ok {
				break
			}
			s.broadcaster.Broadcast(msg)
		}
	}
}

// apiResponse is the uniform REST result envelope.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("response encode:", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.GetStatus())
}

func (s *Server) handleTrainingStart(w http.ResponseWriter, r *http.Request) {
	var req trainingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid config body"})
			return
		}
	}

	cfg := req.apply(s.defaultCfg)
	if ok, msg := s.coord.StartTraining(cfg); ok {
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: msg})
	} else {
		writeJSON(w, http.StatusConflict, apiResponse{Error: msg})
	}
}

func (s *Server) handleTrainingStop(w http.ResponseWriter, r *http.Request) {
	_, msg := s.coord.Stop()
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: msg})
}

func (s *Server) handleDemoStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
			return
		}
	}

	if ok, msg := s.coord.StartDemo(req.Source); ok {
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: msg})
	} else {
		writeJSON(w, http.StatusConflict, apiResponse{Error: msg})
	}
}

func (s *Server) handleDemoStop(w http.ResponseWriter, r *http.Request) {
	_, msg := s.coord.Stop()
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: msg})
}

func (s *Server) handleSlotList(w http.ResponseWriter, r *http.Request) {
	list := s.slotMgr.List()
	if list == nil {
		list = []slots.SlotInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slots": list})
}

func (s *Server) handleSlotSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid request body"})
		return
	}
	if req.Source == "" {
		req.Source = train.CheckpointLatest
	}

	if !s.slotMgr.Save(req.Source, req.Name) {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid slot name or missing source checkpoint"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Model saved to slot " + req.Name})
}

func (s *Server) handleSlotDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.slotMgr.Delete(name) {
		writeJSON(w, http.StatusNotFound, apiResponse{Error: "slot not found"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Slot deleted"})
}

func (s *Server) handleSlotExport(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid export path"})
		return
	}

	if !s.slotMgr.Export(name, req.Path) {
		writeJSON(w, http.StatusNotFound, apiResponse{Error: "slot not found"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Model exported to " + req.Path})
}

// indexTemplate is the self-contained dashboard page: websocket
// bootstrap, control buttons, a board canvas, and a scrolling metrics
// log. A real front end would replace this; it exists so the server is
// usable standalone from a browser.
var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>mltetris trainer</title>
	<link rel="icon" href="data:,">
	<style>
		body { font-family: monospace; margin: 2em; }
		td { width: 18px; height: 18px; border: 1px solid #ccc; }
		td.filled { background: #4078c0; }
		#log { max-height: 20em; overflow-y: scroll; border: 1px solid #ccc; padding: 0.5em; }
	</style>
	<script>
		const ws = new WebSocket("ws://" + location.host + "/ws");

		ws.addEventListener('error', function (event) {
			console.log('WebSocket error: ', event);
		});

		ws.onmessage = function (event) {
			const msg = JSON.parse(event.data);
			if (msg.type === "ping") {
				ws.send(JSON.stringify({command: "pong"}));
				return;
			}
			if (msg.type === "board" || msg.type === "demo_board") {
				renderBoard(msg.board);
				return;
			}
			const log = document.getElementById("log");
			log.textContent = JSON.stringify(msg) + "\n" + log.textContent.slice(0, 40000);
		};

		function renderBoard(board) {
			const table = document.getElementById("board");
			table.innerHTML = "";
			for (const row of board) {
				const tr = document.createElement("tr");
				for (const cell of row) {
					const td = document.createElement("td");
					if (cell !== 0) td.className = "filled";
					tr.appendChild(td);
				}
				table.appendChild(tr);
			}
		}

		function send(cmd) { ws.send(JSON.stringify(cmd)); }
	</script>
</head>
<body>
	<h1>mltetris trainer</h1>
	<div>
		<button onclick='send({command:"start"})'>start</button>
		<button onclick='send({command:"pause"})'>pause</button>
		<button onclick='send({command:"resume"})'>resume</button>
		<button onclick='send({command:"stop"})'>stop</button>
		<button onclick='send({command:"set_mode", visual:true})'>visual</button>
		<button onclick='send({command:"set_mode", visual:false})'>headless</button>
		<button onclick='send({command:"start_demo"})'>demo</button>
		<button onclick='send({command:"status"})'>status</button>
	</div>
	<table id="board" cellspacing="0"></table>
	<pre id="log"></pre>
</body>
</html>
`))

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := indexTemplate.Execute(w, nil); err != nil {
		log.Println("index render:", err)
	}
}
