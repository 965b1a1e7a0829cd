package inspect

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/gekko3d/particlelife/compute/core"
	"github.com/gekko3d/particlelife/compute/frame"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	OpSetWeight = "set_weight"
	OpSetColour = "set_colour"

	sendBuffer  = 8
	editBuffer  = 256
	writeWait   = time.Second
	maxReadSize = 4096
)

// Logger is the subset of the app logger used by the inspection server.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any) {}
func (nopLogger) Warnf(string, ...any) {}

// Edit is a change requested by an inspection client.
type Edit struct {
	Op      string     `json:"op"`
	Row     int        `json:"row,omitempty"`
	Col     int        `json:"col,omitempty"`
	Value   float32    `json:"value,omitempty"`
	Flavour int        `json:"flavour,omitempty"`
	Colour  [4]float32 `json:"colour,omitempty"`
}

func (e Edit) Validate() error {
	switch e.Op {
	case OpSetWeight:
		if e.Row < 0 || e.Row >= core.MaxFlavours || e.Col < 0 || e.Col >= core.MaxFlavours {
			return fmt.Errorf("weight [%d][%d] out of range", e.Row, e.Col)
		}
	case OpSetColour:
		if e.Flavour < 0 || e.Flavour >= core.MaxFlavours {
			return fmt.Errorf("flavour %d out of range", e.Flavour)
		}
	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
	return nil
}

// Apply writes the edit into the authoritative state.
func (e Edit) Apply(state *core.State) {
	switch e.Op {
	case OpSetWeight:
		state.Weights[e.Row][e.Col] = e.Value
	case OpSetColour:
		state.Colours[e.Flavour] = e.Colour
	}
}

type ImageInfo struct {
	Handle uuid.UUID `json:"handle"`
	Width  uint32    `json:"width"`
	Height uint32    `json:"height"`
}

// Message is what clients receive once per published frame.
type Message struct {
	Type       string            `json:"type"`
	RunID      uuid.UUID         `json:"run_id"`
	Frame      uint64            `json:"frame"`
	States     map[string]string `json:"states"`
	Dispatched map[string]int    `json:"dispatched"`
	Output     ImageInfo         `json:"output"`
	Weights    ImageInfo         `json:"weights"`
	TickMicros int64             `json:"tick_us"`
}

func NewMessage(runID uuid.UUID, r frame.Report) Message {
	m := Message{
		Type:       "report",
		RunID:      runID,
		Frame:      r.Frame,
		States:     make(map[string]string, core.StageCount),
		Dispatched: make(map[string]int, core.StageCount),
		Output:     ImageInfo{r.Images.Output.Handle, r.Images.Output.Width, r.Images.Output.Height},
		Weights:    ImageInfo{r.Images.Weights.Handle, r.Images.Weights.Width, r.Images.Weights.Height},
		TickMicros: r.Duration.Microseconds(),
	}
	for _, kind := range core.Stages {
		m.States[kind.String()] = r.States[kind].String()
		m.Dispatched[kind.String()] = r.Dispatched[kind]
	}
	return m
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server streams frame reports to websocket clients and queues their edits
// for the simulation context.
type Server struct {
	RunID uuid.UUID

	upgrader websocket.Upgrader
	log      Logger
	edits    chan Edit

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

func NewServer(log Logger) *Server {
	if log == nil {
		log = nopLogger{}
	}
	return &Server{
		RunID:   uuid.New(),
		log:     log,
		edits:   make(chan Edit, editBuffer),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves /ws for streaming and /report for the latest report.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/report", s.serveReport)
	return mux
}

func (s *Server) serveReport(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(last)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("inspect upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	if s.last != nil {
		c.send <- s.last
	}
	s.mu.Unlock()

	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.drop(c)
	c.conn.SetReadLimit(maxReadSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnf("inspect read: %v", err)
			}
			return
		}
		var e Edit
		if err := json.Unmarshal(data, &e); err != nil {
			s.log.Warnf("inspect: bad edit: %v", err)
			continue
		}
		if err := s.Submit(e); err != nil {
			s.log.Warnf("inspect: %v", err)
		}
	}
}

func (s *Server) writeLoop(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.conn.Close()
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.conn.Close()
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

var ErrQueueFull = errors.New("edit queue full")

// Submit validates and queues an edit without blocking.
func (s *Server) Submit(e Edit) error {
	if err := e.Validate(); err != nil {
		return err
	}
	select {
	case s.edits <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Drain applies every queued edit to state and returns how many were applied.
// Only the simulation context calls it.
func (s *Server) Drain(state *core.State) int {
	n := 0
	for {
		select {
		case e := <-s.edits:
			e.Apply(state)
			n++
		default:
			return n
		}
	}
}

// Publish sends the report to every client. Slow clients miss frames.
func (s *Server) Publish(r frame.Report) error {
	data, err := json.Marshal(NewMessage(s.RunID, r))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = data
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
	return nil
}

// Clients is the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}
