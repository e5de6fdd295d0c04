package session

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/peregrine-vr/flightreplay/estimator"
	"github.com/peregrine-vr/flightreplay/gps"
	"github.com/peregrine-vr/flightreplay/replay"
	"github.com/peregrine-vr/flightreplay/video"
)

const (
	sessionMessageQueueSize = 256
	clientSendQueueSize     = 32
	clientRecvQueueSize     = 32
	commandQueueSize        = 16
	keyLength               = 32
)

const commandTimeout = 5 * time.Second

// ErrSessionBusy is returned when a command cannot be delivered to the
// session's control goroutine in time.
var ErrSessionBusy = errors.New("session: control loop not responding")

// CommandType identifies a control command.
type CommandType int

// CommandType instances
const (
	CommandPlay CommandType = iota
	CommandPause
	CommandResume
	CommandStop
	CommandSeek
	CommandPreview
	CommandState
	CommandShutdown
)

// Command is a request into the session's control goroutine. Commands
// are the only way code outside that goroutine may drive the replay
// controller. Resp, when non-nil, receives a snapshot taken after the
// command has been applied.
type Command struct {
	Type        CommandType
	GpsTimeMs   int64
	VideoTimeMs int64
	Resume      bool
	Resp        chan Snapshot
}

// Snapshot is a point-in-time view of a session for REST responses and
// state broadcasts.
type Snapshot struct {
	SessionID       string `json:"sessionID"`
	Status          string `json:"status"`
	GpsTimeMs       int64  `json:"gpsTime"`
	VideoPositionMs int64  `json:"videoPosition"`
	ElapsedMs       int64  `json:"elapsed"`
	TimelineStartMs int64  `json:"timelineStart"`
	TimelineEndMs   int64  `json:"timelineEnd"`
	VideoDurationMs int64  `json:"videoDuration"`
	GpsCompleted    bool   `json:"gpsCompleted"`
	VideoCompleted  bool   `json:"videoCompleted"`
	Clients         int    `json:"clients"`
}

// Session binds one replay controller and its stream collaborators to a
// set of websocket clients. A single control goroutine (Run) owns the
// controller: websocket scrubs, REST commands, stream events and the
// broadcast ticker are all multiplexed onto it.
type Session struct {
	ID string

	controller *Controller
	provider   *gps.Provider
	player     *video.Player
	est        *estimator.Estimator
	track      *gps.Track

	clients   map[string]*ClientConn
	recvQueue chan *Message
	enqClient chan *ClientConn
	deqClient chan *ClientConn
	commands  chan Command
	closing   chan bool

	masterKey string
	guestKey  string

	server          *Server
	broadcastPeriod time.Duration
}

// Controller is the replay core re-exported for session embedding.
type Controller = replay.Controller

// NewSession wires a controller, GPS provider, video player and motion
// estimator for one loaded track.
func NewSession(id string, track *gps.Track, videoDurationMs, videoOffsetMs int64, srv *Server, mKey, gKey string) *Session {
	s := &Session{
		ID:              id,
		track:           track,
		clients:         make(map[string]*ClientConn),
		recvQueue:       make(chan *Message, sessionMessageQueueSize),
		enqClient:       make(chan *ClientConn),
		deqClient:       make(chan *ClientConn),
		commands:        make(chan Command, commandQueueSize),
		closing:         make(chan bool),
		masterKey:       mKey,
		guestKey:        gKey,
		server:          srv,
		broadcastPeriod: time.Second,
	}
	if srv != nil {
		s.broadcastPeriod = srv.cfg.BroadcastPeriod
	}

	s.est = estimator.New()
	s.provider = gps.NewProvider(track)
	s.player = video.NewPlayer()
	s.controller = replay.NewController(s.provider, s.player, s.est, videoOffsetMs)
	s.provider.Bind(s.controller.Post)
	s.provider.OnFix(s.onFix)
	s.player.Bind(s.controller.Post)
	s.player.Load(videoDurationMs)

	return s
}

// NewSessionWithRandomKeys is a helper to create a session with random keys
func NewSessionWithRandomKeys(id string, track *gps.Track, videoDurationMs, videoOffsetMs int64, srv *Server) (*Session, string, string, error) {
	mKey, e1 := GenerateKey(keyLength)
	gKey, e2 := GenerateKey(keyLength)
	if e1 != nil {
		return nil, "", "", e1
	}
	if e2 != nil {
		return nil, "", "", e2
	}
	return NewSession(id, track, videoDurationMs, videoOffsetMs, srv, mKey, gKey), mKey, gKey, nil
}

// CheckMasterKey verifies key with the session's master key
func (s *Session) CheckMasterKey(key string) bool {
	return key == s.masterKey
}

// CheckGuestKey verifies key with the session's guest key
func (s *Session) CheckGuestKey(key string) bool {
	return key == s.guestKey
}

// Estimator exposes the session's motion estimator for render queries.
func (s *Session) Estimator() *estimator.Estimator {
	return s.est
}

// Track returns the loaded GPS track.
func (s *Session) Track() *gps.Track {
	return s.track
}

// onFix runs on the GPS emitter goroutine for every delivered fix.
func (s *Session) onFix(f gps.Fix) {
	s.est.Update(f)
	if s.server != nil {
		s.server.metrics.FixesEmitted.Inc()
		s.server.WriteNMEA(f)
	}
}

// Do delivers a command to the control goroutine and waits for the
// post-command snapshot.
func (s *Session) Do(cmd Command) (Snapshot, error) {
	if cmd.Resp == nil {
		cmd.Resp = make(chan Snapshot, 1)
	}
	select {
	case s.commands <- cmd:
	case <-time.After(commandTimeout):
		return Snapshot{}, ErrSessionBusy
	}
	select {
	case snap := <-cmd.Resp:
		return snap, nil
	case <-time.After(commandTimeout):
		return Snapshot{}, ErrSessionBusy
	}
}

// Run is the session's control goroutine. It owns the replay controller
// and is the only goroutine that touches it.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.broadcastPeriod)
	defer func() {
		ticker.Stop()
		s.controller.Stop()
		// Kill every attached client before deregistering so their
		// goroutines unwind through the closing signal rather than
		// sending on deqClient after teardown.
		close(s.closing)
		for _, c := range s.clients {
			s.killClient(c)
		}
		if s.server != nil {
			select {
			case s.server.deqSession <- s:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-s.commands:
			if done := s.handleCommand(ctx, cmd); done {
				return
			}

		case m := <-s.recvQueue:
			s.handleClientMessage(ctx, m)

		case ev := <-s.controller.Events():
			s.handleStreamEvent(ev)

		case c := <-s.enqClient:
			if nil != c {
				s.clients[c.ID] = c
				if s.server != nil {
					s.server.metrics.ConnectedClients.Inc()
				}
			}

		case c := <-s.deqClient:
			s.killClient(c)

		case <-ticker.C:
			s.broadcastState()
			s.persistPosition()
		}
	}
}

// killClient removes a client from the session, NOT thread-safe. The
// client's recvQueue stays open: its recv goroutine owns closing it.
func (s *Session) killClient(c *ClientConn) {
	if nil != c {
		if _c, ok := s.clients[c.ID]; ok && (_c == c) {
			log.Printf("session %s: closing client %s", s.ID, c.ID)
			delete(s.clients, c.ID)
			c.finalise()
			if s.server != nil {
				s.server.metrics.ConnectedClients.Dec()
			}
		}
	}
}

// handleCommand applies one control command. Returns true on shutdown.
func (s *Session) handleCommand(ctx context.Context, cmd Command) bool {
	switch cmd.Type {
	case CommandPlay:
		prior := s.controller.State()
		s.controller.Play(ctx)
		if s.server != nil && prior != replay.StatePlaying && prior != replay.StatePaused {
			s.server.metrics.ReplaysStarted.Inc()
		}
	case CommandPause:
		s.controller.Pause()
	case CommandResume:
		s.controller.Resume()
	case CommandStop:
		s.controller.Stop()
	case CommandSeek:
		s.controller.SeekTo(cmd.GpsTimeMs, cmd.VideoTimeMs, cmd.Resume)
		if s.server != nil {
			s.server.metrics.SeeksTotal.Inc()
		}
	case CommandPreview:
		s.controller.PreviewSeek(cmd.GpsTimeMs, cmd.VideoTimeMs)
		if s.server != nil {
			s.server.metrics.PreviewSeeks.Inc()
		}
	case CommandState:
		// snapshot only
	case CommandShutdown:
		if cmd.Resp != nil {
			cmd.Resp <- s.snapshot()
		}
		return true
	}
	if cmd.Resp != nil {
		cmd.Resp <- s.snapshot()
	}
	return false
}

// handleClientMessage applies a message forwarded from a master client.
func (s *Session) handleClientMessage(ctx context.Context, m *Message) {
	switch m.Type {
	case MessageTypeControl:
		p, ok := m.Payload.(*ControlMessage)
		if !ok {
			return
		}
		log.Printf("session %s: %s from %s", s.ID, p.Action, m.Sender)
		switch p.Action {
		case ActionPlay:
			s.controller.Play(ctx)
		case ActionPause:
			s.controller.Pause()
		case ActionResume:
			s.controller.Resume()
		case ActionStop:
			s.controller.Stop()
		default:
			log.Printf("session %s: unknown control action %q", s.ID, p.Action)
		}

	case MessageTypeSeek:
		p, ok := m.Payload.(*SeekMessage)
		if !ok {
			return
		}
		if p.Preview {
			s.controller.PreviewSeek(p.GpsTimeMs, p.VideoTimeMs)
			if s.server != nil {
				s.server.metrics.PreviewSeeks.Inc()
			}
		} else {
			s.controller.SeekTo(p.GpsTimeMs, p.VideoTimeMs, p.Resume)
			if s.server != nil {
				s.server.metrics.SeeksTotal.Inc()
			}
		}
	}
}

// handleStreamEvent feeds a collaborator event through the controller
// and records completed passes.
func (s *Session) handleStreamEvent(ev replay.StreamEvent) {
	prior := s.controller.State()
	s.controller.HandleEvent(ev)
	if s.server != nil && prior != replay.StateCompleted && s.controller.State() == replay.StateCompleted {
		s.server.metrics.ReplaysCompleted.Inc()
	}
}

func (s *Session) snapshot() Snapshot {
	tl := s.controller.Timeline()
	tracker := s.controller.Tracker()
	return Snapshot{
		SessionID:       s.ID,
		Status:          s.controller.State().String(),
		GpsTimeMs:       tl.CurrentGpsTime(),
		VideoPositionMs: s.player.CurrentPosition(),
		ElapsedMs:       tl.ElapsedMs(),
		TimelineStartMs: tl.Start(),
		TimelineEndMs:   tl.End(),
		VideoDurationMs: tl.VideoDuration(),
		GpsCompleted:    tracker.GpsCompleted(),
		VideoCompleted:  tracker.VideoCompleted(),
		Clients:         len(s.clients),
	}
}

func (s *Session) stateMessage() *ReplayStateMessage {
	snap := s.snapshot()
	return &ReplayStateMessage{
		Status:          snap.Status,
		GpsTimeMs:       snap.GpsTimeMs,
		VideoPositionMs: snap.VideoPositionMs,
		ElapsedMs:       snap.ElapsedMs,
		TimelineStartMs: snap.TimelineStartMs,
		TimelineEndMs:   snap.TimelineEndMs,
		VideoDurationMs: snap.VideoDurationMs,
		GpsCompleted:    snap.GpsCompleted,
		VideoCompleted:  snap.VideoCompleted,
	}
}

// broadcastState pushes the current state to every connected client. A
// client with a full send queue misses the update rather than stalling
// the control goroutine.
func (s *Session) broadcastState() {
	if len(s.clients) == 0 {
		return
	}
	m := Message{
		Type:    MessageTypeStateBroadcast,
		Payload: s.stateMessage(),
	}
	for _, c := range s.clients {
		select {
		case c.sendQueue <- &m:
		default:
			if s.server != nil {
				s.server.metrics.DroppedMessages.Inc()
			}
		}
	}
}

// persistPosition records the last played GPS time so a restarted
// service can report where each session left off.
func (s *Session) persistPosition() {
	if s.server == nil {
		return
	}
	tl := s.controller.Timeline()
	if !tl.IsInitialized() {
		return
	}
	s.server.storage.Set(positionKey(s.ID), strconv.FormatInt(tl.CurrentGpsTime(), 10))
}

func positionKey(id string) string {
	return "session:" + id + ":pos"
}

func descriptorKey(id string) string {
	return "session:" + id
}
