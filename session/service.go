package session

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/peregrine-vr/flightreplay/gps"
)

// Descriptor is the persisted record of a session.
type Descriptor struct {
	SessionID       string    `json:"sessionID"`
	TrackStartMs    int64     `json:"trackStart"`
	TrackDurationMs int64     `json:"trackDuration"`
	VideoDurationMs int64     `json:"videoDuration"`
	VideoOffsetMs   int64     `json:"videoOffset"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Server encapsulates service-level global data: the session registry,
// persistent storage, metrics and the optional NMEA output.
type Server struct {
	sessions   map[string]*Session
	enqSession chan *Session
	deqSession chan *Session
	mutex      sync.RWMutex // guard sessions for look up

	cfg     *Config
	storage Storage
	metrics *Metrics

	runCtx context.Context

	nmeaMu  sync.Mutex
	nmeaOut io.Writer
}

// NewServer creates a new server struct
func NewServer(cfg *Config, storage Storage, metrics *Metrics) *Server {
	assertCryptoPRNG()
	return &Server{
		sessions:   make(map[string]*Session),
		enqSession: make(chan *Session),
		deqSession: make(chan *Session),
		cfg:        cfg,
		storage:    storage,
		metrics:    metrics,
		runCtx:     context.Background(),
	}
}

// SetNMEAOutput attaches a writer (a serial port, typically) that
// receives GGA/RMC sentences for every emitted fix.
func (s *Server) SetNMEAOutput(w io.Writer) {
	s.nmeaMu.Lock()
	s.nmeaOut = w
	s.nmeaMu.Unlock()
}

// Get looks up a registered session by id, nil if absent.
func (s *Server) Get(id string) *Session {
	if id == "" {
		return nil
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sessions[id]
}

// Add registers a session and starts its control goroutine.
func (s *Server) Add(sess *Session) {
	s.enqSession <- sess
}

// Run manages the session registry until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return

		case sess := <-s.enqSession:
			if nil != sess {
				s.mutex.Lock()
				s.sessions[sess.ID] = sess
				s.mutex.Unlock()
				go sess.Run(ctx)
				s.persistDescriptor(sess)
				s.metrics.ActiveSessions.Inc()
				s.metrics.SessionsCreated.Inc()
				log.Printf("session %s registered", sess.ID)
			}

		case sess := <-s.deqSession:
			if nil != sess {
				s.mutex.Lock()
				// The session's channels stay open: late client handoffs
				// are diverted by its closing signal instead.
				if _s, ok := s.sessions[sess.ID]; ok && _s == sess {
					delete(s.sessions, sess.ID)
				}
				s.mutex.Unlock()
				s.storage.Del(descriptorKey(sess.ID))
				s.storage.Del(positionKey(sess.ID))
				s.metrics.ActiveSessions.Dec()
				log.Printf("session %s deregistered", sess.ID)
			}
		}
	}
}

func (s *Server) persistDescriptor(sess *Session) {
	d := Descriptor{
		SessionID:       sess.ID,
		TrackStartMs:    sess.track.StartTime(),
		TrackDurationMs: sess.track.Duration(),
		VideoDurationMs: sess.player.Duration(),
		VideoOffsetMs:   sess.controller.Timeline().VideoOffset(),
		CreatedAt:       time.Now(),
	}
	b, err := json.Marshal(d)
	if err != nil {
		log.Printf("session %s: marshal descriptor: %v", sess.ID, err)
		return
	}
	s.storage.Set(descriptorKey(sess.ID), string(b))
}

// LoadDescriptor reads a persisted session descriptor, false if absent.
func (s *Server) LoadDescriptor(id string) (Descriptor, bool) {
	v := s.storage.Get(descriptorKey(id))
	if v == "" {
		return Descriptor{}, false
	}
	var d Descriptor
	if err := json.Unmarshal([]byte(v), &d); err != nil {
		log.Printf("session %s: unmarshal descriptor: %v", id, err)
		return Descriptor{}, false
	}
	return d, true
}

// WriteNMEA renders a fix as GGA and RMC sentences on the configured
// output. No-op when no output is attached.
func (s *Server) WriteNMEA(f gps.Fix) {
	s.nmeaMu.Lock()
	defer s.nmeaMu.Unlock()
	if s.nmeaOut == nil {
		return
	}
	if _, err := io.WriteString(s.nmeaOut, gps.GGA(f)+gps.RMC(f)); err != nil {
		log.Printf("session: nmea output: %v", err)
	}
}
