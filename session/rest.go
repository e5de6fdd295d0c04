package session

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/xid"

	"github.com/peregrine-vr/flightreplay/gps"
)

const sessionCreationTimeOut = 5 * time.Second

type createSessionRequest struct {
	TrackPath       string `json:"trackPath"`
	VideoDurationMs int64  `json:"videoDurationMs"`
	VideoOffsetMs   *int64 `json:"videoOffsetMs"`
}

type sessionCreatedMsg struct {
	OK         bool    `json:"ok"`
	SessionID  string  `json:"sessionID"`
	MasterKey  string  `json:"masterToken"`
	GuestKey   string  `json:"guestToken"`
	TrackStart int64   `json:"trackStart"`
	DurationMs int64   `json:"trackDuration"`
	Fixes      int     `json:"fixes"`
	DistanceM  float64 `json:"distance"`
}

func respondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {

	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

func respondWithError(reason string, statusCode int, w http.ResponseWriter) {
	respondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

func createSession(s *Server, w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError("Malformed request body.", http.StatusBadRequest, w)
		return
	}
	if req.TrackPath == "" {
		respondWithError("trackPath is required.", http.StatusBadRequest, w)
		return
	}

	track, err := gps.ReadTrack(req.TrackPath)
	if err != nil {
		log.Printf("session: load track %s: %v", req.TrackPath, err)
		respondWithError("Could not load track.", http.StatusUnprocessableEntity, w)
		return
	}

	offset := s.cfg.DefaultVideoOffset
	if req.VideoOffsetMs != nil {
		offset = *req.VideoOffsetMs
	}

	sid := xid.New().String()
	sess, mk, gk, err := NewSessionWithRandomKeys(sid, track, req.VideoDurationMs, offset, s)
	if err != nil {
		respondWithError("An internal error occurred.",
			http.StatusInternalServerError, w)
		return
	}

	stats := track.Stats()
	select {
	case s.enqSession <- sess:
		rsp := sessionCreatedMsg{
			OK:         true,
			SessionID:  sid,
			MasterKey:  mk,
			GuestKey:   gk,
			TrackStart: track.StartTime(),
			DurationMs: stats.DurationMs,
			Fixes:      stats.Fixes,
			DistanceM:  stats.DistanceM,
		}
		respondWithJSON(rsp, http.StatusOK, w)
	case <-time.After(sessionCreationTimeOut):
		respondWithError(
			"Session creation timed out.",
			http.StatusRequestTimeout,
			w,
		)
	}
}

// requireSession resolves {sid}, nil after writing the error response
// if the session does not exist.
func requireSession(s *Server, w http.ResponseWriter, r *http.Request) *Session {
	sid := mux.Vars(r)["sid"]
	sess := s.Get(sid)
	if sess == nil {
		respondWithError("No such session.", http.StatusNotFound, w)
	}
	return sess
}

// requireMaster additionally checks the master token.
func requireMaster(s *Server, w http.ResponseWriter, r *http.Request) *Session {
	sess := requireSession(s, w, r)
	if sess == nil {
		return nil
	}
	if !sess.CheckMasterKey(r.URL.Query().Get("token")) {
		respondWithError("Invalid token.", http.StatusUnauthorized, w)
		return nil
	}
	return sess
}

func getSessionState(s *Server, w http.ResponseWriter, r *http.Request) {
	sess := requireSession(s, w, r)
	if sess == nil {
		return
	}
	snap, err := sess.Do(Command{Type: CommandState})
	if err != nil {
		respondWithError(err.Error(), http.StatusServiceUnavailable, w)
		return
	}
	respondWithJSON(snap, http.StatusOK, w)
}

func controlSession(s *Server, cmdType CommandType, w http.ResponseWriter, r *http.Request) {
	sess := requireMaster(s, w, r)
	if sess == nil {
		return
	}
	snap, err := sess.Do(Command{Type: cmdType})
	if err != nil {
		respondWithError(err.Error(), http.StatusServiceUnavailable, w)
		return
	}
	respondWithJSON(snap, http.StatusOK, w)
}

func seekSession(s *Server, w http.ResponseWriter, r *http.Request) {
	sess := requireMaster(s, w, r)
	if sess == nil {
		return
	}
	var req SeekMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError("Malformed request body.", http.StatusBadRequest, w)
		return
	}
	cmdType := CommandSeek
	if req.Preview {
		cmdType = CommandPreview
	}
	snap, err := sess.Do(Command{
		Type:        cmdType,
		GpsTimeMs:   req.GpsTimeMs,
		VideoTimeMs: req.VideoTimeMs,
		Resume:      req.Resume,
	})
	if err != nil {
		respondWithError(err.Error(), http.StatusServiceUnavailable, w)
		return
	}
	respondWithJSON(snap, http.StatusOK, w)
}

func destroySession(s *Server, w http.ResponseWriter, r *http.Request) {
	sess := requireMaster(s, w, r)
	if sess == nil {
		return
	}
	if _, err := sess.Do(Command{Type: CommandShutdown}); err != nil {
		respondWithError(err.Error(), http.StatusServiceUnavailable, w)
		return
	}
	respondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
}

// NewReplayRestMux makes the RESTful API servemux of server
func NewReplayRestMux(server *Server) http.Handler {
	restMux := mux.NewRouter().StrictSlash(true)
	restMux.HandleFunc("/", http.NotFound)
	restMux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		createSession(server, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/session/{sid}", func(w http.ResponseWriter, r *http.Request) {
		getSessionState(server, w, r)
	}).Methods("GET")
	restMux.HandleFunc("/session/{sid}", func(w http.ResponseWriter, r *http.Request) {
		destroySession(server, w, r)
	}).Methods("DELETE")
	restMux.HandleFunc("/session/{sid}/play", func(w http.ResponseWriter, r *http.Request) {
		controlSession(server, CommandPlay, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/session/{sid}/pause", func(w http.ResponseWriter, r *http.Request) {
		controlSession(server, CommandPause, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/session/{sid}/resume", func(w http.ResponseWriter, r *http.Request) {
		controlSession(server, CommandResume, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/session/{sid}/stop", func(w http.ResponseWriter, r *http.Request) {
		controlSession(server, CommandStop, w, r)
	}).Methods("POST")
	restMux.HandleFunc("/session/{sid}/seek", func(w http.ResponseWriter, r *http.Request) {
		seekSession(server, w, r)
	}).Methods("POST")
	return restMux
}
