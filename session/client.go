package session

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	websocketSubprotocolMagicV1 = "flightreplay_v1"
	errInvalidSessionID         = "Error: Invalid Session ID"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

const writeWait = 10 * time.Second

type clientState int

const (
	clientStateUnauthorised clientState = iota
	clientStateGuest
	clientStateMaster
)

// ClientConn encapsulates an established client websocket connection
type ClientConn struct {
	ID        string
	conn      *websocket.Conn
	recvQueue chan *Message
	sendQueue chan *Message
	closing   chan bool
	state     clientState
	session   *Session
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
	Subprotocols: []string{
		websocketSubprotocolMagicV1,
	},
	CheckOrigin: func(r *http.Request) bool {
		return true
	}, //disable origin check
}

// NewClientConn creates a client websocket connection wrapper
func NewClientConn(id string, session *Session, conn *websocket.Conn, state clientState) *ClientConn {
	return &ClientConn{
		ID:        id,
		conn:      conn,
		recvQueue: make(chan *Message, clientRecvQueueSize),
		sendQueue: make(chan *Message, clientSendQueueSize),
		closing:   make(chan bool),
		state:     state,
		session:   session,
	}
}

// finalise closes the client's lifecycle channels, run by the session
// control goroutine
func (c *ClientConn) finalise() {
	close(c.closing)
	close(c.sendQueue)
}

// deq hands the client back to its session. Diverted by the session's
// closing signal once teardown has begun, so a disconnecting client can
// never send on a dead session's channels.
func (c *ClientConn) deq() {
	select {
	case c.session.deqClient <- c:
	case <-c.session.closing:
	}
}

// the goroutine that runs this function reads from c.conn
func (c *ClientConn) handleWSClientRecv() {
	defer func() {
		close(c.recvQueue)
		c.deq()
	}()
	for {
		select {
		case <-c.closing:
			return
		default:
			_, m, err := c.conn.ReadMessage()
			if nil != err {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("Error unexpected closure: %v", err)
				}
				return
			}
			var msg Message
			err = Deserialise(m, &msg)
			if nil != err {
				log.Println("Invalid message:", string(m))
				continue
			}
			c.recvQueue <- &msg
		}
	}
}

// the goroutine that runs this function writes to c.conn
func (c *ClientConn) handleWSClientSend() {
	defer func() {
		c.conn.Close()
		c.deq()
	}()
	for {
		select {
		case msg, ok := <-c.sendQueue:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if msg.Type == MessageTypePong {
				// compute the service time
				p := msg.Payload.(*PongMessage)
				p.SvcTime = time.Since(msg.ReceivedAt).Seconds()
			}
			b, _ := msg.Serialise()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-c.closing:
			return
		}
	}
}

// the goroutine that runs this function controls other mutable states in c
func (c *ClientConn) handleReplayClient() {
	defer func() {
		c.deq()
	}()
	for {
		select {
		case m, ok := <-c.recvQueue:
			if !ok {
				return
			}
			m.Sender = c.ID

			switch m.Type {
			case MessageTypePing:
				p := m.Payload.(*PingMessage)

				var pong = Message{
					ReceivedAt: m.ReceivedAt,
					Type:       MessageTypePong,
					Payload: &PongMessage{
						Timestamp: p.Timestamp,
					},
				}
				c.sendQueue <- &pong

			case MessageTypeControl, MessageTypeSeek:
				if c.state == clientStateMaster {
					select {
					case c.session.recvQueue <- m:
					case <-c.session.closing:
					}
				} else {
					// silently drop it
					log.Println("non master attempted to control playback")
				}

			default:
				// silently drop the message
			}
		case <-c.closing:
			return
		}
	}
}

func handleWSClient(s *Server, w http.ResponseWriter, r *http.Request) {

	// parse query string and check if session id is valid
	q := r.URL.Query()
	sid := q.Get("sid")
	session := s.Get(sid)

	if nil == session {
		log.Println("client", r.RemoteAddr, "requested invalid session ID", sid)
		http.Error(w, errInvalidSessionID, http.StatusBadRequest)
		return
	}

	// token check
	token := q.Get("token")
	cState := clientStateUnauthorised
	if session.CheckMasterKey(token) {
		cState = clientStateMaster
	} else if session.CheckGuestKey(token) {
		cState = clientStateGuest
	}

	if cState == clientStateUnauthorised {
		log.Println("client", r.RemoteAddr, "supplied invalid token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	cid := xid.New().String()
	client := NewClientConn(cid, session, conn, cState)

	go client.handleReplayClient()
	go client.handleWSClientSend()
	go client.handleWSClientRecv()

	cType := "guest"
	if cState == clientStateMaster {
		cType = "master"
	}
	client.sendQueue <- &Message{
		Type: MessageTypeHello,
		Payload: &HelloMessage{
			ClientType: cType,
		}}
	select {
	case session.enqClient <- client:
		log.Printf("%s client %s from %s joined session %s", cType, cid, conn.RemoteAddr(), sid)
	case <-session.closing:
		// Session torn down mid-join; wind the client back down.
		client.finalise()
	}
}

// NewReplayWSMux makes the websocket servemux of server
func NewReplayWSMux(server *Server) http.Handler {
	wsMux := http.NewServeMux()

	wsMux.HandleFunc("/", http.NotFound)
	wsMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWSClient(server, w, r)
	})
	return wsMux
}
