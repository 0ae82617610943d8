package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatserver/internal/session"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/npezzotti/go-chatserver/internal/userstore"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	maxLineSize    = 8192
	aiContextLines = 100
	aiExchangeWait = 25 * time.Second
)

type connState int

const (
	statePreAuth connState = iota
	stateAuthenticated
	stateInRoom
	stateTerminated
)

// ConnectionHandler runs one client connection through the protocol state
// machine. State transitions happen only on the read goroutine; the
// heartbeat goroutine and subscriber queue may write concurrently but
// never touch state.
type ConnectionHandler struct {
	id   string
	conn net.Conn
	cs   *ChatServer
	log  zerolog.Logger

	writeMu sync.Mutex

	state connState
	sess  *session.Session
	room  *Room
	queue *MessageQueue

	loggedOut bool
	closeOnce sync.Once
	done      chan struct{}
}

func NewConnectionHandler(conn net.Conn, cs *ChatServer) *ConnectionHandler {
	id, _ := shortid.Generate()
	return &ConnectionHandler{
		id:   id,
		conn: conn,
		cs:   cs,
		log: cs.log.With().
			Str("conn", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
		done: make(chan struct{}),
	}
}

// Run drives the connection until the transport dies or the client logs
// out. It always leaves the subscriber detached from its room; the session
// survives unless the departure was an explicit logout.
func (h *ConnectionHandler) Run() {
	h.cs.stats.Incr(stats.ActiveConnections)
	defer h.cs.stats.Decr(stats.ActiveConnections)
	defer h.cleanup()

	h.log.Info().Msg("connection accepted")

	if err := h.writeLine(RespAuthRequired); err != nil {
		return
	}

	go h.heartbeatLoop()

	scanner := bufio.NewScanner(h.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for h.state != stateTerminated {
		h.conn.SetReadDeadline(time.Now().Add(h.cs.cfg.ReadTimeout))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				h.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		cmd := parseCommand(line)
		// Stray acks are tolerated in every state, including pre-auth
		// where a reconnecting client may answer a heartbeat from its
		// previous connection.
		if cmd.name == CmdHeartbeatAck {
			continue
		}

		if h.state == statePreAuth {
			h.handlePreAuth(cmd)
		} else {
			h.handleCommand(cmd)
		}
	}
}

func (h *ConnectionHandler) handlePreAuth(cmd command) {
	switch cmd.name {
	case CmdLogin:
		args := cmd.splitArgs(2)
		if len(args) != 2 {
			h.reply(RespInvalidFormat)
			return
		}

		user, err := h.cs.users.Authenticate(args[0], args[1])
		if err != nil {
			h.log.Info().Str("user", args[0]).Msg("authentication failed")
			h.reply(RespAuthFailed)
			return
		}
		h.startSession(user)

	case CmdRegister:
		args := cmd.splitArgs(2)
		if len(args) != 2 {
			h.reply(RespInvalidFormat)
			return
		}

		switch err := h.cs.users.Register(args[0], args[1]); {
		case err == nil:
			h.log.Info().Str("user", args[0]).Msg("user registered")
			h.reply(RespRegisterSuccess)
		case errors.Is(err, userstore.ErrUserExists):
			h.reply(RespRegisterFailed + " User already exists")
		default:
			h.log.Error().Err(err).Str("user", args[0]).Msg("registration failed")
			h.reply(RespRegisterFailed + " Registration error")
		}

	case CmdReconnect:
		h.handleReconnect(cmd)

	default:
		h.reply(RespUnknownCommand)
	}
}

func (h *ConnectionHandler) startSession(user types.User) {
	sess, err := h.cs.sessions.Create(user)
	if err != nil {
		h.log.Error().Err(err).Msg("create session")
		h.reply(RespAuthFailed)
		return
	}

	h.sess = sess
	h.state = stateAuthenticated
	h.log = h.log.With().Str("user", user.Username).Logger()

	h.reply(RespAuthSuccess + " " + user.Username + " " + sess.Token)
	h.sendRoomList()
	h.log.Info().Msg("authenticated")
}

func (h *ConnectionHandler) handleReconnect(cmd command) {
	args := cmd.splitArgs(2)
	if len(args) < 1 {
		h.reply(RespInvalidFormat)
		return
	}

	sess, err := h.cs.sessions.Get(args[0])
	if err != nil {
		h.log.Info().Msg("reconnect with expired or unknown token")
		h.reply(RespSessionExpired)
		return
	}

	h.sess = sess
	h.log = h.log.With().Str("user", sess.User.Username).Logger()

	if len(args) == 2 && h.cs.rooms.Exists(args[1]) {
		sess.SetRoom(args[1])
	}

	roomName := sess.Room()
	var room *Room
	if roomName != "" {
		if room = h.cs.rooms.Get(roomName); room == nil {
			sess.SetRoom("")
			roomName = ""
		}
	}

	if room == nil {
		h.state = stateAuthenticated
		h.reply(RespReconnectSuccess + " " + sess.User.Username)
		h.sendRoomList()
		h.log.Info().Msg("reconnected to lobby")
		return
	}

	h.state = stateInRoom
	h.reply(RespReconnectSuccess + " " + sess.User.Username + " " + roomName)

	// Rejoin quietly: the room is not told the user ever left.
	h.attachQueue(room)
	h.reply(RespRoomMessage + " " + formatSystemMessage("System: Reconnected to room "+roomName))
	h.log.Info().Str("room", roomName).Msg("reconnected to room")
}

func (h *ConnectionHandler) handleCommand(cmd command) {
	switch cmd.name {
	case CmdListRooms:
		h.sendRoomList()

	case CmdJoinRoom:
		if cmd.arg == "" {
			h.reply(RespInvalidFormat)
			return
		}

		room := h.cs.rooms.Get(cmd.arg)
		if room == nil {
			h.reply(RespError + " Room not found")
			return
		}
		h.joinRoom(room)

	case CmdCreateRoom:
		if cmd.arg == "" {
			h.reply(RespInvalidFormat)
			return
		}

		room, err := h.cs.rooms.CreateRoom(cmd.arg)
		if err != nil {
			h.reply(RespError + " Room already exists")
			return
		}
		h.reply(RespRoomCreated + " " + room.Name)
		h.joinRoom(room)

	case CmdCreateAIRoom:
		if cmd.arg == "" {
			h.reply(RespInvalidFormat)
			return
		}

		name, prompt, ok := strings.Cut(cmd.arg, "|")
		if !ok || name == "" || prompt == "" {
			h.reply(RespInvalidFormatAIRoom)
			return
		}

		room, err := h.cs.rooms.CreateAIRoom(name, prompt)
		if err != nil {
			h.reply(RespError + " Room already exists")
			return
		}
		h.reply(RespAIRoomCreated + " " + room.Name)
		h.joinRoom(room)

	case CmdMessage:
		if cmd.arg == "" {
			h.reply(RespInvalidFormat)
			return
		}
		if h.state != stateInRoom || h.room == nil {
			h.reply(RespError + " Not in a room")
			return
		}

		h.cs.stats.Incr(stats.MessagesIn)
		room := h.room
		room.UserMessage(h.sess.User.Username, cmd.arg)

		if room.IsAI {
			go h.aiExchange(room)
		}

	case CmdLeaveRoom:
		if h.state != stateInRoom {
			h.reply(RespError + " Not in a room")
			return
		}
		h.leaveRoom()

	case CmdLogout:
		h.loggedOut = true
		h.reply(RespLoggedOut)
		h.state = stateTerminated

	case CmdHeartbeat:
		h.reply(RespHeartbeatAck)

	default:
		h.reply(RespUnknownCommand)
	}
}

// joinRoom subscribes the client, leaving any current room first, and
// announces the arrival to the room.
func (h *ConnectionHandler) joinRoom(room *Room) {
	if h.room != nil {
		h.leaveRoom()
	}

	h.attachQueue(room)
	h.sess.SetRoom(room.Name)
	h.state = stateInRoom

	h.reply(RespJoinedRoom + " " + room.Name)
	room.SystemMessage(h.sess.User.Username + " enters the room")
	h.log.Info().Str("room", room.Name).Msg("joined room")
}

func (h *ConnectionHandler) attachQueue(room *Room) {
	q := NewMessageQueue(func(msg string) error {
		return h.writeLine(RespRoomMessage + " " + msg)
	}, &h.log, h.cs.stats)

	h.queue = q
	h.room = room
	room.AddUser(h.sess.User.Username, q)
}

func (h *ConnectionHandler) leaveRoom() {
	room := h.room
	if room == nil {
		return
	}

	room.SystemMessage(h.sess.User.Username + " leaves the room")
	room.RemoveUser(h.sess.User.Username)
	h.queue.Stop()
	h.queue = nil
	h.room = nil
	h.sess.SetRoom("")
	h.state = stateAuthenticated

	h.reply(RespLeftRoom)
	h.log.Info().Str("room", room.Name).Msg("left room")
}

// aiExchange asks the completer for a reply and re-enters it into the room
// as a bot message. It runs off the read goroutine; the room may have
// moved on by the time the reply lands, which is fine.
func (h *ConnectionHandler) aiExchange(room *Room) {
	ctx, cancel := context.WithTimeout(context.Background(), aiExchangeWait)
	defer cancel()

	reply, err := h.cs.completer.Complete(ctx, room.SystemPrompt, room.HistorySnapshot(aiContextLines))
	if err != nil {
		h.log.Error().Err(err).Str("room", room.Name).Msg("ai exchange failed")
		room.SystemMessage("Error: Bot not available - " + err.Error())
		return
	}

	if strings.TrimSpace(reply) == "" {
		room.SystemMessage("Error: Bot did not generate a valid response")
		return
	}

	room.BotMessage(reply)
}

func (h *ConnectionHandler) sendRoomList() {
	h.reply(RespRoomList + " " + strings.Join(h.cs.rooms.Names(), ","))
}

// reply writes one response line; a failed write tears the connection
// down, which makes the pending read fail and the read loop exit.
func (h *ConnectionHandler) reply(line string) {
	if err := h.writeLine(line); err != nil {
		h.log.Debug().Err(err).Msg("write failed")
		h.terminate()
	}
}

func (h *ConnectionHandler) writeLine(line string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err := h.conn.Write([]byte(line + "\n"))
	return err
}

func (h *ConnectionHandler) heartbeatLoop() {
	ticker := time.NewTicker(h.cs.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.writeLine(RespHeartbeat); err != nil {
				h.log.Debug().Err(err).Msg("heartbeat write failed, terminating")
				h.terminate()
				return
			}
		}
	}
}

func (h *ConnectionHandler) terminate() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.conn.Close()
	})
}

// cleanup detaches the subscriber and closes the transport. A logout is a
// hard departure: the session dies with the connection. Anything else is
// soft: the session keeps its room so a reconnect can land back in it.
func (h *ConnectionHandler) cleanup() {
	h.terminate()

	if h.queue != nil {
		h.queue.Stop()
	}
	if h.room != nil {
		h.room.RemoveUser(h.sess.User.Username)
	}

	if h.sess != nil && h.loggedOut {
		h.cs.sessions.Remove(h.sess.Token)
		h.sess.SetRoom("")
	}

	h.log.Info().Bool("logout", h.loggedOut).Msg("connection closed")
}
