package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/rs/zerolog"
)

// ErrRoomExists is returned when creating a room whose name is taken.
var ErrRoomExists = errors.New("room already exists")

// RoomRegistry owns all rooms for the lifetime of the server. Rooms are
// created on demand and never destroyed.
type RoomRegistry struct {
	historyCap   int
	joinSnapshot int
	log          *zerolog.Logger
	stats        stats.StatsProvider

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomRegistry(historyCap, joinSnapshot int, logger *zerolog.Logger, sp stats.StatsProvider) *RoomRegistry {
	return &RoomRegistry{
		historyCap:   historyCap,
		joinSnapshot: joinSnapshot,
		log:          logger,
		stats:        sp,
		rooms:        make(map[string]*Room),
	}
}

func (rr *RoomRegistry) CreateRoom(name string) (*Room, error) {
	return rr.create(name, false, "")
}

func (rr *RoomRegistry) CreateAIRoom(name, systemPrompt string) (*Room, error) {
	return rr.create(name, true, systemPrompt)
}

func (rr *RoomRegistry) create(name string, isAI bool, systemPrompt string) (*Room, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, ok := rr.rooms[name]; ok {
		return nil, ErrRoomExists
	}

	room := NewRoom(name, isAI, systemPrompt, rr.historyCap, rr.joinSnapshot, rr.log, rr.stats)
	rr.rooms[name] = room

	rr.log.Info().Str("room", name).Bool("ai", isAI).Msg("room created")
	return room, nil
}

func (rr *RoomRegistry) Get(name string) *Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.rooms[name]
}

func (rr *RoomRegistry) Exists(name string) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	_, ok := rr.rooms[name]
	return ok
}

// Names returns all room names in sorted order.
func (rr *RoomRegistry) Names() []string {
	rr.mu.RLock()
	names := make([]string, 0, len(rr.rooms))
	for name := range rr.rooms {
		names = append(names, name)
	}
	rr.mu.RUnlock()

	sort.Strings(names)
	return names
}
