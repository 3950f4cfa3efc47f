package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gravitas-games/hacksim/internal/network"
)

// Session is the set of live connections of one game.
// It delivers engine events by player identity.
type Session struct {
	ID        string
	CreatedAt time.Time

	connections map[string]*Connection // playerID -> Connection
	mu          sync.RWMutex
}

// SessionStatus represents the current state of the session
type SessionStatus struct {
	State       string `json:"state"`
	Connections int    `json:"connections"`
	Players     int    `json:"players"`
	Uptime      int64  `json:"uptime"` // seconds
}

// NewSession creates a new game session
func NewSession(id string) *Session {
	log.Debug().Str("session", id).Msg("Creating session")

	return &Session{
		ID:          id,
		CreatedAt:   time.Now(),
		connections: make(map[string]*Connection),
	}
}

// AddConnection registers a connection under its player identity
func (s *Session) AddConnection(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections[conn.ID()] = conn
}

// RemoveConnection unregisters the connection if it is still the current one
func (s *Session) RemoveConnection(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, exists := s.connections[conn.ID()]; exists && current == conn {
		delete(s.connections, conn.ID())
	}
}

// Send delivers a message to one player
func (s *Session) Send(playerID string, msg *network.ServerMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conn, exists := s.connections[playerID]; exists {
		conn.SendMessage(msg)
	}
}

// Broadcast sends a message to all connected players
func (s *Session) Broadcast(msg *network.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal broadcast")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		conn.enqueue(data)
	}
}

// Count returns the number of live connections
func (s *Session) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.connections)
}

// GetStatus returns the current session status
func (s *Session) GetStatus(players int) SessionStatus {
	return SessionStatus{
		State:       "running",
		Connections: s.Count(),
		Players:     players,
		Uptime:      int64(time.Since(s.CreatedAt).Seconds()),
	}
}
