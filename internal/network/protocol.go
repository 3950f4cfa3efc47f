package network

import (
	"encoding/json"
	"strings"
)

// Message types - Client → Server
const (
	MsgTypeJoinGame       = "join_game"
	MsgTypeUpdateFirewall = "update_firewall"
	MsgTypeStartAttack    = "start_attack"
	MsgTypeStopAttack     = "stop_attack"
	MsgTypePing           = "ping"
)

// Message types - Server → Client
const (
	MsgTypeInitState       = "init_state"
	MsgTypeUpdatePlayers   = "update_player_list"
	MsgTypeFirewallUpdated = "firewall_updated"
	MsgTypeLog             = "log"
	MsgTypeHackResult      = "hack_result"
	MsgTypeCooldownStart   = "cooldown_start"
	MsgTypeGameOver        = "game_over"
	MsgTypeGameReset       = "game_reset"
	MsgTypePong            = "pong"
)

// ClientMessage represents any message from client to server
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage represents any message from server to client
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// --- Client Message Payloads ---

// JoinGamePayload is sent by client to create its host
type JoinGamePayload struct {
	Username string `json:"username"`

	// Password may arrive as a JSON number or a string typed into a form
	Password json.RawMessage `json:"password"`
}

// PasswordText returns the raw password as text, unquoting JSON strings
func (p JoinGamePayload) PasswordText() string {
	return scalarText(p.Password)
}

// scalarText renders a JSON string or number as text; null and invalid input give ""
func scalarText(data json.RawMessage) string {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return ""
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	}
	return raw
}

// UpdateFirewallPayload adds one rule to the sender's firewall
type UpdateFirewallPayload struct {
	Direction string `json:"direction"`
	Source    string `json:"src"`
	Port      string `json:"port"`
	Protocol  string `json:"proto"`
	Action    string `json:"action"`
}

// UnmarshalJSON accepts the port as either a number or a string
func (p *UpdateFirewallPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Direction string          `json:"direction"`
		Source    string          `json:"src"`
		Port      json.RawMessage `json:"port"`
		Protocol  string          `json:"proto"`
		Action    string          `json:"action"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Direction = raw.Direction
	p.Source = raw.Source
	p.Protocol = raw.Protocol
	p.Action = raw.Action
	p.Port = scalarText(raw.Port)
	return nil
}

// StartAttackPayload starts a brute force run against another host
type StartAttackPayload struct {
	TargetID    string `json:"targetId"`
	TargetPort  string `json:"targetPort"`
	TargetProto string `json:"targetProto"`
}

// UnmarshalJSON accepts the port as either a number or a string
func (p *StartAttackPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		TargetID    string          `json:"targetId"`
		TargetPort  json.RawMessage `json:"targetPort"`
		TargetProto string          `json:"targetProto"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.TargetID = raw.TargetID
	p.TargetProto = raw.TargetProto
	p.TargetPort = scalarText(raw.TargetPort)
	return nil
}

// --- Server Message Payloads ---

// HackResultPayload tells the attacker its run found the password
type HackResultPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GameOverPayload is sent to a host when it becomes compromised
type GameOverPayload struct {
	Message string `json:"message"`
}

// LogMessage builds a point-to-point human-readable status line
func LogMessage(text string) *ServerMessage {
	return &ServerMessage{Type: MsgTypeLog, Payload: text}
}
