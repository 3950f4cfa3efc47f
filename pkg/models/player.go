package models

import "time"

// Status is the lifecycle state of a simulated host
type Status string

const (
	StatusActive      Status = "active"
	StatusCompromised Status = "compromised"
)

// Action is what a firewall rule does with a matching packet
type Action string

const (
	ActionDeny  Action = "deny"
	ActionAllow Action = "allow"
	ActionLog   Action = "log"
)

// Wildcard matches any source address or port in a firewall rule
const Wildcard = "*"

// FirewallRule filters inbound attack packets
type FirewallRule struct {
	Direction string `json:"direction"`
	Source    string `json:"src"`   // "*" or exact address
	Port      string `json:"port"`  // "*" or exact port
	Protocol  string `json:"proto"` // matched exactly
	Action    Action `json:"action"`
}

// Player is the simulated host owned by one connected session
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password int    `json:"password"`
	IP       string `json:"ip"`

	HacksCount    int            `json:"hacks"`
	Status        Status         `json:"status"`
	FirewallRules []FirewallRule `json:"firewall"`

	// Attacks are refused while now is before CooldownUntil
	CooldownUntil time.Time `json:"cooldown_until"`
	JoinedAt      time.Time `json:"joined_at"`
}

// RosterEntry is the public view of a player shared with every session.
// It never carries the password or the firewall.
type RosterEntry struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	IP         string `json:"ip"`
	HacksCount int    `json:"hacks"`
	Status     Status `json:"status"`
}

// IsActive checks if the host can attack and be attacked
func (p Player) IsActive() bool {
	return p.Status == StatusActive
}

// IsCompromised checks if the host's password has been found
func (p Player) IsCompromised() bool {
	return p.Status == StatusCompromised
}

// CooldownRemaining returns how long the player must still wait before attacking
func (p *Player) CooldownRemaining(now time.Time) time.Duration {
	if !now.Before(p.CooldownUntil) {
		return 0
	}
	return p.CooldownUntil.Sub(now)
}

// Public returns the roster view of the player
func (p *Player) Public() RosterEntry {
	return RosterEntry{
		ID:         p.ID,
		Username:   p.Username,
		IP:         p.IP,
		HacksCount: p.HacksCount,
		Status:     p.Status,
	}
}

// Clone returns a copy that shares no mutable state with p
func (p *Player) Clone() Player {
	c := *p
	c.FirewallRules = make([]FirewallRule, len(p.FirewallRules))
	copy(c.FirewallRules, p.FirewallRules)
	return c
}
