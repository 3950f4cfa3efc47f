package engine

import (
	"strings"

	"github.com/gravitas-games/hacksim/internal/network"
	"github.com/gravitas-games/hacksim/pkg/models"
)

// Packet describes one inbound attack attempt
type Packet struct {
	SourceIP string
	Port     string
	Protocol string
}

// Decision is the firewall verdict for a packet
type Decision struct {
	// Rule is the first matching rule, nil when nothing matched
	Rule    *models.FirewallRule
	Blocked bool
}

// Logged reports whether the matching rule asks for the packet to be recorded
func (d Decision) Logged() bool {
	return d.Rule != nil && d.Rule.Action == models.ActionLog
}

// Evaluate scans rules in stored order and applies the first match.
// No match allows the packet. Only deny blocks. rules is not modified.
func Evaluate(rules []models.FirewallRule, pkt Packet) Decision {
	for i := range rules {
		r := &rules[i]
		if !matchesPattern(r.Source, pkt.SourceIP) || !matchesPattern(r.Port, pkt.Port) {
			continue
		}
		if r.Protocol != pkt.Protocol {
			continue
		}

		rule := *r
		return Decision{Rule: &rule, Blocked: rule.Action == models.ActionDeny}
	}

	return Decision{}
}

func matchesPattern(pattern, value string) bool {
	return pattern == models.Wildcard || pattern == value
}

// NormalizeRule turns a client payload into a stored rule.
// Unknown actions become log so they never block.
func NormalizeRule(p network.UpdateFirewallPayload) models.FirewallRule {
	rule := models.FirewallRule{
		Direction: strings.TrimSpace(p.Direction),
		Source:    strings.TrimSpace(p.Source),
		Port:      strings.TrimSpace(p.Port),
		Protocol:  strings.ToLower(strings.TrimSpace(p.Protocol)),
		Action:    models.Action(strings.ToLower(strings.TrimSpace(p.Action))),
	}

	if rule.Direction == "" {
		rule.Direction = "inbound"
	}
	if rule.Source == "" {
		rule.Source = models.Wildcard
	}
	if rule.Port == "" {
		rule.Port = models.Wildcard
	}

	switch rule.Action {
	case models.ActionDeny, models.ActionAllow, models.ActionLog:
	default:
		rule.Action = models.ActionLog
	}

	return rule
}

// appendRule adds rule, evicting the oldest entries beyond capacity
func appendRule(rules []models.FirewallRule, rule models.FirewallRule, capacity int) []models.FirewallRule {
	rules = append(rules, rule)
	if over := len(rules) - capacity; over > 0 {
		rules = append(rules[:0:0], rules[over:]...)
	}
	return rules
}
