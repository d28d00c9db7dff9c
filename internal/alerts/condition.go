// Package alerts evaluates alert rules against device snapshots and
// generates alert records. Built-in rules diff consecutive network
// snapshots; custom rules carry a user-authored condition tree that is
// evaluated per device.
package alerts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saagar210/Echolocate/internal/db"
)

// Condition type tags as persisted in rule condition trees.
const (
	CondIsOnline         = "is_online"
	CondIsTrusted        = "is_trusted"
	CondIsGateway        = "is_gateway"
	CondIPMatches        = "ip_matches"
	CondMACMatches       = "mac_matches"
	CondVendorContains   = "vendor_contains"
	CondHostnameContains = "hostname_contains"
	CondHasOpenPorts     = "has_open_ports"
	CondPortOpen         = "port_open"
	CondOSUnknown        = "os_unknown"
	CondLowOSConfidence  = "low_os_confidence"
	CondNotSeenSince     = "not_seen_since"
	CondIsNewDevice      = "is_new_device"
	CondHighLatency      = "high_latency"
	CondCustomProperty   = "custom_property"
)

// Logical operators for combining condition groups.
const (
	OpAnd = "AND"
	OpOr  = "OR"
	OpNot = "NOT"
)

// Condition is a single leaf predicate over a device snapshot. The Type
// tag selects the predicate; the remaining fields carry its parameters
// and are only meaningful for the types that use them.
type Condition struct {
	Type      string  `json:"type"`
	Pattern   string  `json:"pattern,omitempty"`
	Text      string  `json:"text,omitempty"`
	Port      int     `json:"port,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Minutes   int     `json:"minutes,omitempty"`
	MS        float64 `json:"ms,omitempty"`
	Key       string  `json:"key,omitempty"`
	Value     string  `json:"value,omitempty"`
}

// Evaluate applies the condition to a device snapshot. It is total:
// unknown types and missing device data evaluate to false, never error.
func (c *Condition) Evaluate(snap *db.DeviceSnapshot, now time.Time) bool {
	switch c.Type {
	case CondIsOnline:
		return snap.Online
	case CondIsTrusted:
		return snap.Trusted
	case CondIsGateway:
		return snap.Gateway
	case CondIPMatches:
		return snap.IPAddress != "" && matchesIPPattern(snap.IPAddress, c.Pattern)
	case CondMACMatches:
		return snap.MACAddress != "" && matchesMACPattern(snap.MACAddress, c.Pattern)
	case CondVendorContains:
		return containsFold(snap.Vendor, c.Text)
	case CondHostnameContains:
		return containsFold(snap.Hostname, c.Text)
	case CondHasOpenPorts:
		return len(snap.OpenPorts) > 0
	case CondPortOpen:
		return snap.HasOpenPort(c.Port)
	case CondOSUnknown:
		return snap.OSGuess == ""
	case CondLowOSConfidence:
		return snap.OSConfidence < c.Threshold
	case CondNotSeenSince:
		return now.Sub(snap.LastSeen) >= time.Duration(c.Minutes)*time.Minute
	case CondIsNewDevice:
		return now.Sub(snap.FirstSeen) <= time.Duration(c.Minutes)*time.Minute
	case CondHighLatency:
		return snap.LatencyMS != nil && *snap.LatencyMS > c.MS
	case CondCustomProperty:
		v, ok := snap.Properties[c.Key]
		return ok && v == c.Value
	}
	return false
}

// ConditionLogic combines condition groups with a boolean operator.
// AND and OR use Children; NOT uses Child.
type ConditionLogic struct {
	Operator string
	Children []ConditionGroup
	Child    *ConditionGroup
}

// ConditionGroup is a node in a rule's condition tree: either a single
// leaf condition or a logical combination of further groups. Exactly one
// of Leaf and Logic is set on a well-formed group.
type ConditionGroup struct {
	Leaf  *Condition
	Logic *ConditionLogic
}

// Leaf returns a group wrapping a single condition.
func Leaf(c Condition) ConditionGroup {
	return ConditionGroup{Leaf: &c}
}

// And returns a group that is true when all children are true. An empty
// And is vacuously true.
func And(children ...ConditionGroup) ConditionGroup {
	return ConditionGroup{Logic: &ConditionLogic{Operator: OpAnd, Children: children}}
}

// Or returns a group that is true when at least one child is true. An
// empty Or is false.
func Or(children ...ConditionGroup) ConditionGroup {
	return ConditionGroup{Logic: &ConditionLogic{Operator: OpOr, Children: children}}
}

// Not returns a group that inverts its child.
func Not(child ConditionGroup) ConditionGroup {
	return ConditionGroup{Logic: &ConditionLogic{Operator: OpNot, Child: &child}}
}

// Evaluate applies the group to a device snapshot. Empty or malformed
// nodes evaluate to false, except an empty AND which is vacuously true.
func (g *ConditionGroup) Evaluate(snap *db.DeviceSnapshot, now time.Time) bool {
	switch {
	case g.Leaf != nil:
		return g.Leaf.Evaluate(snap, now)
	case g.Logic != nil:
		return g.Logic.evaluate(snap, now)
	}
	return false
}

func (l *ConditionLogic) evaluate(snap *db.DeviceSnapshot, now time.Time) bool {
	switch l.Operator {
	case OpAnd:
		for i := range l.Children {
			if !l.Children[i].Evaluate(snap, now) {
				return false
			}
		}
		return true
	case OpOr:
		for i := range l.Children {
			if l.Children[i].Evaluate(snap, now) {
				return true
			}
		}
		return false
	case OpNot:
		if l.Child == nil {
			return false
		}
		return !l.Child.Evaluate(snap, now)
	}
	return false
}

// MarshalJSON serializes a group as either a leaf condition object or a
// logic object keyed by "operator".
func (g ConditionGroup) MarshalJSON() ([]byte, error) {
	switch {
	case g.Logic != nil:
		return g.Logic.MarshalJSON()
	case g.Leaf != nil:
		return json.Marshal(g.Leaf)
	}
	return nil, fmt.Errorf("condition group has neither leaf nor logic")
}

// UnmarshalJSON distinguishes logic nodes from leaves by the presence of
// an "operator" key.
func (g *ConditionGroup) UnmarshalJSON(data []byte) error {
	var probe struct {
		Operator string `json:"operator"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	if probe.Operator != "" {
		logic := &ConditionLogic{}
		if err := logic.UnmarshalJSON(data); err != nil {
			return err
		}
		g.Logic = logic
		g.Leaf = nil
		return nil
	}

	var leaf Condition
	if err := json.Unmarshal(data, &leaf); err != nil {
		return err
	}
	if leaf.Type == "" {
		return fmt.Errorf("condition is missing a type tag")
	}
	g.Leaf = &leaf
	g.Logic = nil
	return nil
}

type logicJSON struct {
	Operator   string           `json:"operator"`
	Conditions []ConditionGroup `json:"conditions,omitempty"`
	Condition  *ConditionGroup  `json:"condition,omitempty"`
}

// MarshalJSON writes AND/OR with a "conditions" list and NOT with a
// single "condition" child.
func (l *ConditionLogic) MarshalJSON() ([]byte, error) {
	switch l.Operator {
	case OpAnd, OpOr:
		// Keep the conditions key present even when empty so the
		// vacuous forms round-trip.
		return json.Marshal(struct {
			Operator   string           `json:"operator"`
			Conditions []ConditionGroup `json:"conditions"`
		}{l.Operator, l.Children})
	case OpNot:
		return json.Marshal(logicJSON{Operator: l.Operator, Condition: l.Child})
	}
	return nil, fmt.Errorf("unknown condition operator %q", l.Operator)
}

// UnmarshalJSON parses a logic node and validates its operator.
func (l *ConditionLogic) UnmarshalJSON(data []byte) error {
	var raw logicJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Operator {
	case OpAnd, OpOr:
		l.Operator = raw.Operator
		l.Children = raw.Conditions
		l.Child = nil
	case OpNot:
		if raw.Condition == nil {
			return fmt.Errorf("NOT operator requires a condition child")
		}
		l.Operator = raw.Operator
		l.Child = raw.Condition
		l.Children = nil
	default:
		return fmt.Errorf("unknown condition operator %q", raw.Operator)
	}
	return nil
}

// ParseConditions deserializes a persisted condition tree.
func ParseConditions(data []byte) (*ConditionGroup, error) {
	var group ConditionGroup
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("parse rule conditions: %w", err)
	}
	return &group, nil
}

func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// matchesIPPattern matches an IPv4 address against an exact address or a
// CIDR pattern like 192.168.1.0/24.
func matchesIPPattern(ip, pattern string) bool {
	if pattern == ip {
		return true
	}
	if strings.Contains(pattern, "/") {
		return matchesCIDR(ip, pattern)
	}
	return false
}

// matchesCIDR compares whole octets up to the prefix boundary and masks
// the partial octet when the prefix is not a multiple of eight.
// Unparseable inputs evaluate to false.
func matchesCIDR(ip, cidr string) bool {
	network, prefixStr, ok := strings.Cut(cidr, "/")
	if !ok {
		return false
	}

	prefix, err := strconv.Atoi(prefixStr)
	if err != nil || prefix < 0 || prefix > 32 {
		return false
	}

	ipOctets := strings.Split(ip, ".")
	netOctets := strings.Split(network, ".")
	if len(ipOctets) != 4 || len(netOctets) != 4 {
		return false
	}

	fullOctets := prefix / 8
	remainingBits := prefix % 8

	for i := 0; i < fullOctets; i++ {
		if ipOctets[i] != netOctets[i] {
			return false
		}
	}

	if fullOctets < 4 && remainingBits > 0 {
		ipOctet, err := strconv.ParseUint(ipOctets[fullOctets], 10, 8)
		if err != nil {
			return false
		}
		netOctet, err := strconv.ParseUint(netOctets[fullOctets], 10, 8)
		if err != nil {
			return false
		}

		mask := ^byte(0xFF >> remainingBits)
		return byte(ipOctet)&mask == byte(netOctet)&mask
	}

	return true
}

// matchesMACPattern compares colon-delimited MAC addresses
// case-insensitively, where a "*" pattern group matches any single
// group. Mismatched group counts never match.
func matchesMACPattern(mac, pattern string) bool {
	macUpper := strings.ToUpper(mac)
	patternUpper := strings.ToUpper(pattern)

	if !strings.Contains(patternUpper, "*") {
		return macUpper == patternUpper
	}

	macParts := strings.Split(macUpper, ":")
	patternParts := strings.Split(patternUpper, ":")
	if len(macParts) != len(patternParts) {
		return false
	}

	for i, p := range patternParts {
		if p != "*" && p != macParts[i] {
			return false
		}
	}
	return true
}
