// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

// Package sync keeps the in-memory permission mirror and connected
// player sessions consistent with the permission database. Change
// notifications arrive over PostgreSQL LISTEN/NOTIFY and trigger
// scoped re-resolution of affected players.
package sync

import (
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Action identifies what changed in the permission database.
type Action string

// The full set of actions a notification can carry. Player actions name
// a single player; group actions name a group and cascade to every
// member of that group and its descendants.
const (
	ActionPlayerCreate      Action = "player_create"
	ActionPlayerSet         Action = "player_set"
	ActionPlayerUnset       Action = "player_unset"
	ActionPlayerSetGroup    Action = "player_set_group"
	ActionPlayerAddGroup    Action = "player_add_group"
	ActionPlayerRemoveGroup Action = "player_remove_group"
	ActionPlayerDelete      Action = "player_delete"
	ActionGroupCreate       Action = "group_create"
	ActionGroupSet          Action = "group_set"
	ActionGroupUnset        Action = "group_unset"
	ActionGroupDelete       Action = "group_delete"
	// ActionGroupDeleteMembers signals a bulk removal of a group's
	// memberships without touching the group itself.
	ActionGroupDeleteMembers Action = "group_delete_members"
)

// knownActions is the closed set of actions this version understands.
var knownActions = map[Action]struct{}{
	ActionPlayerCreate:       {},
	ActionPlayerSet:          {},
	ActionPlayerUnset:        {},
	ActionPlayerSetGroup:     {},
	ActionPlayerAddGroup:     {},
	ActionPlayerRemoveGroup:  {},
	ActionPlayerDelete:       {},
	ActionGroupCreate:        {},
	ActionGroupSet:           {},
	ActionGroupUnset:         {},
	ActionGroupDelete:        {},
	ActionGroupDeleteMembers: {},
}

// PlayerScoped reports whether the action targets a single player.
func (a Action) PlayerScoped() bool {
	switch a {
	case ActionPlayerCreate, ActionPlayerSet, ActionPlayerUnset,
		ActionPlayerSetGroup, ActionPlayerAddGroup, ActionPlayerRemoveGroup,
		ActionPlayerDelete:
		return true
	}
	return false
}

// Notification is one change event published by the writer that
// mutated the permission database.
type Notification struct {
	ID     ulid.ULID `json:"id"`
	Action Action    `json:"action"`
	Player ulid.ULID `json:"player,omitzero"`
	Group  string    `json:"group,omitempty"`
	Node   string    `json:"node,omitempty"`
	Value  bool      `json:"value,omitempty"`
}

// wireNotification is the decoded JSON shape before validation. ULIDs
// travel as strings.
type wireNotification struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Player string `json:"player"`
	Group  string `json:"group"`
	Node   string `json:"node"`
	Value  bool   `json:"value"`
}

// DecodeNotification parses a NOTIFY payload. Unrecognized actions are
// rejected with UNRECOGNIZED_ACTION so the caller can log and drop
// them without touching any player.
func DecodeNotification(payload string) (Notification, error) {
	var wire wireNotification
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Notification{}, oops.In("sync").Code("MALFORMED_NOTIFICATION").
			With("payload", payload).Wrap(err)
	}

	action := Action(wire.Action)
	if _, ok := knownActions[action]; !ok {
		return Notification{}, oops.In("sync").Code("UNRECOGNIZED_ACTION").
			With("action", wire.Action).
			Errorf("unrecognized notification action %q", wire.Action)
	}

	n := Notification{
		Action: action,
		Group:  wire.Group,
		Node:   wire.Node,
		Value:  wire.Value,
	}

	if wire.ID != "" {
		id, err := ulid.Parse(wire.ID)
		if err != nil {
			return Notification{}, oops.In("sync").Code("MALFORMED_NOTIFICATION").
				With("id", wire.ID).Wrap(err)
		}
		n.ID = id
	}

	if action.PlayerScoped() {
		player, err := ulid.Parse(wire.Player)
		if err != nil {
			return Notification{}, oops.In("sync").Code("MALFORMED_NOTIFICATION").
				With("action", wire.Action).With("player", wire.Player).Wrap(err)
		}
		n.Player = player
	} else if n.Group == "" {
		return Notification{}, oops.In("sync").Code("MALFORMED_NOTIFICATION").
			With("action", wire.Action).
			Errorf("group-scoped action %q requires a group name", wire.Action)
	}

	return n, nil
}

// IsUnrecognizedAction returns true if the error is an
// UNRECOGNIZED_ACTION decode failure.
func IsUnrecognizedAction(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "UNRECOGNIZED_ACTION"
}
