package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AwardKind discriminates the tier an award targets.
type AwardKind string

const (
	AwardMiniBadge AwardKind = "MINI_BADGE"
	AwardSkill     AwardKind = "SKILL"
	AwardProgram   AwardKind = "PROGRAM"
)

// AwardTarget names exactly one badge at exactly one tier. Constructed only
// through the tier helpers so a target can never reference zero or several
// badges at once.
type AwardTarget struct {
	Kind AwardKind `json:"kind"`
	ID   string    `json:"id"`
}

// MiniBadgeTarget references a mini-badge.
func MiniBadgeTarget(id string) AwardTarget {
	return AwardTarget{Kind: AwardMiniBadge, ID: id}
}

// SkillTarget references a skill.
func SkillTarget(id string) AwardTarget {
	return AwardTarget{Kind: AwardSkill, ID: id}
}

// ProgramTarget references a program.
func ProgramTarget(id string) AwardTarget {
	return AwardTarget{Kind: AwardProgram, ID: id}
}

// Valid reports whether the target carries a known kind and a badge id.
func (t AwardTarget) Valid() bool {
	switch t.Kind {
	case AwardMiniBadge, AwardSkill, AwardProgram:
		return t.ID != ""
	}
	return false
}

// Actor distinguishes the progression engine from a human grantor. The zero
// value is the system actor, so automatic awards are an explicit variant
// rather than a missing reference.
type Actor struct {
	userID string
}

// SystemActor is the progression engine acting on its own behalf.
func SystemActor() Actor {
	return Actor{}
}

// PersonActor identifies a human actor by user id.
func PersonActor(userID string) Actor {
	return Actor{userID: userID}
}

// IsSystem reports whether the actor is the engine itself.
func (a Actor) IsSystem() bool {
	return a.userID == ""
}

// UserID returns the person's id, or ok=false for the system actor.
func (a Actor) UserID() (string, bool) {
	if a.userID == "" {
		return "", false
	}
	return a.userID, true
}

// MarshalJSON renders the actor as either "system" or the person's id.
func (a Actor) MarshalJSON() ([]byte, error) {
	if a.IsSystem() {
		return json.Marshal(map[string]string{"kind": "system"})
	}
	return json.Marshal(map[string]string{"kind": "person", "user_id": a.userID})
}

// String implements fmt.Stringer for log output.
func (a Actor) String() string {
	if a.IsSystem() {
		return "system"
	}
	return fmt.Sprintf("person:%s", a.userID)
}

// Award is an earned-badge fact. Awards are immutable once created; the store
// only ever inserts them, and at most one exists per (user, target).
type Award struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Target    AwardTarget `json:"target"`
	RequestID *string     `json:"request_id,omitempty"`
	Actor     Actor       `json:"actor"`
	AwardedAt time.Time   `json:"awarded_at"`
	Note      *string     `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Automatic reports whether the award was produced by the progression engine.
func (a *Award) Automatic() bool {
	return a.Actor.IsSystem()
}
