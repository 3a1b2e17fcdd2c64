package dto

import "time"

// MiniBadgeProgress is one mini-badge row in a skill progress view.
type MiniBadgeProgress struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Earned      bool    `json:"earned"`
}

// SkillProgress summarises a user's standing within one skill.
type SkillProgress struct {
	SkillID     string              `json:"skill_id"`
	SkillTitle  string              `json:"skill_title"`
	EarnedCount int                 `json:"earned_count"`
	TotalCount  int                 `json:"total_count"`
	Percentage  int                 `json:"percentage"`
	Complete    bool                `json:"complete"`
	MiniBadges  []MiniBadgeProgress `json:"mini_badges"`
}

// SkillSummary is one skill row in a program progress view.
type SkillSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Earned bool   `json:"earned"`
}

// ProgramProgress summarises a user's standing within one program.
type ProgramProgress struct {
	ProgramID      string         `json:"program_id"`
	ProgramTitle   string         `json:"program_title"`
	EarnedSkills   int            `json:"earned_skills"`
	TotalSkills    int            `json:"total_skills"`
	Percentage     int            `json:"percentage"`
	HasCapstone    bool           `json:"has_capstone"`
	CapstoneEarned bool           `json:"capstone_earned"`
	Complete       bool           `json:"complete"`
	Skills         []SkillSummary `json:"skills"`
}

// ProgressSummary aggregates a user's earned awards by tier.
type ProgressSummary struct {
	TotalEarned    int       `json:"total_earned"`
	MiniBadgeCount int       `json:"mini_badge_count"`
	SkillCount     int       `json:"skill_count"`
	ProgramCount   int       `json:"program_count"`
	GeneratedAt    time.Time `json:"generated_at"`
}
