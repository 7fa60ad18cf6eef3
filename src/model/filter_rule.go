package model

import "time"

const (
	FilterKindKeyword   = "keyword"
	FilterKindDataField = "data_field"
)

const (
	ActionIgnore = "ignore"
	ActionSound  = "sound"
	ActionCoin   = "coin"
)

// FilterRule is a user or internally generated rule evaluated against every news event.
// Rules are evaluated in ascending Position order.
type FilterRule struct {
	ID            uint      `gorm:"primaryKey" json:"id" yaml:"-"`
	Kind          string    `gorm:"size:20;not null" json:"kind" yaml:"kind"`
	Pattern       string    `gorm:"size:255;not null" json:"pattern" yaml:"pattern"`
	TargetField   string    `gorm:"size:50" json:"target_field,omitempty" yaml:"target_field,omitempty"`
	Action        string    `gorm:"size:20;not null" json:"action" yaml:"action"`
	SoundID       string    `gorm:"size:100" json:"sound_id,omitempty" yaml:"sound_id,omitempty"`
	Symbol        string    `gorm:"size:40" json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Position      int       `gorm:"index" json:"position" yaml:"position"`
	CaseSensitive bool      `json:"case_sensitive" yaml:"case_sensitive"`
	Regex         bool      `json:"regex" yaml:"regex"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"-"`
}

func (FilterRule) TableName() string {
	return "filter_rules"
}

// Action is the outcome of a matched filter rule. Applying it (playing a sound,
// tagging the display) is the caller's job.
type Action struct {
	Type    string `json:"type"`
	SoundID string `json:"sound_id,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	RuleID  uint   `json:"rule_id,omitempty"`
}

func IgnoreAction(ruleID uint) Action {
	return Action{Type: ActionIgnore, RuleID: ruleID}
}

func SoundAction(soundID string, ruleID uint) Action {
	return Action{Type: ActionSound, SoundID: soundID, RuleID: ruleID}
}

func CoinAction(symbol string, ruleID uint) Action {
	return Action{Type: ActionCoin, Symbol: symbol, RuleID: ruleID}
}
