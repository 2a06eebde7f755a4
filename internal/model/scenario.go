package model

type ScenarioMode string

const (
	ScenarioModeText  ScenarioMode = "text"
	ScenarioModeVoice ScenarioMode = "voice"
)

// Scenario is read-only for this service; it is authored elsewhere.
// swagger:model Scenario
type Scenario struct {
	UUIDBase
	Title       string       `gorm:"size:200;not null" json:"title"`
	Prompt      string       `gorm:"type:text;not null" json:"prompt"`
	Mode        ScenarioMode `gorm:"size:10;default:'text'" json:"mode"`
	AccountID   string       `gorm:"size:36;index" json:"accountId"`
	OpeningLine string       `gorm:"type:text" json:"openingLine,omitempty"`
}

func (Scenario) TableName() string {
	return "scenarios"
}
