// internal/storage/models/execution.go
package models

import "time"

// Execution is one terminal transaction record persisted for accounting.
// Written exactly once, after the monitor reaches a terminal state.
type Execution struct {
	BaseModel
	Signature     string `gorm:"unique;not null;type:varchar(88)"`
	WalletRef     string `gorm:"index;not null;type:varchar(100)"`
	WalletAddress string `gorm:"index;type:varchar(44)"`
	Network       string `gorm:"not null;type:varchar(20)"`
	TokenID       string `gorm:"index;not null;type:varchar(44)"`
	Variant       string `gorm:"type:varchar(10)"`
	AmountIn      uint64 `gorm:"not null"`
	ExpectedOut   uint64
	MinOut        uint64
	Status        string `gorm:"not null;type:varchar(20)"`
	FailureReason string `gorm:"type:text"`
	Slot          uint64
	FeePaid       uint64
	ComputeUnits  uint64
	SubmittedAt   time.Time  `gorm:"index;not null"`
	TerminalAt    *time.Time `gorm:"index"`
}
