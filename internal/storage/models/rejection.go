// internal/storage/models/rejection.go
package models

// Rejection is one validation refusal, kept so safety-limit tuning can
// be grounded in what actually got rejected.
type Rejection struct {
	BaseModel
	TokenID    string `gorm:"index;not null;type:varchar(44)"`
	Network    string `gorm:"not null;type:varchar(20)"`
	WalletRef  string `gorm:"type:varchar(100)"`
	AmountIn   uint64 `gorm:"not null"`
	Code       string `gorm:"index;not null;type:varchar(40)"`
	Detail     string `gorm:"type:text"`
	FetchAgeMs int64
}
