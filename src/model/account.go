package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a trading identity on one exchange. Credentials live in the
// secret store under CredentialRef; the account row never holds them.
type Account struct {
	ID            string    `gorm:"size:64;primaryKey" json:"id"`
	ExchangeID    string    `gorm:"size:40;index;not null" json:"exchange_id"`
	Address       string    `gorm:"size:255" json:"address"`
	CredentialRef string    `gorm:"size:255" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Trade value presets selectable for quick trades.
const (
	TradePresetLowest = "lowest"
	TradePresetLow    = "low"
	TradePresetMedium = "medium"
	TradePresetHigh   = "high"
)

// TradeConfig holds per-account order defaults.
type TradeConfig struct {
	AccountID        string          `gorm:"size:64;primaryKey" json:"account_id"`
	Leverage         decimal.Decimal `gorm:"type:numeric" json:"leverage"`
	TakeProfitPct    decimal.Decimal `gorm:"type:numeric" json:"take_profit_pct"`
	StopLossPct      decimal.Decimal `gorm:"type:numeric" json:"stop_loss_pct"`
	TrailingStopPct  decimal.Decimal `gorm:"type:numeric" json:"trailing_stop_pct"`
	TradeValueLowest decimal.Decimal `gorm:"type:numeric" json:"trade_value_lowest"`
	TradeValueLow    decimal.Decimal `gorm:"type:numeric" json:"trade_value_low"`
	TradeValueMedium decimal.Decimal `gorm:"type:numeric" json:"trade_value_medium"`
	TradeValueHigh   decimal.Decimal `gorm:"type:numeric" json:"trade_value_high"`

	// Session size multipliers used by the auto-trigger.
	WeekendHolidayMultiplier decimal.Decimal `gorm:"type:numeric" json:"weekend_holiday_multiplier"`
	DeadZoneMultiplier       decimal.Decimal `gorm:"type:numeric" json:"dead_zone_multiplier"`
	AsiaMultiplier           decimal.Decimal `gorm:"type:numeric" json:"asia_multiplier"`
	LondonMultiplier         decimal.Decimal `gorm:"type:numeric" json:"london_multiplier"`
	USMultiplier             decimal.Decimal `gorm:"type:numeric" json:"us_multiplier"`
	DefaultMultiplier        decimal.Decimal `gorm:"type:numeric" json:"default_multiplier"`
	EnableNoTradeWindow      bool            `json:"enable_no_trade_window"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (TradeConfig) TableName() string {
	return "trade_configs"
}

func DefaultTradeConfig(accountID string) TradeConfig {
	return TradeConfig{
		AccountID:                accountID,
		Leverage:                 decimal.NewFromInt(10),
		TakeProfitPct:            decimal.Zero,
		StopLossPct:              decimal.Zero,
		TrailingStopPct:          decimal.Zero,
		TradeValueLowest:         decimal.NewFromInt(100),
		TradeValueLow:            decimal.NewFromInt(250),
		TradeValueMedium:         decimal.NewFromInt(500),
		TradeValueHigh:           decimal.NewFromInt(1000),
		WeekendHolidayMultiplier: decimal.NewFromFloat(0.15),
		DeadZoneMultiplier:       decimal.NewFromFloat(0.15),
		AsiaMultiplier:           decimal.NewFromFloat(0.75),
		LondonMultiplier:         decimal.NewFromInt(1),
		USMultiplier:             decimal.NewFromFloat(1.25),
		DefaultMultiplier:        decimal.NewFromFloat(0.15),
	}
}

// TradeValue returns the preset notional for name, falling back to the lowest preset.
func (c TradeConfig) TradeValue(preset string) decimal.Decimal {
	switch preset {
	case TradePresetLow:
		return c.TradeValueLow
	case TradePresetMedium:
		return c.TradeValueMedium
	case TradePresetHigh:
		return c.TradeValueHigh
	default:
		return c.TradeValueLowest
	}
}

// EncryptedSecret is one sealed credential in the secret store table.
type EncryptedSecret struct {
	Ref        string    `gorm:"size:255;primaryKey"`
	Nonce      []byte    `gorm:"not null"`
	Ciphertext []byte    `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (EncryptedSecret) TableName() string {
	return "encrypted_secrets"
}
