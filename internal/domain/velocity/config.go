package velocity

import (
	"time"

	"github.com/okian/txguard/internal/domain/model"
)

// TenureClass buckets accounts by age.
type TenureClass string

// Tenure classes.
const (
	TenureNew         TenureClass = "new"
	TenureRecent      TenureClass = "recent"
	TenureEstablished TenureClass = "established"
)

// Limits are token caps for one tenure class.
type Limits struct {
	Hourly int64 `koanf:"hourly" yaml:"hourly"`
	Daily  int64 `koanf:"daily" yaml:"daily"`
}

// SpendFamily groups action types that share a spend budget.
type SpendFamily struct {
	Name       string                 `koanf:"name" yaml:"name"`
	Categories []model.ActionType     `koanf:"categories" yaml:"categories"`
	Limits     map[TenureClass]Limits `koanf:"limits" yaml:"limits"`
}

// Config is the velocity threshold table.
type Config struct {
	// NewAccountAge and RecentAccountAge are the tenure boundaries.
	NewAccountAge    time.Duration              `koanf:"new_account_age" yaml:"new_account_age"`
	RecentAccountAge time.Duration              `koanf:"recent_account_age" yaml:"recent_account_age"`
	Families         []SpendFamily              `koanf:"families" yaml:"families"`
	ActionCaps       map[model.ActionType]int64 `koanf:"action_caps" yaml:"action_caps"`
}

// DefaultConfig is the canonical velocity table. Tip is capped at 50 per hour.
func DefaultConfig() Config {
	return Config{
		NewAccountAge:    24 * time.Hour,
		RecentAccountAge: 7 * 24 * time.Hour,
		Families: []SpendFamily{
			{
				Name:       "token_spend",
				Categories: []model.ActionType{model.ActionTip, model.ActionGift, model.ActionCall},
				Limits: map[TenureClass]Limits{
					TenureNew:         {Hourly: 1000, Daily: 5000},
					TenureRecent:      {Hourly: 5000, Daily: 25000},
					TenureEstablished: {Hourly: 20000, Daily: 100000},
				},
			},
			{
				Name:       "purchase",
				Categories: []model.ActionType{model.ActionPurchase},
				Limits: map[TenureClass]Limits{
					TenureNew:         {Hourly: 50000, Daily: 100000},
					TenureRecent:      {Hourly: 100000, Daily: 250000},
					TenureEstablished: {Hourly: 200000, Daily: 1000000},
				},
			},
		},
		ActionCaps: map[model.ActionType]int64{
			model.ActionPurchase: 10,
			model.ActionTip:      50,
			model.ActionGift:     30,
			model.ActionCall:     20,
		},
	}
}

// Tenure classifies age. Negative ages count as new.
func (c Config) Tenure(age time.Duration) TenureClass {
	switch {
	case age < c.NewAccountAge:
		return TenureNew
	case age < c.RecentAccountAge:
		return TenureRecent
	default:
		return TenureEstablished
	}
}

// FamilyFor returns the spend family that contains action.
func (c Config) FamilyFor(action model.ActionType) (SpendFamily, bool) {
	for _, f := range c.Families {
		for _, cat := range f.Categories {
			if cat == action {
				return f, true
			}
		}
	}
	return SpendFamily{}, false
}

// Validate checks the table for obvious mistakes.
func (c Config) Validate() error {
	if c.NewAccountAge <= 0 || c.RecentAccountAge < c.NewAccountAge {
		return ErrInvalidConfig
	}
	seen := map[model.ActionType]bool{}
	for _, f := range c.Families {
		for _, cat := range f.Categories {
			if seen[cat] {
				return ErrInvalidConfig
			}
			seen[cat] = true
		}
		for _, l := range f.Limits {
			if l.Hourly < 0 || l.Daily < 0 {
				return ErrInvalidConfig
			}
		}
	}
	return nil
}
