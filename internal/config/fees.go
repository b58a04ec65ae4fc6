package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// FeeSchedule carries the platform fee defaults applied when an event owner
// has no subscription tier.
type FeeSchedule struct {
	DefaultPercentage string `mapstructure:"defaultPercentage"`
	MaxPercentage     string `mapstructure:"maxPercentage"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		DefaultPercentage: "5",
		MaxPercentage:     "20",
	}
}

// DefaultRate returns the default fee percentage. Callers only see validated
// schedules, so the parse cannot fail here.
func (f FeeSchedule) DefaultRate() decimal.Decimal {
	return decimal.RequireFromString(f.DefaultPercentage)
}

func (f FeeSchedule) MaxRate() decimal.Decimal {
	return decimal.RequireFromString(f.MaxPercentage)
}

type FeeScheduleHolder struct {
	current atomic.Value // holds FeeSchedule
}

// NewStaticFeeScheduleHolder returns a holder that never reloads.
func NewStaticFeeScheduleHolder(schedule FeeSchedule) (*FeeScheduleHolder, error) {
	if err := validateFeeSchedule(schedule); err != nil {
		return nil, err
	}
	holder := &FeeScheduleHolder{}
	holder.current.Store(schedule)
	return holder, nil
}

func NewFeeScheduleHolder() (*FeeScheduleHolder, error) {
	v := viper.New()

	v.SetConfigName("fees")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/savethedate/config")
	v.AddConfigPath("/etc/savethedate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SAVETHEDATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultFeeSchedule()
	v.SetDefault("fees.defaultPercentage", defaults.DefaultPercentage)
	v.SetDefault("fees.maxPercentage", defaults.MaxPercentage)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var schedule FeeSchedule
	if err := v.UnmarshalKey("fees", &schedule); err != nil {
		return nil, err
	}
	if err := validateFeeSchedule(schedule); err != nil {
		return nil, err
	}

	holder := &FeeScheduleHolder{}
	holder.current.Store(schedule)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FeeSchedule
		if err := v.UnmarshalKey("fees", &updated); err != nil {
			log.Printf("[fee-schedule] reload failed: %v", err)
			return
		}
		if err := validateFeeSchedule(updated); err != nil {
			log.Printf("[fee-schedule] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[fee-schedule] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *FeeScheduleHolder) Get() FeeSchedule {
	if h == nil {
		return DefaultFeeSchedule()
	}
	return h.current.Load().(FeeSchedule)
}

func validateFeeSchedule(schedule FeeSchedule) error {
	def, err := decimal.NewFromString(strings.TrimSpace(schedule.DefaultPercentage))
	if err != nil {
		return fmt.Errorf("fees.defaultPercentage: %w", err)
	}
	max, err := decimal.NewFromString(strings.TrimSpace(schedule.MaxPercentage))
	if err != nil {
		return fmt.Errorf("fees.maxPercentage: %w", err)
	}
	if def.IsNegative() || max.IsNegative() {
		return errors.New("fee percentages cannot be negative")
	}
	if max.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("fees.maxPercentage cannot exceed 100")
	}
	if def.GreaterThan(max) {
		return errors.New("fees.defaultPercentage cannot exceed fees.maxPercentage")
	}
	return nil
}
