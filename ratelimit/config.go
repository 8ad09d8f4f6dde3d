/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"

	"github.com/acronis/go-crptclient/config"
)

const (
	cfgKeyPeriodUnit  = "period.unit"
	cfgKeyPeriodCount = "period.count"
	cfgKeyCapacity    = "capacity"
)

// Default values for Config.
const (
	DefaultPeriodUnit  = TimeUnitSecond
	DefaultPeriodCount = 1
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// Config represents configuration options for FixedWindowLimiter.
type Config struct {
	// Period is the window after which all permits become available again.
	Period Period `mapstructure:"period" yaml:"period" json:"period"`

	// Capacity is the maximum number of permits granted within a window.
	Capacity int `mapstructure:"capacity" yaml:"capacity" json:"capacity"`

	keyPrefix string
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix("")
}

// NewConfigWithKeyPrefix creates a new instance of the Config.
// Allows specifying key prefix which will be used for parsing configuration parameters.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults is part of config interface implementation.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyPeriodUnit, string(DefaultPeriodUnit))
	dp.SetDefault(cfgKeyPeriodCount, DefaultPeriodCount)
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) error {
	unitStr, err := dp.GetString(cfgKeyPeriodUnit)
	if err != nil {
		return err
	}
	if c.Period.Unit, err = ParseTimeUnit(unitStr); err != nil {
		return dp.WrapKeyErr(cfgKeyPeriodUnit, err)
	}

	if c.Period.Count, err = dp.GetInt(cfgKeyPeriodCount); err != nil {
		return err
	}
	if c.Period.Count <= 0 {
		return dp.WrapKeyErr(cfgKeyPeriodCount, fmt.Errorf("must be positive"))
	}
	if _, err = c.Period.Duration(); err != nil {
		return dp.WrapKeyErr(cfgKeyPeriodCount, err)
	}

	if c.Capacity, err = dp.GetInt(cfgKeyCapacity); err != nil {
		return err
	}
	if c.Capacity <= 0 {
		return dp.WrapKeyErr(cfgKeyCapacity, fmt.Errorf("must be positive"))
	}

	return nil
}

// NewLimiter creates and starts a FixedWindowLimiter described by the configuration.
func (c *Config) NewLimiter(opts FixedWindowLimiterOpts) (*FixedWindowLimiter, error) {
	return NewFixedWindowLimiterWithOpts(c.Period, c.Capacity, opts)
}
