/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package crpt

import (
	"fmt"
	"net/url"

	"github.com/acronis/go-crptclient/config"
	"github.com/acronis/go-crptclient/httpclient"
	"github.com/acronis/go-crptclient/internal/libinfo"
	"github.com/acronis/go-crptclient/ratelimit"
)

// DefaultURL is the document creation endpoint of the remote API.
const DefaultURL = "https://ismp.crpt.ru/api/v3/lk/documents/create"

// DefaultUserAgent is sent in User-Agent header when no one is configured.
var DefaultUserAgent = libinfo.UserAgent()

const (
	cfgKeyURL       = "url"
	cfgKeyUserAgent = "userAgent"

	cfgKeyPrefixRateLimit = "rateLimit"
	cfgKeyPrefixTransport = "transport"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// Config represents configuration options for Client.
type Config struct {
	// URL is the document creation endpoint.
	URL string `mapstructure:"url" yaml:"url" json:"url"`

	// UserAgent is sent in User-Agent header.
	UserAgent string `mapstructure:"userAgent" yaml:"userAgent" json:"userAgent"`

	// RateLimit configures the throttle shared by all submissions of the client.
	RateLimit *ratelimit.Config `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`

	// Transport configures the HTTP client.
	Transport *httpclient.Config `mapstructure:"transport" yaml:"transport" json:"transport"`

	keyPrefix string
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix("")
}

// NewConfigWithKeyPrefix creates a new instance of the Config.
// Allows specifying key prefix which will be used for parsing configuration parameters.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{
		RateLimit: ratelimit.NewConfig(),
		Transport: httpclient.NewConfig(),
		keyPrefix: keyPrefix,
	}
}

// NewDefaultConfig creates a Config with default URL and transport and the given throttle.
func NewDefaultConfig(period ratelimit.Period, capacity int) *Config {
	return &Config{
		URL:       DefaultURL,
		UserAgent: DefaultUserAgent,
		RateLimit: &ratelimit.Config{Period: period, Capacity: capacity},
		Transport: httpclient.NewDefaultConfig(),
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults is part of config interface implementation.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyURL, DefaultURL)
	dp.SetDefault(cfgKeyUserAgent, DefaultUserAgent)
	c.rateLimit().SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, cfgKeyPrefixRateLimit))
	c.transport().SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, cfgKeyPrefixTransport))
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.URL, err = dp.GetString(cfgKeyURL); err != nil {
		return err
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return dp.WrapKeyErr(cfgKeyURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return dp.WrapKeyErr(cfgKeyURL, fmt.Errorf("absolute http(s) URL is required, got %q", c.URL))
	}

	if c.UserAgent, err = dp.GetString(cfgKeyUserAgent); err != nil {
		return err
	}

	if err = c.rateLimit().Set(config.NewKeyPrefixedDataProvider(dp, cfgKeyPrefixRateLimit)); err != nil {
		return err
	}
	return c.transport().Set(config.NewKeyPrefixedDataProvider(dp, cfgKeyPrefixTransport))
}

func (c *Config) rateLimit() *ratelimit.Config {
	if c.RateLimit == nil {
		c.RateLimit = ratelimit.NewConfig()
	}
	return c.RateLimit
}

func (c *Config) transport() *httpclient.Config {
	if c.Transport == nil {
		c.Transport = httpclient.NewConfig()
	}
	return c.Transport
}
