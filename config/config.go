/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads configuration of the client components from YAML/JSON files,
// readers and environment variables.
//
// Each component describes its own configuration with a type implementing the Config
// interface: SetProviderDefaults registers default values and Set reads and validates values.
// Loader calls both methods for every passed configuration object.
package config

import "reflect"

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

// DataProviderFor returns dp wrapped with the key prefix of cfg if cfg has a non-empty one.
func DataProviderFor(dp DataProvider, cfg interface{}) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
	}
	return dp
}

// CallSetProviderDefaultsForFields calls SetProviderDefaults for every exported non-nil field
// of the struct pointed by obj that implements Config.
// It allows an application to aggregate configurations of several components in one object.
func CallSetProviderDefaultsForFields(obj interface{}, dp DataProvider) {
	for _, cfg := range configFields(obj) {
		cfg.SetProviderDefaults(DataProviderFor(dp, cfg))
	}
}

// CallSetForFields calls Set for every exported non-nil field
// of the struct pointed by obj that implements Config. The first error is returned.
func CallSetForFields(obj interface{}, dp DataProvider) error {
	for _, cfg := range configFields(obj) {
		if err := cfg.Set(DataProviderFor(dp, cfg)); err != nil {
			return err
		}
	}
	return nil
}

func configFields(obj interface{}) []Config {
	el := reflect.ValueOf(obj).Elem()
	var cfgs []Config
	for i := 0; i < el.NumField(); i++ {
		if !el.Type().Field(i).IsExported() {
			continue
		}
		field := el.Field(i)
		if field.Kind() == reflect.Ptr && field.IsNil() {
			continue
		}
		if cfg, ok := field.Interface().(Config); ok {
			cfgs = append(cfgs, cfg)
		}
	}
	return cfgs
}
