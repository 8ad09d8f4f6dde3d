/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger_DefaultMaskingRulesDontModifyConfig(t *testing.T) {
	custom := MaskingRuleConfig{
		Field:   "owner_inn",
		Formats: []FieldMaskFormat{FieldMaskFormatJSON},
	}
	rules := make([]MaskingRuleConfig, 1, 8)
	rules[0] = custom

	cfg := NewDefaultConfig()
	cfg.Masking.Enabled = true
	cfg.Masking.UseDefaultRules = true
	cfg.Masking.Rules = rules

	logger, closeFn := NewLogger(cfg)
	defer closeFn()
	require.IsType(t, MaskingLogger{}, logger)

	require.Equal(t, []MaskingRuleConfig{custom}, cfg.Masking.Rules)
	require.Equal(t, MaskingRuleConfig{}, rules[:2][1], "spare capacity of the configured rules must stay untouched")
}
