/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ByteSize represents a size in bytes that can be parsed from JSON and YAML.
// Both integers and human-readable strings (e.g. "250MB", "1Gi") are accepted.
type ByteSize uint64

// ParseByteSize converts a raw configuration value (string or number) to ByteSize.
func ParseByteSize(val interface{}) (ByteSize, error) {
	switch v := val.(type) {
	case ByteSize:
		return v, nil
	case string:
		return parseByteSizeFromString(v)
	case int, int8, int16, int32, int64:
		num := cast.ToInt64(v)
		if num < 0 {
			return 0, fmt.Errorf("negative value is not allowed: %d", num)
		}
		return ByteSize(num), nil
	case uint, uint8, uint16, uint32, uint64:
		return ByteSize(cast.ToUint64(v)), nil
	case float32, float64:
		num := cast.ToFloat64(v)
		if num < 0 {
			return 0, fmt.Errorf("negative value is not allowed: %v", num)
		}
		return ByteSize(uint64(num)), nil
	}
	return 0, fmt.Errorf("unsupported type for byte size: %T", val)
}

// UnmarshalJSON allows decoding from both integers and human-readable strings.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	bs, err := ParseByteSize(raw)
	if err != nil {
		return err
	}
	*b = bs
	return nil
}

// UnmarshalYAML allows decoding from both integers and human-readable strings.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var num uint64
	if err := value.Decode(&num); err == nil {
		*b = ByteSize(num)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("byte size should be a number or a string: %w", err)
	}
	bs, err := parseByteSizeFromString(s)
	if err != nil {
		return err
	}
	*b = bs
	return nil
}

// String returns a human-readable representation (e.g. "250M").
func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

func parseByteSizeFromString(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if num, err := strconv.ParseUint(s, 10, 64); err == nil {
		return ByteSize(num), nil
	}
	// k8s power-of-two suffixes ("Ki", "Mi", ...) mean the same as bytefmt ones.
	for _, suffix := range [...]string{"Ki", "Mi", "Gi", "Ti", "Pi", "Ei"} {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-1]
			break
		}
	}
	num, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(num), nil
}
