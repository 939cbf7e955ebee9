package config

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Size is a byte count written either as a number or as a string with a
// binary unit suffix ("20KB", "1MB", "512", "0x400").
type Size uint64

var sizeUnits = []struct {
	suffix string
	mult   uint64
}{
	{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
	{"KB", 1 << 10}, {"MB", 1 << 20}, {"GB", 1 << 30},
	{"K", 1 << 10}, {"M", 1 << 20}, {"G", 1 << 30},
	{"B", 1},
}

// ParseSize parses a size string.
func ParseSize(s string) (Size, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return 0, errors.NotValidf("empty size")
	}
	mult := uint64(1)
	if !strings.HasPrefix(t, "0X") {
		for _, u := range sizeUnits {
			if strings.HasSuffix(t, u.suffix) {
				t = strings.TrimSpace(strings.TrimSuffix(t, u.suffix))
				mult = u.mult
				break
			}
		}
	}
	n, err := strconv.ParseUint(strings.ToLower(t), 0, 64)
	if err != nil {
		return 0, errors.NotValidf("size %q", s)
	}
	return Size(n * mult), nil
}

// UnmarshalYAML accepts both integers and size strings.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n uint64
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return errors.Trace(err)
	}
	v, err := ParseSize(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s Size) String() string {
	switch {
	case s != 0 && s%(1<<20) == 0:
		return strconv.FormatUint(uint64(s>>20), 10) + "MB"
	case s != 0 && s%(1<<10) == 0:
		return strconv.FormatUint(uint64(s>>10), 10) + "KB"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalYAML writes the size in its short form.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
