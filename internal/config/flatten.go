package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/user/imagereader/pkg/llm/backend"
)

var (
	ErrUnknownKey   = errors.New("unknown config key")
	ErrInvalidValue = errors.New("invalid config value")
)

// field describes one dot-separated key of Config.
type field struct {
	kind   reflect.Kind
	secret bool
}

// fields is derived from the json tags of Config. A `config:"secret"` tag
// marks values that are masked when listed.
var fields = func() map[string]field {
	out := make(map[string]field)
	walk(reflect.ValueOf(Config{}), "", func(key string, sf reflect.StructField, _ reflect.Value) {
		out[key] = field{kind: sf.Type.Kind(), secret: sf.Tag.Get("config") == "secret"}
	})
	return out
}()

// walk visits every leaf field of the struct v under its dot key.
func walk(v reflect.Value, prefix string, fn func(key string, sf reflect.StructField, fv reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if sf.Type.Kind() == reflect.Struct {
			walk(v.Field(i), key, fn)
			continue
		}
		fn(key, sf, v.Field(i))
	}
}

// checks holds the range and enum constraints of individual keys. Values
// arrive already converted to the field's Go type.
var checks = map[string]func(v any) error{
	"log_level": oneOf("debug", "info", "warn", "error"),
	"max_concurrent": func(v any) error {
		return atLeast(v.(int), 1)
	},
	"role.alias": func(v any) error {
		if strings.TrimSpace(v.(string)) == "" {
			return errors.New("must not be empty")
		}
		return nil
	},
	"role.max_query_tokens": func(v any) error {
		return atLeast(v.(int), 0)
	},
	"llm.provider": oneOf(backend.Names...),
	"llm.max_tokens": func(v any) error {
		return atLeast(v.(int), 1)
	},
	"llm.temperature": func(v any) error {
		if t := v.(float32); t < 0 || t > 2 {
			return fmt.Errorf("%v is outside [0, 2]", t)
		}
		return nil
	},
	"llm.timeout_seconds": func(v any) error {
		return atLeast(v.(int), 1)
	},
	"retry.max_attempts": func(v any) error {
		return atLeast(v.(int), 1)
	},
	"retry.initial_delay_ms": func(v any) error {
		return atLeast(v.(int), 0)
	},
	"http.listen": func(v any) error {
		_, _, err := net.SplitHostPort(v.(string))
		return err
	},
}

func oneOf(allowed ...string) func(v any) error {
	return func(v any) error {
		if !slices.Contains(allowed, v.(string)) {
			return fmt.Errorf("%q is not one of %s", v, strings.Join(allowed, ", "))
		}
		return nil
	}
}

func atLeast(n, min int) error {
	if n < min {
		return fmt.Errorf("%d is below %d", n, min)
	}
	return nil
}

// Keys returns every config key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return fields[key].secret
}

// ParseValue converts raw to the type stored under key and checks it.
func ParseValue(key, raw string) (any, error) {
	f, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	var v any
	switch f.kind {
	case reflect.String:
		v = raw
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s wants a boolean, got %q", ErrInvalidValue, key, raw)
		}
		v = b
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s wants an integer, got %q", ErrInvalidValue, key, raw)
		}
		v = n
	case reflect.Float32:
		x, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s wants a number, got %q", ErrInvalidValue, key, raw)
		}
		v = float32(x)
	default:
		return nil, fmt.Errorf("%w: %s has unsupported type %s", ErrInvalidValue, key, f.kind)
	}
	if err := check(key, v); err != nil {
		return nil, err
	}
	return v, nil
}

func check(key string, v any) error {
	c, ok := checks[key]
	if !ok {
		return nil
	}
	if err := c(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	return nil
}

// Validate checks every constrained key of c.
func (c *Config) Validate() error {
	var errs []error
	walk(reflect.ValueOf(c).Elem(), "", func(key string, _ reflect.StructField, fv reflect.Value) {
		if err := check(key, fv.Interface()); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// {"llm": {"provider": "openai"}} becomes {"llm.provider": "openai"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(key, child, out)
			continue
		}
		out[key] = v
	}
}

// Unflatten is the inverse of Flatten.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with credential values reduced to
// "***" plus their last four characters. Empty values stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		s, ok := v.(string)
		if !IsSecretKey(k) || !ok || s == "" {
			continue
		}
		if len(s) > 4 {
			s = s[len(s)-4:]
		}
		out[k] = "***" + s
	}
	return out
}
