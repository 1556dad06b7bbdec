// Package config holds the flat key-value parameters of a simulation.
//
// Parameters come from dotenv-style files and from key=value pairs given on
// the command line. Keys are case-insensitive. Keys can be grouped with a
// dotted prefix, such as dir.sets, and each component takes its group with
// Sub and rejects the keys it does not know with Restrict.
package config

import (
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Params maps lower-case keys to values.
type Params map[string]string

// New creates an empty parameter set.
func New() Params {
	return make(Params)
}

// Load reads the files in order. Later files override earlier ones.
func Load(files ...string) (Params, error) {
	p := New()

	for _, f := range files {
		values, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", f, err)
		}

		for k, v := range values {
			p[normalize(k)] = v
		}
	}

	return p, nil
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Set parses one key=value pair and stores it.
func (p Params) Set(pair string) error {
	key, _, found := strings.Cut(pair, "=")
	if !found || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expecting key=value, got %q", pair)
	}

	values, err := godotenv.Unmarshal(pair)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", pair, err)
	}

	if len(values) != 1 {
		return fmt.Errorf("expecting one key=value pair, got %q", pair)
	}

	for k, v := range values {
		p[normalize(k)] = v
	}

	return nil
}

// SetAll parses several key=value pairs.
func (p Params) SetAll(pairs []string) error {
	for _, pair := range pairs {
		if err := p.Set(pair); err != nil {
			return err
		}
	}

	return nil
}

// Put stores a value directly.
func (p Params) Put(key, value string) {
	p[normalize(key)] = value
}

// Has tells if the key is set.
func (p Params) Has(key string) bool {
	_, ok := p[normalize(key)]
	return ok
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Sub returns the parameters under a prefix, with the prefix removed. For
// prefix "dir", the key dir.sets becomes sets.
func (p Params) Sub(prefix string) Params {
	prefix = normalize(prefix) + "."
	sub := New()

	for k, v := range p {
		if strings.HasPrefix(k, prefix) {
			sub[strings.TrimPrefix(k, prefix)] = v
		}
	}

	return sub
}

// Top returns the parameters that are not under any prefix.
func (p Params) Top() Params {
	top := New()

	for k, v := range p {
		if !strings.Contains(k, ".") {
			top[k] = v
		}
	}

	return top
}

// Restrict returns an error naming every key that is not allowed.
func (p Params) Restrict(allowed ...string) error {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[normalize(a)] = true
	}

	unknown := []string{}

	for _, k := range p.Keys() {
		if !ok[k] {
			unknown = append(unknown, k)
		}
	}

	if len(unknown) > 0 {
		return fmt.Errorf("unknown config keys %s", strings.Join(unknown, ", "))
	}

	return nil
}

// String returns the value of a key or the default.
func (p Params) String(key, def string) string {
	v, ok := p[normalize(key)]
	if !ok {
		return def
	}

	return v
}

// Int returns the value of a key as an int.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[normalize(key)]
	if !ok {
		return def, nil
	}

	i, err := strconv.ParseInt(strings.TrimSpace(v), 0, 0)
	if err != nil {
		return 0, fmt.Errorf("config key %s: %q is not an integer", key, v)
	}

	return int(i), nil
}

// Uint64 returns the value of a key as a uint64. Hexadecimal values with a
// 0x prefix are accepted.
func (p Params) Uint64(key string, def uint64) (uint64, error) {
	v, ok := p[normalize(key)]
	if !ok {
		return def, nil
	}

	u, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, fmt.Errorf(
			"config key %s: %q is not an unsigned integer", key, v)
	}

	return u, nil
}

// Float returns the value of a key as a float64.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[normalize(key)]
	if !ok {
		return def, nil
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("config key %s: %q is not a number", key, v)
	}

	return f, nil
}

// Bool returns the value of a key as a bool.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[normalize(key)]
	if !ok {
		return def, nil
	}

	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("config key %s: %q is not a boolean", key, v)
	}

	return b, nil
}

// PowerOfTwo returns the value of a key, which must be a positive power of
// two.
func (p Params) PowerOfTwo(key string, def int) (int, error) {
	i, err := p.Int(key, def)
	if err != nil {
		return 0, err
	}

	if i <= 0 || bits.OnesCount(uint(i)) != 1 {
		return 0, fmt.Errorf("config key %s: %d is not a power of two", key, i)
	}

	return i, nil
}
