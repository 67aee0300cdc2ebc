/*
Configuration.

A flat hcl file of `key = value` pairs. Every key has a default; unknown
keys are an error so that a typo never silently falls back to a default.

The per-log buffer budgets are auto-tuned from shared-buffers unless set
explicitly: each log gets shared-buffers divided by its divisor, rounded
down to a whole number of cache banks and clamped to [one bank, per-log max].
The status logs are tiny compared to the main buffer pool; a handful of
banks is enough to keep the hot pages resident.
*/
package config

import (
	"os"

	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"

	"github.com/tsubamedb/tsubame/storage/slru"
)

// per-log auto-tune divisors and caps, in slots
const (
	clogDivisor = 512
	clogMax     = 1024

	commitTsDivisor = 1024
	commitTsMax     = 256

	multiXactOffsetsDivisor = 1024
	multiXactOffsetsMax     = 128

	multiXactMembersDivisor = 512
	multiXactMembersMax     = 256
)

// Config is the server configuration. A zero buffer budget means auto-tune.
type Config struct {
	DataDir       string
	SharedBuffers int
	MaxProcs      int

	CommitTsEnabled bool

	ClogBuffers             int
	CommitTsBuffers         int
	MultiXactOffsetsBuffers int
	MultiXactMembersBuffers int
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		DataDir:       "data",
		SharedBuffers: 16384,
		MaxProcs:      64,
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "os.ReadFile failed")
	}
	return Parse(b)
}

// Parse parses configuration text over the defaults
func Parse(b []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := hcl.Decode(&raw, string(b)); err != nil {
		return nil, errors.Wrap(err, "hcl.Decode failed")
	}

	c := Default()
	for name, val := range raw {
		switch name {
		case "data-dir":
			s, ok := val.(string)
			if !ok {
				return nil, errors.Errorf("%s: expected string value; got %v", name, val)
			}
			c.DataDir = s
		case "commit-ts-enabled":
			v, ok := val.(bool)
			if !ok {
				return nil, errors.Errorf("%s: expected boolean value; got %v", name, val)
			}
			c.CommitTsEnabled = v
		case "shared-buffers":
			n, err := intValue(name, val)
			if err != nil {
				return nil, err
			}
			c.SharedBuffers = n
		case "max-procs":
			n, err := intValue(name, val)
			if err != nil {
				return nil, err
			}
			c.MaxProcs = n
		case "clog-buffers":
			n, err := intValue(name, val)
			if err != nil {
				return nil, err
			}
			c.ClogBuffers = n
		case "commit-ts-buffers":
			n, err := intValue(name, val)
			if err != nil {
				return nil, err
			}
			c.CommitTsBuffers = n
		case "multixact-offsets-buffers":
			n, err := intValue(name, val)
			if err != nil {
				return nil, err
			}
			c.MultiXactOffsetsBuffers = n
		case "multixact-members-buffers":
			n, err := intValue(name, val)
			if err != nil {
				return nil, err
			}
			c.MultiXactMembersBuffers = n
		default:
			return nil, errors.Errorf("%s is not a config variable", name)
		}
	}
	return c, nil
}

func intValue(name string, val interface{}) (int, error) {
	switch v := val.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, errors.Errorf("%s: expected integer value; got %v", name, val)
	}
}

// ClogSlots returns the commit log buffer budget
func (c *Config) ClogSlots() int {
	return tuneSlots(c.ClogBuffers, c.SharedBuffers, clogDivisor, clogMax)
}

// CommitTsSlots returns the commit timestamp log buffer budget
func (c *Config) CommitTsSlots() int {
	return tuneSlots(c.CommitTsBuffers, c.SharedBuffers, commitTsDivisor, commitTsMax)
}

// MultiXactOffsetsSlots returns the multixact offsets log buffer budget
func (c *Config) MultiXactOffsetsSlots() int {
	return tuneSlots(c.MultiXactOffsetsBuffers, c.SharedBuffers, multiXactOffsetsDivisor, multiXactOffsetsMax)
}

// MultiXactMembersSlots returns the multixact members log buffer budget
func (c *Config) MultiXactMembersSlots() int {
	return tuneSlots(c.MultiXactMembersBuffers, c.SharedBuffers, multiXactMembersDivisor, multiXactMembersMax)
}

// tuneSlots applies the auto-tune rule. An explicit value skips the divisor
// but is still forced onto a bank boundary and the lower clamp, because the
// cache requires whole banks.
func tuneSlots(explicit, shared, divisor, max int) int {
	slots := explicit
	if slots <= 0 {
		slots = shared / divisor
		if slots > max {
			slots = max
		}
	}
	slots -= slots % slru.BankSize
	if slots < slru.BankSize {
		slots = slru.BankSize
	}
	return slots
}
