package core

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FlagStatus is the rollout mode of a single feature flag.
type FlagStatus string

const (
	FlagDisabled FlagStatus = "disabled"
	FlagEnabled  FlagStatus = "enabled"
	FlagPercent  FlagStatus = "percentage_rollout"
	FlagCanary   FlagStatus = "canary"
)

// FlagDefinition is one flag's persisted state.
type FlagDefinition struct {
	Status            FlagStatus `yaml:"status"`
	Description       string     `yaml:"description,omitempty"`
	RolloutPercentage int        `yaml:"rollout_percentage"`
	EmergencyRollback bool       `yaml:"emergency_rollback"`
	CanaryAgents      []string   `yaml:"canary_agents,omitempty"`
}

type flagFile struct {
	Flags map[string]*FlagDefinition `yaml:"flags"`
}

// FeatureFlags is a YAML-file-backed set of feature flags. The
// elicitation manager checks EmergencyRollback on create_elicitation
// (spec §6) and refuses new requests with a shutdown-kind error while
// it is set, regardless of the flag's rollout percentage.
type FeatureFlags struct {
	mu    sync.RWMutex
	path  string
	flags map[string]*FlagDefinition
}

// NewFeatureFlags loads flags from path if it exists, or starts empty.
// An unknown flag name passed to IsEnabled is treated as disabled.
func NewFeatureFlags(path string) (*FeatureFlags, error) {
	ff := &FeatureFlags{path: path, flags: map[string]*FlagDefinition{}}
	if path == "" {
		return ff, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ff, nil
	}
	if err != nil {
		return nil, NewFrameworkError("core.NewFeatureFlags", KindIO, err)
	}
	var f flagFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, NewFrameworkError("core.NewFeatureFlags", KindInvalidInput, fmt.Errorf("parse %s: %w", path, err))
	}
	if f.Flags != nil {
		ff.flags = f.Flags
	}
	return ff, nil
}

// IsEnabled reports whether flagName is enabled for agentID. An
// emergency rollback always wins regardless of status or rollout
// percentage. A percentage rollout is evaluated by a deterministic hash
// of agentID so the same agent always lands on the same side of the
// split. A canary flag is enabled only for agents in its CanaryAgents
// list.
func (ff *FeatureFlags) IsEnabled(flagName, agentID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	flag, ok := ff.flags[flagName]
	if !ok {
		return false
	}
	if flag.EmergencyRollback {
		return false
	}
	switch flag.Status {
	case FlagEnabled:
		return true
	case FlagDisabled:
		return false
	case FlagPercent:
		return withinRollout(agentID, flag.RolloutPercentage)
	case FlagCanary:
		for _, a := range flag.CanaryAgents {
			if a == agentID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IsRolledBack reports whether flagName has been emergency-rolled-back.
// An unknown flag is never considered rolled back — only a flag that
// was explicitly created and then tripped can gate a caller this way.
func (ff *FeatureFlags) IsRolledBack(flagName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	flag, ok := ff.flags[flagName]
	return ok && flag.EmergencyRollback
}

// EmergencyRollback flips flagName to disabled-with-rollback, the
// fastest available kill switch for a misbehaving rollout.
func (ff *FeatureFlags) EmergencyRollback(flagName string) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	flag, ok := ff.flags[flagName]
	if !ok {
		return NewFrameworkErrorWithID("core.EmergencyRollback", KindNotFound, flagName, ErrNotFound)
	}
	flag.EmergencyRollback = true
	flag.Status = FlagDisabled
	return ff.saveLocked()
}

// SetRolloutPercentage updates a flag's rollout percentage, flipping its
// status to fully enabled/disabled at the 100/0 boundaries.
func (ff *FeatureFlags) SetRolloutPercentage(flagName string, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return NewFrameworkError("core.SetRolloutPercentage", KindInvalidInput, fmt.Errorf("percentage %d out of range", percentage))
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()

	flag, ok := ff.flags[flagName]
	if !ok {
		flag = &FlagDefinition{}
		ff.flags[flagName] = flag
	}
	flag.RolloutPercentage = percentage
	switch percentage {
	case 0:
		flag.Status = FlagDisabled
	case 100:
		flag.Status = FlagEnabled
	default:
		flag.Status = FlagPercent
	}
	return ff.saveLocked()
}

// saveLocked persists the current flag set to disk. A no-op when the
// flag set was constructed without a path (e.g. in tests).
func (ff *FeatureFlags) saveLocked() error {
	if ff.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(ff.path), 0o750); err != nil {
		return NewFrameworkError("core.FeatureFlags.save", KindIO, err)
	}
	data, err := yaml.Marshal(flagFile{Flags: ff.flags})
	if err != nil {
		return NewFrameworkError("core.FeatureFlags.save", KindIO, err)
	}
	if err := os.WriteFile(ff.path, data, 0o640); err != nil {
		return NewFrameworkError("core.FeatureFlags.save", KindIO, err)
	}
	return nil
}

// withinRollout deterministically buckets agentID into [0,100) using an
// MD5 digest, so repeated calls for the same agent and percentage always
// agree (unlike a random coin flip per call).
func withinRollout(agentID string, percentage int) bool {
	if agentID == "" {
		return false
	}
	sum := md5.Sum([]byte(agentID))
	hexDigest := hex.EncodeToString(sum[:])
	var bucket int
	for _, c := range hexDigest[len(hexDigest)-4:] {
		bucket = bucket*16 + hexDigit(c)
	}
	return (bucket % 100) < percentage
}

func hexDigit(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return 0
	}
}
