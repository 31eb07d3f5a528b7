// Package riskprofile loads the tunable risk parameters from a YAML file
// and hot-reloads them when the file changes, so stops and targets can be
// adjusted while a position is open without restarting the agent.
package riskprofile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scalper/internal/logger"
	"scalper/internal/trader"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Profile is the on-disk shape of the risk file.
type Profile struct {
	TargetProfitUSD        float64 `yaml:"target_profit_usd" json:"target_profit_usd"`
	TakeProfitPercent      float64 `yaml:"take_profit_percent" json:"take_profit_percent"`
	StopLossPercent        float64 `yaml:"stop_loss_percent" json:"stop_loss_percent"`
	CatastrophicStopUSD    float64 `yaml:"catastrophic_stop_usd" json:"catastrophic_stop_usd"`
	ExitOffsetPercent      float64 `yaml:"exit_offset_percent" json:"exit_offset_percent"`
	StopLimitOffsetPercent float64 `yaml:"stop_limit_offset_percent" json:"stop_limit_offset_percent"`
}

// Params converts the profile into the machine's risk knobs.
func (p Profile) Params() trader.RiskParams {
	return trader.RiskParams{
		TargetProfitUSD:        p.TargetProfitUSD,
		TakeProfitPercent:      p.TakeProfitPercent,
		StopLossPercent:        p.StopLossPercent,
		CatastrophicStopUSD:    p.CatastrophicStopUSD,
		ExitOffsetPercent:      p.ExitOffsetPercent,
		StopLimitOffsetPercent: p.StopLimitOffsetPercent,
	}
}

// profileSchema rejects structurally valid YAML that carries unusable
// values, like a positive catastrophic stop.
const profileSchema = `{
  "type": "object",
  "properties": {
    "target_profit_usd": {"type": "number", "exclusiveMinimum": 0},
    "take_profit_percent": {"type": "number", "minimum": 0},
    "stop_loss_percent": {"type": "number", "minimum": 0},
    "catastrophic_stop_usd": {"type": "number", "exclusiveMaximum": 0},
    "exit_offset_percent": {"type": "number", "minimum": 0, "maximum": 1},
    "stop_limit_offset_percent": {"type": "number", "minimum": 0, "maximum": 5}
  }
}`

// Snapshot is one loaded generation of the profile.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profile  Profile
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

// Registry owns the profile file: initial load, schema validation, watch
// and reload. A reload that fails validation keeps the previous snapshot.
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry reads the profile at path and starts watching it. fallback
// seeds any field the file leaves at zero.
func NewRegistry(path string, fallback Profile) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk profile registry requires a path")
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile risk profile schema: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profile: %w", err)
	}
	r := &Registry{path: path, v: v, schema: schema}
	if err := r.reload(fallback); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(fallback); err != nil {
			logger.Errorf("risk profile reload failed, keeping previous values: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current profile generation.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Params is the provider handed to the machine.
func (r *Registry) Params() trader.RiskParams {
	return r.Snapshot().Profile.Params()
}

// OnChange registers a listener invoked on every successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload(fallback Profile) error {
	profile, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	applyFallback(&profile, fallback)
	if err := r.validate(profile); err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profile:  profile,
	}
	version := r.snapshot.Version
	r.mu.Unlock()
	logger.Infof("risk profile v%d loaded from %s: target=%.2f stop=%.2f%% catastrophic=%.2f",
		version, filepath.Base(r.path), profile.TargetProfitUSD, profile.StopLossPercent, profile.CatastrophicStopUSD)
	return nil
}

func (r *Registry) validate(p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := r.schema.Validate(doc); err != nil {
		return fmt.Errorf("risk profile rejected: %w", err)
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("risk profile listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func applyFallback(p *Profile, fallback Profile) {
	if p.TargetProfitUSD == 0 {
		p.TargetProfitUSD = fallback.TargetProfitUSD
	}
	if p.TakeProfitPercent == 0 {
		p.TakeProfitPercent = fallback.TakeProfitPercent
	}
	if p.StopLossPercent == 0 {
		p.StopLossPercent = fallback.StopLossPercent
	}
	if p.CatastrophicStopUSD == 0 {
		p.CatastrophicStopUSD = fallback.CatastrophicStopUSD
	}
	if p.ExitOffsetPercent == 0 {
		p.ExitOffsetPercent = fallback.ExitOffsetPercent
	}
	if p.StopLimitOffsetPercent == 0 {
		p.StopLimitOffsetPercent = fallback.StopLimitOffsetPercent
	}
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("risk.json", strings.NewReader(profileSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("risk.json")
}

// readProfileFile decodes the YAML strictly so a typo in a knob name fails
// loudly instead of silently falling back.
func readProfileFile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read risk profile: %w", err)
	}
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("parse risk profile: %w", err)
	}
	return p, nil
}
