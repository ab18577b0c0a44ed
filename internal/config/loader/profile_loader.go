package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"marlin/internal/logger"
	"marlin/internal/strategy"
)

// StrategyEntry is one strategy line in a profile: its registered name, its
// vote weight and its tuning parameters.
type StrategyEntry struct {
	Name   string         `yaml:"name"`
	Weight float64        `yaml:"weight"`
	Params map[string]any `yaml:"params"`
}

// ProfileDefinition names a reusable strategy mix.
type ProfileDefinition struct {
	Name       string          `yaml:"-"`
	MinScore   float64         `yaml:"min_score"`
	Strategies []StrategyEntry `yaml:"strategies"`
}

type fileConfig struct {
	Profiles map[string]ProfileDefinition `yaml:"profiles"`
}

// ProfileSnapshot is the read-only view handed to listeners.
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

type ChangeListener func(ProfileSnapshot)

// ProfileLoader parses strategy profiles from a YAML file and watches it for
// edits, so strategy mixes can change without a restart.
type ProfileLoader struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	l := &ProfileLoader{path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("profile watcher failed: %w", err)
	}
	// watch the directory, not the file: editors replace files on save and
	// the old inode stops emitting events
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("profile watcher failed: %w", err)
	}
	l.watcher = watcher
	go l.watch()
	return l, nil
}

func (l *ProfileLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Snapshot returns a deep copy of the current profile set.
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Profile looks one profile up by name, case-insensitively.
func (l *ProfileLoader) Profile(name string) (ProfileDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Profiles[strings.ToLower(strings.TrimSpace(name))]
	return def, ok
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it on a fresh goroutine.
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go runListener(fn, snap)
}

func (l *ProfileLoader) watch() {
	base := filepath.Base(l.path)
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != base {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
				continue
			}
			l.notify()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("profile watcher error: %v", err)
		}
	}
}

func (l *ProfileLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read profile config failed: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	profiles := make(map[string]ProfileDefinition, len(fc.Profiles))
	for name, def := range fc.Profiles {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		def.Name = key
		if err := def.validate(); err != nil {
			return fmt.Errorf("profile %s: %w", key, err)
		}
		profiles[key] = def
	}
	if len(profiles) == 0 {
		return fmt.Errorf("profile config contains no profiles")
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	l.mu.Unlock()
	logger.Infof("loaded %d strategy profiles from %s", len(profiles), l.path)
	return nil
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go runListener(fn, snap)
	}
}

func runListener(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("profile listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (d ProfileDefinition) validate() error {
	if len(d.Strategies) == 0 {
		return fmt.Errorf("requires at least one strategy")
	}
	if d.MinScore < 0 || d.MinScore > 1 {
		return fmt.Errorf("min_score must be in [0,1], got %v", d.MinScore)
	}
	for _, entry := range d.Strategies {
		if entry.Weight <= 0 {
			return fmt.Errorf("strategy %s weight must be positive, got %v", entry.Name, entry.Weight)
		}
		if _, err := buildStrategy(entry); err != nil {
			return err
		}
	}
	return nil
}

// Build materializes the profile into a weighted strategy set.
func (d ProfileDefinition) Build() ([]strategy.Weighted, error) {
	out := make([]strategy.Weighted, 0, len(d.Strategies))
	for _, entry := range d.Strategies {
		s, err := buildStrategy(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, strategy.Weighted{Strategy: s, Weight: entry.Weight})
	}
	return out, nil
}

func buildStrategy(entry StrategyEntry) (strategy.Strategy, error) {
	p := params(entry.Params)
	switch strings.ToLower(strings.TrimSpace(entry.Name)) {
	case "ma_cross":
		return strategy.NewMACross(strategy.MACrossConfig{
			Fast: p.intVal("fast"),
			Slow: p.intVal("slow"),
		}), nil
	case "rsi":
		return strategy.NewRSI(strategy.RSIConfig{
			Period:     p.intVal("period"),
			Oversold:   p.floatVal("oversold"),
			Overbought: p.floatVal("overbought"),
		}), nil
	case "macd":
		return strategy.NewMACD(strategy.MACDConfig{
			Fast:   p.intVal("fast"),
			Slow:   p.intVal("slow"),
			Signal: p.intVal("signal"),
		}), nil
	case "bollinger":
		return strategy.NewBollinger(strategy.BollingerConfig{
			Period: p.intVal("period"),
			StdDev: p.floatVal("std_dev"),
		}), nil
	case "volume_spike":
		return strategy.NewVolumeSpike(strategy.VolumeSpikeConfig{
			Period:    p.intVal("period"),
			Threshold: p.floatVal("threshold"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", entry.Name)
	}
}

type params map[string]any

func (p params) intVal(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (p params) floatVal(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func cloneSnapshot(snap ProfileSnapshot) ProfileSnapshot {
	out := ProfileSnapshot{Version: snap.Version, LoadedAt: snap.LoadedAt}
	if snap.Profiles != nil {
		out.Profiles = make(map[string]ProfileDefinition, len(snap.Profiles))
		for k, v := range snap.Profiles {
			v.Strategies = append([]StrategyEntry(nil), v.Strategies...)
			out.Profiles[k] = v
		}
	}
	return out
}
