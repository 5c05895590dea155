package alerting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RuleWatcher reloads a rules file into the engine whenever it changes.
type RuleWatcher struct {
	engine   *Engine
	path     string
	debounce time.Duration
	logger   zerolog.Logger
}

// NewRuleWatcher creates a watcher for the YAML rules file at path.
func NewRuleWatcher(engine *Engine, path string, logger zerolog.Logger) *RuleWatcher {
	return &RuleWatcher{
		engine:   engine,
		path:     path,
		debounce: 250 * time.Millisecond,
		logger:   logger,
	}
}

// Load reads the file once and syncs its rules.
func (w *RuleWatcher) Load(ctx context.Context) (SyncResult, error) {
	rules, err := LoadRulesFromFile(w.path)
	if err != nil {
		return SyncResult{}, err
	}
	return w.engine.SyncRules(ctx, rules)
}

// Run watches the file's directory until ctx is done. Editors replace files
// by rename, so the directory is watched rather than the file itself.
func (w *RuleWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			res, err := w.Load(ctx)
			if err != nil {
				w.logger.Error().Err(err).Str("path", w.path).Msg("rules reload failed, keeping previous rules")
				continue
			}
			w.logger.Info().Int("created", res.Created).Int("updated", res.Updated).Msg("rules reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("rules watcher error")
		}
	}
}
