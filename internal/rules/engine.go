// Package rules applies user-maintained substitutions to transcripts before
// they are judged and handed to the generator.
package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const DefaultIterationLimit = 30

// Engine applies rules until the text stops changing or the iteration limit is hit.
type Engine struct {
	path    string
	limit   int
	parsers []Parser
	logger  zerolog.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewEngine loads rules from path. A missing or empty path yields a pass-through engine.
func NewEngine(path string, limit int, logger zerolog.Logger) (*Engine, error) {
	return NewEngineWithParsers(path, limit, DefaultParsers(), logger)
}

func NewEngineWithParsers(path string, limit int, parsers []Parser, logger zerolog.Logger) (*Engine, error) {
	if limit <= 0 {
		limit = DefaultIterationLimit
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}
	e := &Engine{
		path:    strings.TrimSpace(path),
		limit:   limit,
		parsers: parsers,
		logger:  logger.With().Str("component", "rules").Logger(),
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the rules file. On error the previous rules stay active.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}
	contents, err := os.ReadFile(e.path)
	if errors.Is(err, os.ErrNotExist) {
		e.swap(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}

	parsed, err := Parse(string(contents), e.parsers)
	if err != nil {
		return fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}
	e.swap(parsed)
	e.logger.Debug().Str("path", e.path).Int("rules", len(parsed)).Msg("rules loaded")
	return nil
}

func (e *Engine) swap(rules []Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// Len reports the number of active rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Apply implements ports.RulesEngine.
func (e *Engine) Apply(text string) (string, error) {
	e.mu.RLock()
	active := e.rules
	e.mu.RUnlock()

	if len(active) == 0 {
		return text, nil
	}

	result := text
	for round := 0; round < e.limit; round++ {
		changed := false
		for _, rule := range active {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}
	e.logger.Warn().Int("limit", e.limit).Msg("rules did not settle; using last result")
	return result, nil
}

// Watch reloads the rules whenever the file is written until ctx is done. The parent
// directory is watched so editors that replace the file are picked up.
func (e *Engine) Watch(ctx context.Context) error {
	if e.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(e.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch rules directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(e.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := e.Reload(); err != nil {
					e.logger.Error().Err(err).Msg("rules reload failed; keeping previous rules")
					continue
				}
				e.logger.Info().Int("rules", e.Len()).Msg("rules reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Warn().Err(err).Msg("rules watcher error")
			}
		}
	}()
	return nil
}
