// Package secrets resolves {{SECRET:name}} placeholders in action parameters
// from a JSON secrets file, reloading on change so rotated credentials are
// picked up without a restart.
package secrets

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var placeholderRe = regexp.MustCompile(`\{\{SECRET:([A-Za-z0-9_.-]+)\}\}`)

// ErrUnknownSecret wraps the missing name.
type ErrUnknownSecret struct {
	Name string
}

func (e *ErrUnknownSecret) Error() string {
	return fmt.Sprintf("unknown secret %q", e.Name)
}

// Store holds the current secret map. Zero value is an empty store that
// resolves nothing but still passes through placeholder-free strings.
type Store struct {
	mu      sync.RWMutex
	values  map[string]string
	path    string
	watcher *fsnotify.Watcher
	log     *slog.Logger
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{values: map[string]string{}, log: slog.Default()}
}

// Load reads the secrets file (a flat JSON object of name → value) and
// replaces the store contents.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read secrets file: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse secrets file: %w", err)
	}
	s.mu.Lock()
	s.values = values
	s.path = path
	s.mu.Unlock()
	return nil
}

// Set stores one secret, mainly for tests and env-sourced values.
func (s *Store) Set(name, value string) {
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
}

// Watch reloads the store whenever the loaded file changes. Reload failures
// keep the previous values.
func (s *Store) Watch() error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("secrets: no file loaded")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Load(path); err != nil {
					s.log.Warn("secrets.reload_failed", "path", path, "error", err)
					continue
				}
				s.log.Info("secrets.reloaded", "path", path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("secrets.watch_error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Resolve substitutes every {{SECRET:name}} placeholder in the string. An
// unknown name fails the whole resolution so a half-substituted credential
// never reaches a subprocess.
func (s *Store) Resolve(in string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing *ErrUnknownSecret
	out := placeholderRe.ReplaceAllStringFunc(in, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := s.values[name]
		if !ok {
			if missing == nil {
				missing = &ErrUnknownSecret{Name: name}
			}
			return m
		}
		return v
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// ResolveParams walks an action's params and resolves placeholders in every
// string value, including nested maps and lists. The input is not mutated.
func (s *Store) ResolveParams(params map[string]any) (map[string]any, error) {
	out, err := s.resolveValue(params)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (s *Store) resolveValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return s.Resolve(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			resolved, err := s.resolveValue(inner)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			resolved, err := s.resolveValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// Redact replaces every known secret value in the string with "[REDACTED]",
// for logs and action results that might echo a resolved command line.
func (s *Store) Redact(in string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := in
	for _, v := range s.values {
		if v == "" {
			continue
		}
		out = strings.ReplaceAll(out, v, "[REDACTED]")
	}
	return out
}
