package scan

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"checkpost/metrics"
	"checkpost/svc/util"
)

// KeywordList is an exact-substring denylist loaded from a flat text
// file: one keyword per line, blank lines and #-prefixed lines ignored.
// The file can be edited at runtime; a watcher reloads it without a
// restart.
type KeywordList struct {
	path string

	mu    sync.RWMutex
	words []string

	watcher *fsnotify.Watcher
	quit    chan struct{}
	once    sync.Once
}

// LoadKeywords reads the list. A missing file is not an error: the list
// starts empty and fills in on the first reload after the file appears.
func LoadKeywords(path string) (*KeywordList, error) {
	k := &KeywordList{path: path, quit: make(chan struct{})}
	if err := k.Reload(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	return k, nil
}

func (k *KeywordList) Reload() error {
	f, err := os.Open(k.path)
	if err != nil {
		return errors.Wrap(err, "open keyword file")
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, strings.ToLower(line))
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "read keyword file")
	}

	k.mu.Lock()
	k.words = words
	k.mu.Unlock()
	metrics.KeywordReloads.Inc()
	util.Info().Int("keywords", len(words)).Str("path", k.path).Msg("keyword list loaded")
	return nil
}

// Watch starts reloading on file changes. Editors that replace the file
// (rename + create) are handled by re-watching the path.
func (k *KeywordList) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "fsnotify watcher")
	}
	if err := w.Add(k.path); err != nil {
		w.Close()
		return errors.Wrap(err, "watch keyword file")
	}
	k.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := k.Reload(); err != nil {
						util.Warn().Err(err).Msg("keyword reload failed, keeping previous list")
					}
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					// Best effort: the file may be briefly absent while an
					// editor swaps it in place.
					_ = w.Add(k.path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				util.Warn().Err(err).Msg("keyword watcher error")
			case <-k.quit:
				return
			}
		}
	}()
	return nil
}

// Match reports whether text contains any denylisted keyword,
// case-insensitively.
func (k *KeywordList) Match(text string) bool {
	lower := strings.ToLower(text)
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, w := range k.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func (k *KeywordList) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.words)
}

func (k *KeywordList) Close() {
	k.once.Do(func() {
		close(k.quit)
		if k.watcher != nil {
			k.watcher.Close()
		}
	})
}
