package build

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/jingkaihe/skillc/pkg/resolver"
)

// DefaultDebounce is how long Watch waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// WatchOptions controls Watch.
type WatchOptions struct {
	Build    Options
	Debounce time.Duration
}

// Watch builds name once and again after every settled burst of source
// changes until ctx is done. onBuild receives each result.
func (b *Builder) Watch(ctx context.Context, name string, opts WatchOptions, onBuild func(*Report, error)) error {
	src, err := b.resolver.Resolve(ctx, name, resolver.Options{Scope: opts.Build.Scope})
	if err != nil {
		return err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errcode.Wrap(err, errcode.IO, "failed to create file watcher")
	}
	defer watcher.Close()

	if err := addTree(watcher, src.Dir); err != nil {
		return err
	}

	onBuild(b.BuildSource(ctx, src, opts.Build))

	log := logger.G(ctx).WithField("skill", name)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignored(src.Dir, event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// new directories need their own watch
				_ = addTree(watcher, event.Name)
			}
			log.WithField("file", event.Name).WithField("op", event.Op.String()).Debug("change detected")
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
			} else {
				timer.Reset(opts.Debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("file watcher error")
		case <-fire:
			fire = nil
			onBuild(b.BuildSource(ctx, src, opts.Build))
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && (fingerprint.IsExcludedDir(d.Name()) || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return errcode.Wrap(err, errcode.IO, "failed to watch %s", path)
		}
		return nil
	})
}

func ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if fingerprint.IsExcludedDir(part) {
			return true
		}
	}
	return false
}
