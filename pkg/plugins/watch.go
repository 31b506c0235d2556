package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/async"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

// DefaultDebounce is the quiet period used when Watch is given a non-positive debounce.
const DefaultDebounce = 500 * time.Millisecond

// RefreshHook is called after a watched repository was re-inspected.
type RefreshHook func(repo repository.Repository, err error)

// Watcher re-inspects directory repositories when files in their directory change.
// Repositories added to the registry after the watcher was created are not watched.
type Watcher struct {
	fsw      *fsnotify.Watcher
	repos    map[string]*repository.Directory
	debounce time.Duration
	log      logrus.FieldLogger
	hook     RefreshHook
}

// NewWatcher starts watching the directory repositories of reg.
func NewWatcher(reg *Registry, debounce time.Duration, hook RefreshHook) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		repos:    make(map[string]*repository.Directory),
		debounce: debounce,
		log:      reg.log.WithField("component", "watcher"),
		hook:     hook,
	}
	for _, repo := range reg.Repositories() {
		dir, ok := repo.(*repository.Directory)
		if !ok {
			continue
		}
		if err := fsw.Add(dir.Path()); err != nil {
			w.log.WithError(err).WithField("path", dir.Path()).Warn("Cannot watch directory")
			continue
		}
		w.repos[dir.Path()] = dir
	}
	return w, nil
}

// Watched returns the number of watched directories.
func (w *Watcher) Watched() int {
	return len(w.repos)
}

// Run processes file system events until ctx is done. Events are coalesced per repository
// for the debounce period; refreshes of one batch run sequentially in the background and a
// new batch waits for the previous one.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	var inFlight <-chan struct{}

	for {
		select {
		case <-ctx.Done():
			if inFlight != nil {
				<-inFlight
			}
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			dir := filepath.Dir(event.Name)
			if _, watched := w.repos[dir]; !watched {
				continue
			}
			w.log.WithFields(logrus.Fields{"path": event.Name, "op": event.Op.String()}).Debug("Directory changed")
			pending[dir] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Watcher error")

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			if inFlight != nil {
				timer.Reset(w.debounce)
				continue
			}
			batch := make([]*repository.Directory, 0, len(pending))
			for dir := range pending {
				batch = append(batch, w.repos[dir])
			}
			clear(pending)
			inFlight = w.refresh(ctx, batch)

		case <-inFlight:
			inFlight = nil
		}
	}
}

func (w *Watcher) refresh(ctx context.Context, batch []*repository.Directory) <-chan struct{} {
	return async.SafeGo(ctx, w.log, 0, "refresh watched repositories", func(ctx context.Context) error {
		for _, repo := range batch {
			err := repo.Inspect(ctx)
			if err != nil {
				w.log.WithError(err).WithField("source", repo.Source()).Warn("Refresh failed")
			}
			if w.hook != nil {
				w.hook(repo, err)
			}
		}
		return nil
	})
}

// Watch re-inspects the directory repositories of reg on change until ctx is done.
func Watch(ctx context.Context, reg *Registry, debounce time.Duration) error {
	w, err := NewWatcher(reg, debounce, nil)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
