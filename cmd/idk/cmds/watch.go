package cmds

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adbi/idk/pkg/logflags"
)

// watch calls rebuild each time the file bin is written, once writes have
// stopped for settle. It returns when ctx is done.
//
// The directory of bin is watched rather than bin itself so that binaries
// replaced by a rename are still seen.
func watch(ctx context.Context, bin string, settle time.Duration, rebuild func() error) error {
	log := logflags.StoreLogger()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(bin)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Debugf("%s: %s", ev.Op, ev.Name)
			timer.Reset(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watching %s: %v", bin, err)
		case <-timer.C:
			if err := rebuild(); err != nil {
				log.Errorf("rebuilding %s: %v", bin, err)
			}
		}
	}
}
