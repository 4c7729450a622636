package cmds

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "prog")
	if err := os.WriteFile(bin, []byte{1}, 0755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rebuilt := make(chan struct{}, 16)
	done := make(chan error)
	go func() {
		done <- watch(ctx, bin, 10*time.Millisecond, func() error {
			rebuilt <- struct{}{}
			return nil
		})
	}()

	// writes to other files are ignored
	if err := os.WriteFile(filepath.Join(dir, "other"), []byte{1}, 0644); err != nil {
		t.Fatal(err)
	}

	// the watcher may not be installed yet, keep writing until it reacts
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	timeout := time.After(10 * time.Second)
wait:
	for {
		select {
		case <-rebuilt:
			break wait
		case <-tick.C:
			if err := os.WriteFile(bin, []byte{2}, 0755); err != nil {
				t.Fatal(err)
			}
		case <-timeout:
			t.Fatal("binary change not noticed")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return")
	}
}
