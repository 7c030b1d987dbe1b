package severity

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the severity table file and calls onChange with a freshly
// built Registry each time the file is rewritten. It runs until ctx is
// cancelled. A table that fails to load or validate is logged and skipped,
// leaving the previous Registry in force.
func Watch(ctx context.Context, path string, onChange func(*Registry)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	log.Printf("watching severity table %s", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save atomically via rename, which surfaces as
			// Create rather than Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			t, err := LoadTable(path)
			if err != nil {
				log.Printf("severity table reload failed, keeping previous: %v", err)
				continue
			}
			reg, err := NewRegistry(t)
			if err != nil {
				log.Printf("severity table invalid, keeping previous: %v", err)
				continue
			}
			log.Printf("severity table reloaded from %s", path)
			onChange(reg)
			// Re-add in case an atomic save replaced the inode.
			_ = watcher.Add(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("severity table watcher error: %v", err)
		}
	}
}
