package server

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"

	"github.com/crewdeck/crewdeck/crewfile"
)

// Seed loads a crewfile and upserts its entities into the store. Existing
// rows are overwritten; entities absent from the file are left alone.
func (h *Handler) Seed(ctx context.Context, path string) error {
	cf, err := crewfile.Load(path)
	if err != nil {
		return err
	}
	agents, tasks, flows := cf.Entities()

	for _, a := range agents {
		existing, err := h.store.GetAgent(ctx, a.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			err = h.store.UpdateAgent(ctx, a)
		} else {
			err = h.store.CreateAgent(ctx, a)
		}
		if err != nil {
			return err
		}
	}
	for _, t := range tasks {
		existing, err := h.store.GetTask(ctx, t.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			err = h.store.UpdateTask(ctx, t)
		} else {
			err = h.store.CreateTask(ctx, t)
		}
		if err != nil {
			return err
		}
	}
	for _, f := range flows {
		existing, err := h.store.GetFlow(ctx, f.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			err = h.store.UpdateFlow(ctx, f)
		} else {
			err = h.store.CreateFlow(ctx, f)
		}
		if err != nil {
			return err
		}
	}

	log.Printf("INFO: seeded %d agents, %d tasks, %d flows from %s",
		len(agents), len(tasks), len(flows), path)
	return nil
}

// WatchSeed re-seeds whenever the crewfile changes on disk. Blocks until
// ctx is cancelled.
func (h *Handler) WatchSeed(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, okCh := <-watcher.Events:
			if !okCh {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := h.Seed(ctx, path); err != nil {
				// A half-written file fails to parse; keep watching, the
				// editor's final write will land shortly.
				log.Printf("WARN: failed to re-seed from %s: %v", path, err)
			}

		case err, okCh := <-watcher.Errors:
			if !okCh {
				return nil
			}
			log.Printf("WARN: seed watcher error: %v", err)
		}
	}
}
