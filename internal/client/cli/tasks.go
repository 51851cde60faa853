package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalnoise/cloudsync/internal/appdata"
)

// List prints the local task list, newest first.
func (a *App) List(ctx context.Context) error {
	data, err := a.store.LoadData(ctx)
	if err != nil {
		printlnFn("Error:", err.Error())
		return err
	}

	if len(data.Tasks) == 0 {
		printlnFn("No tasks yet. Use 'add <signal|noise> <text>' to create one.")
		return nil
	}

	for _, t := range data.Tasks {
		status := " "
		if t.Completed {
			status = "x"
		}
		printlnFn(fmt.Sprintf("[%s] %-6s %d  %s", status, t.Type, t.ID, t.Text))
	}
	return nil
}

// Add creates a task: add <signal|noise> <text...>
func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) < 2 {
		printlnFn("Usage: add <signal|noise> <text>")
		return nil
	}

	taskType := strings.ToLower(args[0])
	if taskType != appdata.TaskTypeSignal && taskType != appdata.TaskTypeNoise {
		printlnFn("Task type must be 'signal' or 'noise'.")
		return nil
	}
	text := strings.Join(args[1:], " ")

	data, err := a.store.LoadData(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	task := appdata.Task{
		ID:        now.UnixMilli(),
		Text:      text,
		Type:      taskType,
		Timestamp: now,
	}
	data.Tasks = append([]appdata.Task{task}, data.Tasks...)

	if err := a.store.SaveData(ctx, data); err != nil {
		return err
	}
	printlnFn(fmt.Sprintf("Added %s task %d.", taskType, task.ID))

	if err := a.orch.NotifyChange(ctx); err != nil {
		a.logger.Warn(ctx, "push after add failed", "error", err)
	}
	return nil
}

// Done toggles a task's completion: done <id>
func (a *App) Done(ctx context.Context, args []string) error {
	return a.mutateTask(ctx, args, "done", func(t *appdata.Task) {
		t.Completed = !t.Completed
	})
}

// Remove deletes a task: rm <id>
func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		printlnFn("Usage: rm <id>")
		return nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		printlnFn("Invalid task id:", args[0])
		return nil
	}

	data, err := a.store.LoadData(ctx)
	if err != nil {
		return err
	}

	kept := data.Tasks[:0]
	removed := false
	for _, t := range data.Tasks {
		if t.ID == id {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	if !removed {
		printlnFn("No task with id", id)
		return nil
	}
	data.Tasks = kept

	if err := a.store.SaveData(ctx, data); err != nil {
		return err
	}
	printlnFn("Removed.")

	if err := a.orch.NotifyChange(ctx); err != nil {
		a.logger.Warn(ctx, "push after remove failed", "error", err)
	}
	return nil
}

// Sync forces a full reconcile with the server.
func (a *App) Sync(ctx context.Context) error {
	if err := a.orch.SyncNow(ctx); err != nil {
		printlnFn("Sync failed:", err.Error())
		return err
	}
	printlnFn("Synced.")
	return nil
}

func (a *App) mutateTask(ctx context.Context, args []string, usage string, fn func(*appdata.Task)) error {
	if len(args) != 1 {
		printlnFn("Usage: " + usage + " <id>")
		return nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		printlnFn("Invalid task id:", args[0])
		return nil
	}

	data, err := a.store.LoadData(ctx)
	if err != nil {
		return err
	}

	found := false
	for i := range data.Tasks {
		if data.Tasks[i].ID == id {
			fn(&data.Tasks[i])
			found = true
			break
		}
	}
	if !found {
		printlnFn("No task with id", id)
		return nil
	}

	if err := a.store.SaveData(ctx, data); err != nil {
		return err
	}

	if err := a.orch.NotifyChange(ctx); err != nil {
		a.logger.Warn(ctx, "push after update failed", "error", err)
	}
	return nil
}
