// Package syncsvc implements the versioned document sync: metadata reads,
// full pulls, guarded pushes, and task-level convenience operations layered
// on top of the same push path.
package syncsvc

import (
	"context"
	"errors"
	"time"

	"github.com/signalnoise/cloudsync/internal/appdata"
	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/logging"
	"github.com/signalnoise/cloudsync/internal/server/models"
	"github.com/signalnoise/cloudsync/internal/server/snapshot"
	"github.com/signalnoise/cloudsync/internal/server/store"
)

// Metadata is the cheap sync check: enough for a client to decide whether a
// pull is needed without transferring the document.
type Metadata struct {
	Version        int64     `json:"version"`
	LastModifiedAt time.Time `json:"lastModified"`
	LastDeviceType string    `json:"lastDevice,omitempty"`
	TaskCount      int       `json:"taskCount"`
}

// Document is a pulled document together with its version.
type Document struct {
	Data    *appdata.Data `json:"data"`
	Version int64         `json:"version"`
}

// PushOptions modify how a push is applied.
type PushOptions struct {
	// BaseVersion, when set, makes the push conditional: it is rejected
	// with ErrVersionConflict unless the stored version still equals it.
	// When nil the push is unconditional and the last writer wins.
	BaseVersion *int64

	// Force bypasses the empty-overwrite guard. Set by task-level
	// operations, where deleting the last task is a legitimate write of
	// an empty task list, and by clients explicitly confirming a wipe.
	Force bool

	// Initial marks the one-time push of a device's pre-account local
	// data. The first such push stamps SyncedFromLocalAt on the record.
	Initial bool

	DeviceType string
}

// Service owns the per-user document lifecycle. Pushes are serialized only
// by their store round-trip; two racing unconditional pushes resolve to
// whichever lands last.
type Service struct {
	store    store.Store
	archiver snapshot.Archiver // nil disables snapshots
	logger   logging.Logger
	now      func() time.Time
}

func NewService(s store.Store, archiver snapshot.Archiver, logger logging.Logger) *Service {
	return &Service{
		store:    s,
		archiver: archiver,
		logger:   logger,
		now:      time.Now,
	}
}

// Meta returns the user's current sync metadata.
func (s *Service) Meta(ctx context.Context, email string) (*Metadata, error) {
	u, err := s.getUser(ctx, email)
	if err != nil {
		return nil, err
	}

	d, derr := appdata.Decode(u.AppData)
	if derr != nil {
		s.logger.Error(ctx, "stored document is corrupt, serving defaults",
			"email", email, "error", derr)
	}

	return &Metadata{
		Version:        u.Version,
		LastModifiedAt: u.LastModifiedAt,
		LastDeviceType: u.LastDeviceType,
		TaskCount:      d.TaskCount(),
	}, nil
}

// Pull returns the full document with its version. A corrupt stored document
// is replaced by a default one and logged; the caller never sees the error.
func (s *Service) Pull(ctx context.Context, email string) (*Document, error) {
	u, err := s.getUser(ctx, email)
	if err != nil {
		return nil, err
	}

	d, derr := appdata.Decode(u.AppData)
	if derr != nil {
		s.logger.Error(ctx, "stored document is corrupt, serving defaults",
			"email", email, "error", derr)
	}

	// An account that has never synced gets the default document persisted
	// on first pull. The version stays untouched.
	if len(u.AppData) == 0 {
		if raw, eerr := appdata.Encode(d); eerr == nil {
			u.AppData = raw
			if serr := s.store.SaveUser(ctx, u); serr != nil {
				s.logger.Warn(ctx, "failed to initialize document",
					"email", email, "error", serr)
			}
		}
	}

	return &Document{Data: d, Version: u.Version}, nil
}

// Push replaces the user's document wholesale and increments the version.
// The previous revision is archived first when a snapshot backend is
// configured.
//
// Unless opts.Force is set, a push carrying zero tasks against a document
// that has tasks is rejected: a freshly installed device with an empty local
// state must not silently wipe the account.
func (s *Service) Push(ctx context.Context, email string, data *appdata.Data, opts PushOptions) (*Metadata, error) {
	u, err := s.getUser(ctx, email)
	if err != nil {
		return nil, err
	}

	if opts.BaseVersion != nil && *opts.BaseVersion != u.Version {
		s.logger.Info(ctx, "conditional push rejected",
			"email", email, "base", *opts.BaseVersion, "current", u.Version)
		return nil, common.ErrVersionConflict
	}

	if !opts.Force && data.TaskCount() == 0 {
		current, derr := appdata.Decode(u.AppData)
		if derr == nil && current.TaskCount() > 0 {
			s.logger.Warn(ctx, "rejected empty overwrite",
				"email", email, "storedTasks", current.TaskCount())
			return nil, common.ErrEmptyOverwrite
		}
	}

	if opts.BaseVersion == nil && u.Version > 0 {
		s.logger.Debug(ctx, "unconditional push over existing document",
			"email", email, "version", u.Version)
	}

	if s.archiver != nil && len(u.AppData) > 0 {
		if aerr := s.archiver.Archive(ctx, email, u.Version, u.AppData); aerr != nil {
			// Snapshots are best effort; the push proceeds.
			s.logger.Warn(ctx, "snapshot failed", "email", email, "error", aerr)
		}
	}

	encoded, err := appdata.Encode(data)
	if err != nil {
		return nil, errors.Join(common.ErrInternal, err)
	}

	now := s.now()
	u.AppData = encoded
	u.Version++
	u.LastModifiedAt = now
	u.LastActiveAt = now
	if opts.DeviceType != "" {
		u.LastDeviceType = opts.DeviceType
	}
	if opts.Initial && u.SyncedFromLocalAt.IsZero() {
		u.SyncedFromLocalAt = now
	}

	if err := s.store.SaveUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "document pushed",
		"email", email, "version", u.Version, "tasks", data.TaskCount())

	return &Metadata{
		Version:        u.Version,
		LastModifiedAt: u.LastModifiedAt,
		LastDeviceType: u.LastDeviceType,
		TaskCount:      data.TaskCount(),
	}, nil
}

// ListTasks returns the current task list.
func (s *Service) ListTasks(ctx context.Context, email string) ([]appdata.Task, error) {
	doc, err := s.Pull(ctx, email)
	if err != nil {
		return nil, err
	}
	return doc.Data.Tasks, nil
}

// AddTask prepends a new task to the document. The ID is the creation time
// in milliseconds, matching IDs minted by clients.
func (s *Service) AddTask(ctx context.Context, email, text, taskType, deviceType string) (*appdata.Task, error) {
	if taskType != appdata.TaskTypeSignal && taskType != appdata.TaskTypeNoise {
		taskType = appdata.TaskTypeNoise
	}

	var created appdata.Task
	err := s.mutate(ctx, email, deviceType, func(d *appdata.Data) error {
		now := s.now()
		created = appdata.Task{
			ID:        now.UnixMilli(),
			Text:      text,
			Type:      taskType,
			Timestamp: now,
		}
		d.Tasks = append([]appdata.Task{created}, d.Tasks...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateTask applies the given mutation to the task with the given ID.
func (s *Service) UpdateTask(ctx context.Context, email string, id int64, deviceType string, fn func(*appdata.Task)) (*appdata.Task, error) {
	var updated appdata.Task
	err := s.mutate(ctx, email, deviceType, func(d *appdata.Data) error {
		for i := range d.Tasks {
			if d.Tasks[i].ID == id {
				fn(&d.Tasks[i])
				updated = d.Tasks[i]
				return nil
			}
		}
		return common.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteTask removes the task with the given ID. Removing the last task is
// allowed here; the empty-overwrite guard applies only to full pushes.
func (s *Service) DeleteTask(ctx context.Context, email string, id int64, deviceType string) error {
	return s.mutate(ctx, email, deviceType, func(d *appdata.Data) error {
		for i := range d.Tasks {
			if d.Tasks[i].ID == id {
				d.Tasks = append(d.Tasks[:i], d.Tasks[i+1:]...)
				return nil
			}
		}
		return common.ErrNotFound
	})
}

// mutate runs a pull-modify-push cycle. The push is forced so legitimate
// single-task operations never trip the empty-overwrite guard.
func (s *Service) mutate(ctx context.Context, email, deviceType string, fn func(*appdata.Data) error) error {
	doc, err := s.Pull(ctx, email)
	if err != nil {
		return err
	}
	if err := fn(doc.Data); err != nil {
		return err
	}
	_, err = s.Push(ctx, email, doc.Data, PushOptions{Force: true, DeviceType: deviceType})
	return err
}

func (s *Service) getUser(ctx context.Context, email string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
