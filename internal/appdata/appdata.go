// Package appdata defines the task document synchronized between devices
// and the single codec through which it is serialized. Every write goes
// through Encode and every read through Decode, so stored bytes always have
// one canonical shape regardless of the storage backend.
package appdata

import (
	"encoding/json"
	"time"
)

// Task types. A task is either high-value ("signal") or low-value ("noise").
const (
	TaskTypeSignal = "signal"
	TaskTypeNoise  = "noise"
)

// DefaultTargetRatio is the signal/noise percentage new users aim for.
const DefaultTargetRatio = 80

// Task is a single classified task.
type Task struct {
	ID        int64     `json:"id"` // milliseconds since epoch at creation
	Text      string    `json:"text"`
	Type      string    `json:"type"` // "signal" or "noise"
	Timestamp time.Time `json:"timestamp"`
	Completed bool      `json:"completed"`
}

// DailyRatio is one day's signal/noise ratio, kept as history.
type DailyRatio struct {
	Date  string  `json:"date"` // "2006-01-02"
	Ratio float64 `json:"ratio"`
}

// Settings holds per-user preferences carried inside the document.
type Settings struct {
	TargetRatio   int    `json:"targetRatio"`
	Notifications bool   `json:"notifications"`
	FirstName     string `json:"firstName,omitempty"`
}

// Data is the full per-user document. It is replaced wholesale on each sync
// push; there is no field-level merge.
type Data struct {
	Tasks    []Task                     `json:"tasks"`
	History  []DailyRatio               `json:"history"`
	Badges   []string                   `json:"badges"`
	Patterns map[string]json.RawMessage `json:"patterns"`
	Settings Settings                   `json:"settings"`
}

// Default returns a well-formed empty document.
func Default() *Data {
	return &Data{
		Tasks:    []Task{},
		History:  []DailyRatio{},
		Badges:   []string{},
		Patterns: map[string]json.RawMessage{},
		Settings: Settings{TargetRatio: DefaultTargetRatio},
	}
}

// Normalize replaces nil collections with empty ones so encoded documents
// never contain JSON null where a collection is expected.
func (d *Data) Normalize() {
	if d.Tasks == nil {
		d.Tasks = []Task{}
	}
	if d.History == nil {
		d.History = []DailyRatio{}
	}
	if d.Badges == nil {
		d.Badges = []string{}
	}
	if d.Patterns == nil {
		d.Patterns = map[string]json.RawMessage{}
	}
	if d.Settings.TargetRatio == 0 {
		d.Settings.TargetRatio = DefaultTargetRatio
	}
}

// TaskCount returns the number of tasks in the document.
func (d *Data) TaskCount() int {
	if d == nil {
		return 0
	}
	return len(d.Tasks)
}

// Encode serializes the document to its canonical stored form.
func Encode(d *Data) ([]byte, error) {
	d.Normalize()
	return json.Marshal(d)
}

// Decode parses stored bytes into a document. Empty input yields a default
// document and no error (new users have no document yet). Malformed input
// yields a default document and the parse error, so the caller can log the
// corruption while still serving well-formed data.
func Decode(raw []byte) (*Data, error) {
	if len(raw) == 0 {
		return Default(), nil
	}
	d := &Data{}
	if err := json.Unmarshal(raw, d); err != nil {
		return Default(), err
	}
	d.Normalize()
	return d, nil
}
