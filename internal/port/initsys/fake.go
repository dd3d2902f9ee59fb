package initsys

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory Supervisor for service tests.
type Fake struct {
	mu sync.Mutex

	Units   map[string]string // fileName -> content
	Active  map[string]bool   // unit -> active
	Enabled map[string]bool   // unit -> enabled
	PIDs    map[string]int
	Journal map[string]string // unit -> log content
	Next    map[string]time.Time

	// Ops records every lifecycle call as "verb unit".
	Ops []string

	// FailOn maps "verb unit" to an error returned for that call.
	FailOn map[string]error
}

// NewFake creates an empty Fake supervisor.
func NewFake() *Fake {
	return &Fake{
		Units:   map[string]string{},
		Active:  map[string]bool{},
		Enabled: map[string]bool{},
		PIDs:    map[string]int{},
		Journal: map[string]string{},
		Next:    map[string]time.Time{},
		FailOn:  map[string]error{},
	}
}

func (f *Fake) record(verb, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := verb + " " + unit
	f.Ops = append(f.Ops, key)
	return f.FailOn[key]
}

func (f *Fake) InstallUnit(_ context.Context, fileName, content string) error {
	if err := f.record("install", fileName); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Units[fileName] = content
	return nil
}

func (f *Fake) RemoveUnit(_ context.Context, fileName string) error {
	if err := f.record("remove", fileName); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Units, fileName)
	return nil
}

func (f *Fake) UnitFileExists(fileName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Units[fileName]
	return ok
}

func (f *Fake) ReadUnitFile(fileName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Units[fileName], nil
}

func (f *Fake) DaemonReload(_ context.Context) error {
	return f.record("daemon-reload", "")
}

func (f *Fake) Start(_ context.Context, unit string) error {
	if err := f.record("start", unit); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Active[unit] = true
	return nil
}

func (f *Fake) Stop(_ context.Context, unit string) error {
	if err := f.record("stop", unit); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Active[unit] = false
	return nil
}

func (f *Fake) Restart(_ context.Context, unit string) error {
	if err := f.record("restart", unit); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Active[unit] = true
	return nil
}

func (f *Fake) Enable(_ context.Context, unit string) error {
	if err := f.record("enable", unit); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Enabled[unit] = true
	return nil
}

func (f *Fake) Disable(_ context.Context, unit string) error {
	if err := f.record("disable", unit); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Enabled[unit] = false
	return nil
}

func (f *Fake) IsActive(_ context.Context, unit string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Active[unit]
}

func (f *Fake) IsEnabled(_ context.Context, unit string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Enabled[unit]
}

func (f *Fake) MainPID(_ context.Context, unit string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PIDs[unit], nil
}

func (f *Fake) NextElapse(_ context.Context, unit string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Next[unit], nil
}

func (f *Fake) Logs(_ context.Context, unit string, _ int, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Journal[unit], nil
}

func (f *Fake) FollowLogs(_ context.Context, unit string, _ int) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.NopCloser(strings.NewReader(f.Journal[unit])), nil
}

// DidOp reports whether a lifecycle call "verb unit" was recorded.
func (f *Fake) DidOp(verb, unit string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := verb + " " + unit
	for _, op := range f.Ops {
		if op == key {
			return true
		}
	}
	return false
}
