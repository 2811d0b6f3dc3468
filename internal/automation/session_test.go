package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeProcs struct {
	alive      map[int]bool
	cmdlines   map[int]string
	terminated []int
}

func (f *fakeProcs) Alive(pid int) bool { return f.alive[pid] }

func (f *fakeProcs) Cmdline(pid int) (string, error) {
	c, ok := f.cmdlines[pid]
	if !ok {
		return "", errors.New("no such process")
	}
	return c, nil
}

func (f *fakeProcs) Terminate(pid int) error {
	f.terminated = append(f.terminated, pid)
	delete(f.alive, pid)
	return nil
}

// fakeLauncher scripts launch outcomes: persistent launches consume
// persistentErrs until it runs dry, ephemeral launches always succeed.
type fakeLauncher struct {
	persistentErrs []error
	launches       []string // profile dirs requested, "" = ephemeral
	driver         *fakeDriver
	cleanups       int
}

func (f *fakeLauncher) launch(ctx context.Context, profileDir string, headless bool, ua string) (*launchResult, error) {
	f.launches = append(f.launches, profileDir)
	if profileDir != "" && len(f.persistentErrs) > 0 {
		err := f.persistentErrs[0]
		f.persistentErrs = f.persistentErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &launchResult{
		driver:  f.driver,
		pid:     4242,
		cleanup: func() { f.cleanups++ },
	}, nil
}

func newTestManager(t *testing.T, launcher *fakeLauncher) (*SessionManager, string) {
	t.Helper()
	dir := makeProfile(t, essentialProfileFiles)
	m := NewSessionManager(dir, true, "test-agent", "https://store.test", true, DefaultCatalog())
	m.procs = &fakeProcs{alive: map[int]bool{}, cmdlines: map[int]string{}}
	m.launch = launcher.launch
	return m, dir
}

func TestSessionManager_SetupHappyPath(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = true
	launcher := &fakeLauncher{driver: d}
	m, dir := newTestManager(t, launcher)

	sess, err := m.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Teardown()

	if !sess.Durable {
		t.Error("persistent session should be durable")
	}
	if sess.LastVerifiedAt.IsZero() {
		t.Error("LastVerifiedAt not set")
	}
	if len(d.navigated) == 0 || d.navigated[0] != "https://store.test" {
		t.Errorf("storage verification did not navigate: %v", d.navigated)
	}

	// The launch is recorded in the pid registry.
	data, err := os.ReadFile(filepath.Join(dir, pidRegistryFile))
	if err != nil {
		t.Fatal(err)
	}
	var rec pidRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.PID != 4242 {
		t.Errorf("recorded pid = %d", rec.PID)
	}
	if rec.Marker != launchMarker(dir) {
		t.Errorf("marker = %q", rec.Marker)
	}
}

func TestSessionManager_ReconcilesOwnedProcessOnly(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = true
	launcher := &fakeLauncher{driver: d}
	m, dir := newTestManager(t, launcher)

	procs := m.procs.(*fakeProcs)
	stale := pidRecord{PID: 999, Marker: launchMarker(dir), StartedAt: time.Now()}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(dir, pidRegistryFile), data, 0644); err != nil {
		t.Fatal(err)
	}
	procs.alive[999] = true
	procs.cmdlines[999] = "/usr/bin/chrome " + launchMarker(dir) + " --headless"

	sess, err := m.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Teardown()

	if len(procs.terminated) != 1 || procs.terminated[0] != 999 {
		t.Errorf("terminated = %v, want [999]", procs.terminated)
	}
}

func TestSessionManager_LeavesRecycledPidAlone(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = true
	launcher := &fakeLauncher{driver: d}
	m, dir := newTestManager(t, launcher)

	procs := m.procs.(*fakeProcs)
	stale := pidRecord{PID: 777, Marker: launchMarker(dir), StartedAt: time.Now()}
	data, _ := json.Marshal(stale)
	_ = os.WriteFile(filepath.Join(dir, pidRegistryFile), data, 0644)
	// Alive, but the pid now belongs to something else entirely.
	procs.alive[777] = true
	procs.cmdlines[777] = "/usr/bin/vim notes.txt"

	sess, err := m.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Teardown()

	if len(procs.terminated) != 0 {
		t.Errorf("terminated unrelated process: %v", procs.terminated)
	}
}

func TestSessionManager_RepairsBrokenProfile(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = true
	launcher := &fakeLauncher{driver: d}

	// Only one essential file: broken.
	dir := makeProfile(t, essentialProfileFiles[:1])
	m := NewSessionManager(dir, true, "", "https://store.test", false, DefaultCatalog())
	m.procs = &fakeProcs{alive: map[int]bool{}, cmdlines: map[int]string{}}
	m.launch = launcher.launch

	sess, err := m.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Teardown()

	// A backup of the broken profile was taken.
	matches, _ := filepath.Glob(dir + "_backup_*")
	if len(matches) == 0 {
		t.Error("no backup created during repair")
	}
}

func TestSessionManager_EphemeralFallbackAfterTwoFailures(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = true
	launcher := &fakeLauncher{
		driver:         d,
		persistentErrs: []error{fmt.Errorf("boom one"), fmt.Errorf("boom two")},
	}
	m, _ := newTestManager(t, launcher)

	sess, err := m.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Teardown()

	if sess.Durable {
		t.Error("ephemeral session must be marked non-durable")
	}
	want := 3 // persistent, persistent retry, ephemeral
	if len(launcher.launches) != want || launcher.launches[2] != "" {
		t.Errorf("launches = %v", launcher.launches)
	}
}

func TestSessionManager_EmitsLifecycleEvents(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = true
	launcher := &fakeLauncher{
		driver:         d,
		persistentErrs: []error{fmt.Errorf("boom one"), fmt.Errorf("boom two")},
	}
	m, _ := newTestManager(t, launcher)
	events := &recordingEvents{}
	m.Events = events

	sess, err := m.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Teardown()

	if got := events.named("session", "ephemeral-fallback"); len(got) != 1 {
		t.Errorf("ephemeral-fallback events = %v", got)
	}
	if got := events.named("session", "setup-ephemeral"); len(got) != 1 {
		t.Errorf("setup-ephemeral events = %v", got)
	}
}

func TestSessionManager_SetupFailsWithoutFallback(t *testing.T) {
	launcher := &fakeLauncher{
		driver:         newFakeDriver(),
		persistentErrs: []error{fmt.Errorf("boom one"), fmt.Errorf("boom two")},
	}
	m, _ := newTestManager(t, launcher)
	m.EphemeralFallback = false

	_, err := m.Setup(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("error = %v, want SetupError", err)
	}
}

func TestSessionManager_StorageVerificationFailure(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = false // localStorage round-trip keeps failing
	launcher := &fakeLauncher{driver: d}
	m, _ := newTestManager(t, launcher)

	_, err := m.Setup(context.Background())
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("error = %v, want SetupError", err)
	}
	if launcher.cleanups != 1 {
		t.Errorf("session not torn down after failed verification (cleanups=%d)", launcher.cleanups)
	}
}

func TestSession_TeardownIsIdempotent(t *testing.T) {
	d := newFakeDriver()
	d.evalBool = true
	launcher := &fakeLauncher{driver: d}
	m, dir := newTestManager(t, launcher)

	sess, err := m.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	sess.Teardown()
	sess.Teardown()

	if launcher.cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", launcher.cleanups)
	}
	if _, err := os.Stat(filepath.Join(dir, pidRegistryFile)); !os.IsNotExist(err) {
		t.Error("pid registry not removed on teardown")
	}
}

func TestSession_AwaitLoginTimeout(t *testing.T) {
	d := newFakeDriver() // no login indicators ever appear
	cat := &Catalog{elements: map[string][]Candidate{
		ElemLoggedInIndicator:  {shortCandidate("#profile", WaitPresent)},
		ElemLoggedOutIndicator: {shortCandidate("#login", WaitPresent)},
	}}
	sess := &Session{driver: d, catalog: cat}

	err := sess.AwaitLogin(context.Background(), 1*time.Millisecond)
	var timeout *AuthenticationTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("error = %v, want AuthenticationTimeout", err)
	}
}

func TestSession_LoggedInPositiveIndicator(t *testing.T) {
	d := newFakeDriver()
	d.allow("#profile")
	cat := &Catalog{elements: map[string][]Candidate{
		ElemLoggedInIndicator:  {shortCandidate("#profile", WaitPresent)},
		ElemLoggedOutIndicator: {shortCandidate("#login", WaitPresent)},
	}}
	sess := &Session{driver: d, catalog: cat}

	if !sess.LoggedIn(context.Background()) {
		t.Error("positive indicator should be trusted")
	}
}
