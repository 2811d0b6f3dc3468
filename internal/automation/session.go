package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
)

// pidRegistryFile sits inside the profile directory and records the one
// browser process this system launched against that profile. Reconciliation
// only ever considers processes named here; the wider process table is never
// scanned.
const pidRegistryFile = "automation.pid.json"

type pidRecord struct {
	PID       int       `json:"pid"`
	Marker    string    `json:"marker"`
	StartedAt time.Time `json:"started_at"`
}

// processControl abstracts the host's view of a single process so session
// tests can run without spawning anything.
type processControl interface {
	Alive(pid int) bool
	Cmdline(pid int) (string, error)
	Terminate(pid int) error
}

type hostProcessControl struct{}

func (hostProcessControl) Alive(pid int) bool {
	// Signal 0 probes for existence without delivering anything.
	return syscall.Kill(pid, 0) == nil
}

func (hostProcessControl) Cmdline(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "\x00", " "), nil
}

func (hostProcessControl) Terminate(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return err
	}
	// Give the browser a moment to flush profile state before forcing.
	for i := 0; i < 20; i++ {
		if syscall.Kill(pid, 0) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}

// launchResult is what a browser launch hands back to the manager.
type launchResult struct {
	driver  PageDriver
	pid     int
	cleanup func()
}

type launchFunc func(ctx context.Context, profileDir string, headless bool, userAgent string) (*launchResult, error)

// Session is one browser identity bound to exactly one automation process.
type Session struct {
	ProfileDir     string
	Durable        bool
	LastVerifiedAt time.Time

	driver   PageDriver
	catalog  *Catalog
	cleanup  func()
	registry string
	once     sync.Once
}

// Driver exposes the session's page driver to the pipeline.
func (s *Session) Driver() PageDriver { return s.driver }

// SessionManager owns browser process and profile lifecycle.
type SessionManager struct {
	ProfileDir        string
	Headless          bool
	UserAgent         string
	BaseURL           string
	EphemeralFallback bool

	Catalog *Catalog

	// Events receives session lifecycle notifications. Optional.
	Events EventLogger

	procs  processControl
	launch launchFunc
}

func NewSessionManager(profileDir string, headless bool, userAgent, baseURL string, ephemeralFallback bool, catalog *Catalog) *SessionManager {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &SessionManager{
		ProfileDir:        profileDir,
		Headless:          headless,
		UserAgent:         userAgent,
		BaseURL:           baseURL,
		EphemeralFallback: ephemeralFallback,
		Catalog:           catalog,
		procs:             hostProcessControl{},
		launch:            launchChrome,
	}
}

func (m *SessionManager) notify(event, detail string) {
	if m.Events != nil {
		m.Events.LogSession(event, detail)
	}
}

// Setup reconciles stale automation processes, checks and if needed repairs
// the profile, launches a browser bound to it and verifies that browser-local
// persistent storage works. Two persistent-profile launch failures fall back
// to an ephemeral session when enabled.
func (m *SessionManager) Setup(ctx context.Context) (*Session, error) {
	abs, err := filepath.Abs(m.ProfileDir)
	if err != nil {
		return nil, &SetupError{Reason: "resolve profile path", Err: err}
	}

	m.reconcileOwnedProcesses(abs)

	if report := InspectProfile(abs); report.Exists && !report.Intact() {
		log.Printf("profile %s is broken (%d essential files missing), repairing", abs, len(report.MissingFiles))
		if backup, err := RepairProfile(abs); err != nil {
			return nil, &SetupError{Reason: "profile repair failed", Err: err}
		} else if backup != "" {
			log.Printf("broken profile backed up to %s", backup)
			m.notify("profile-repair", backup)
		}
	}

	if err := EnsureProfileDir(abs); err != nil {
		return nil, &SetupError{Reason: "profile directory not usable", Err: err}
	}

	res, durable, err := m.launchWithFallback(ctx, abs)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ProfileDir: abs,
		Durable:    durable,
		driver:     res.driver,
		catalog:    m.Catalog,
		cleanup:    res.cleanup,
	}
	if durable {
		sess.registry = filepath.Join(abs, pidRegistryFile)
		m.recordOwnedProcess(abs, res.pid)
	}

	if err := m.verifyStorage(ctx, sess); err != nil {
		sess.Teardown()
		return nil, &SetupError{Reason: "browser storage verification failed", Err: err}
	}
	sess.LastVerifiedAt = time.Now()

	if durable {
		m.notify("setup", abs)
	} else {
		m.notify("setup-ephemeral", abs)
	}
	return sess, nil
}

// launchWithFallback tries the persistent profile twice (repairing between
// attempts) and then, when allowed, an ephemeral session.
func (m *SessionManager) launchWithFallback(ctx context.Context, profileDir string) (*launchResult, bool, error) {
	res, err := m.launch(ctx, profileDir, m.Headless, m.UserAgent)
	if err == nil {
		return res, true, nil
	}
	log.Printf("browser launch with persistent profile failed: %v, repairing and retrying", err)

	if backup, rerr := RepairProfile(profileDir); rerr != nil {
		log.Printf("profile repair during launch retry failed: %v", rerr)
	} else if backup != "" {
		log.Printf("profile backed up to %s before retry", backup)
	}

	res, retryErr := m.launch(ctx, profileDir, m.Headless, m.UserAgent)
	if retryErr == nil {
		return res, true, nil
	}

	if !m.EphemeralFallback {
		return nil, false, &SetupError{Reason: "browser launch failed twice", Err: retryErr}
	}

	log.Printf("persistent launch failed twice, falling back to ephemeral session: %v", retryErr)
	m.notify("ephemeral-fallback", retryErr.Error())
	res, ephErr := m.launch(ctx, "", m.Headless, m.UserAgent)
	if ephErr != nil {
		return nil, false, &SetupError{Reason: "ephemeral fallback launch failed", Err: ephErr}
	}
	return res, false, nil
}

// reconcileOwnedProcesses terminates a previously recorded automation browser
// if it is still alive and still carries this profile's launch marker. A pid
// whose command line no longer matches was recycled by the OS and is left alone.
func (m *SessionManager) reconcileOwnedProcesses(profileDir string) {
	path := filepath.Join(profileDir, pidRegistryFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	defer os.Remove(path)

	var rec pidRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Printf("discarding unreadable pid registry %s: %v", path, err)
		return
	}
	if rec.PID <= 0 || !m.procs.Alive(rec.PID) {
		return
	}

	cmdline, err := m.procs.Cmdline(rec.PID)
	if err != nil || !strings.Contains(cmdline, rec.Marker) {
		// Not our process anymore.
		return
	}

	log.Printf("terminating stale automation browser pid %d for profile %s", rec.PID, profileDir)
	m.notify("reconcile", fmt.Sprintf("terminating stale browser pid %d", rec.PID))
	if err := m.procs.Terminate(rec.PID); err != nil {
		log.Printf("failed to terminate stale browser pid %d: %v", rec.PID, err)
	}
}

func (m *SessionManager) recordOwnedProcess(profileDir string, pid int) {
	if pid <= 0 {
		return
	}
	rec := pidRecord{
		PID:       pid,
		Marker:    launchMarker(profileDir),
		StartedAt: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	path := filepath.Join(profileDir, pidRegistryFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Printf("failed to write pid registry %s: %v", path, err)
	}
}

// launchMarker is the launch-argument marker identifying processes this
// system owns: the exact user-data-dir argument it launches browsers with.
func launchMarker(profileDir string) string {
	return "--user-data-dir=" + profileDir
}

const storageProbeJS = `(() => {
	try {
		localStorage.setItem('__kirana_probe', 'ok');
		const v = localStorage.getItem('__kirana_probe');
		localStorage.removeItem('__kirana_probe');
		return v === 'ok';
	} catch (e) {
		return false;
	}
})()`

// verifyStorage confirms the session reads and writes browser-local
// persistent storage, retrying once. localStorage needs a real origin, so the
// probe runs on the target site.
func (m *SessionManager) verifyStorage(ctx context.Context, sess *Session) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := sess.driver.Navigate(navCtx, m.BaseURL)
		cancel()
		if err != nil {
			lastErr = &NavigationError{URL: m.BaseURL, Err: err}
			continue
		}

		var ok bool
		evalCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = sess.driver.Eval(evalCtx, storageProbeJS, &ok)
		cancel()
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("localStorage round-trip returned false")
		}
	}
	return lastErr
}

// LoggedIn is a heuristic check for authenticated-state indicators. A
// positive match is trusted; a negative result is unreliable and callers
// should fall back to AwaitLogin.
func (s *Session) LoggedIn(ctx context.Context) bool {
	if _, err := Resolve(ctx, s.driver, ElemLoggedInIndicator, s.catalog.Candidates(ElemLoggedInIndicator), 15*time.Second); err == nil {
		return true
	}
	// Seeing a login button is a strong negative signal.
	if _, err := Resolve(ctx, s.driver, ElemLoggedOutIndicator, s.catalog.Candidates(ElemLoggedOutIndicator), 10*time.Second); err == nil {
		return false
	}
	// Undetermined: assume not logged in.
	return false
}

const loginPollInterval = 5 * time.Second

// AwaitLogin polls for a manual authentication step to complete, up to
// timeout. Expiry is not fatal: an AuthenticationTimeout is returned for the
// pipeline to record, and the purchase proceeds regardless.
func (s *Session) AwaitLogin(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()

	for {
		if s.LoggedIn(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return &AuthenticationTimeout{Waited: timeout.String()}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Teardown releases the browser process and the pid registry entry. Safe to
// call more than once; only the first call acts.
func (s *Session) Teardown() {
	s.once.Do(func() {
		if s.cleanup != nil {
			s.cleanup()
		}
		if s.registry != "" {
			_ = os.Remove(s.registry)
		}
	})
}

// launchChrome starts a Chrome process via chromedp. An empty profileDir
// launches an ephemeral session on a throwaway user-data-dir.
func launchChrome(ctx context.Context, profileDir string, headless bool, userAgent string) (*launchResult, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("start-maximized", true),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	cleanup := func() {
		tabCancel()
		allocCancel()
	}

	// Force the browser to actually start so launch failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		cleanup()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	pid := 0
	if c := chromedp.FromContext(tabCtx); c != nil && c.Browser != nil {
		if proc := c.Browser.Process(); proc != nil {
			pid = proc.Pid
		}
	}

	return &launchResult{
		driver:  newChromeDriver(tabCtx),
		pid:     pid,
		cleanup: cleanup,
	}, nil
}
