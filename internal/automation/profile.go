package automation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// essentialProfileFiles are the Chrome state files a persisted login depends
// on. A profile missing three or more of them is considered broken; missing
// one or two it is degraded but usable (Chrome recreates them).
var essentialProfileFiles = []string{
	filepath.Join("Default", "Preferences"),
	filepath.Join("Default", "Cookies"),
	filepath.Join("Default", "Login Data"),
	filepath.Join("Default", "Web Data"),
}

const brokenProfileThreshold = 3

// ProfileReport describes the state of a profile directory.
type ProfileReport struct {
	Dir          string
	Exists       bool
	MissingFiles []string
	Writable     bool
}

// Intact reports whether the profile is usable as-is.
func (r ProfileReport) Intact() bool {
	return r.Exists && len(r.MissingFiles) < brokenProfileThreshold
}

// InspectProfile checks the profile directory for the essential state files
// and write access.
func InspectProfile(dir string) ProfileReport {
	report := ProfileReport{Dir: dir}

	if _, err := os.Stat(dir); err != nil {
		report.MissingFiles = append([]string(nil), essentialProfileFiles...)
		return report
	}
	report.Exists = true

	for _, rel := range essentialProfileFiles {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			report.MissingFiles = append(report.MissingFiles, rel)
		}
	}

	report.Writable = dirWritable(dir)
	return report
}

// EnsureProfileDir creates the profile directory if needed and verifies it is
// writable.
func EnsureProfileDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	if !dirWritable(dir) {
		return fmt.Errorf("profile directory %s is not writable", dir)
	}
	return nil
}

// RepairProfile backs up the profile directory, removes it and recreates it
// empty. The backup path is returned when one was made. A missing profile is
// not an error: there is nothing to repair.
func RepairProfile(dir string) (string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", EnsureProfileDir(dir)
	}

	backup := fmt.Sprintf("%s_backup_%d", dir, time.Now().Unix())
	if err := copyTree(dir, backup); err != nil {
		// A failed backup is logged upstream but does not block the repair:
		// the profile is already unusable.
		backup = ""
	}

	if err := os.RemoveAll(dir); err != nil {
		return backup, fmt.Errorf("remove broken profile: %w", err)
	}
	if err := EnsureProfileDir(dir); err != nil {
		return backup, err
	}
	return backup, nil
}

// RestoreProfile replaces the profile directory with the contents of a backup
// previously produced by RepairProfile.
func RestoreProfile(dir, backup string) error {
	if _, err := os.Stat(backup); err != nil {
		return fmt.Errorf("backup %s not found: %w", backup, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove current profile: %w", err)
	}
	return copyTree(backup, dir)
}

func dirWritable(dir string) bool {
	probe := filepath.Join(dir, ".write-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0644); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if !info.Mode().IsRegular() {
			// Sockets and the like inside a live profile are skipped.
			return nil
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}
