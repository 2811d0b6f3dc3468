package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kiranatap/kirana/internal/automation"
)

// kiranactl is the operator's sidecar: inspect, repair and restore the
// browser profile the ordering service depends on, without starting it.

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: kiranactl <command> [flags]

Commands:
  doctor    inspect the profile and its cookie store
  repair    back up a broken profile and recreate it empty
  restore   replace the profile with a previously taken backup

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	profileDir := flag.String("profile", "./chrome-profile", "browser profile directory")
	backup := flag.String("backup", "", "backup directory to restore from (restore only)")
	flag.Usage = usage

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	if err := flag.CommandLine.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	var err error
	switch cmd {
	case "doctor":
		err = doctor(*profileDir)
	case "repair":
		err = repair(*profileDir)
	case "restore":
		err = restore(*profileDir, *backup)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func doctor(dir string) error {
	report := automation.InspectProfile(dir)

	fmt.Printf("Profile: %s\n", report.Dir)
	if !report.Exists {
		fmt.Println("  does not exist yet; it will be created on first launch")
		return nil
	}

	if report.Intact() {
		fmt.Println("  integrity: OK")
	} else {
		fmt.Println("  integrity: BROKEN (run `kiranactl repair`)")
	}
	if len(report.MissingFiles) > 0 {
		fmt.Printf("  missing files: %s\n", strings.Join(report.MissingFiles, ", "))
	}
	fmt.Printf("  writable: %v\n", report.Writable)

	cookies, err := automation.InspectCookieStore(dir)
	if err != nil {
		fmt.Printf("  cookie store: unreadable (%v)\n", err)
		return nil
	}
	fmt.Printf("  cookie store: %d cookies\n", cookies.Count)
	if len(cookies.Hosts) > 0 {
		fmt.Printf("  sample hosts: %s\n", strings.Join(cookies.Hosts, ", "))
	}
	if cookies.Count == 0 {
		fmt.Println("  note: no cookies means no saved login; expect a manual login on the next order")
	}
	return nil
}

func repair(dir string) error {
	backup, err := automation.RepairProfile(dir)
	if err != nil {
		return err
	}
	if backup != "" {
		fmt.Printf("profile recreated; previous contents backed up to %s\n", backup)
	} else {
		fmt.Println("profile recreated")
	}
	return nil
}

func restore(dir, backup string) error {
	if backup == "" {
		return fmt.Errorf("restore requires -backup")
	}
	if err := automation.RestoreProfile(dir, backup); err != nil {
		return err
	}
	fmt.Printf("profile restored from %s\n", backup)
	return nil
}
