package automation

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"
)

// CookieReport summarizes the profile's cookie store. Chrome keeps cookies in
// a SQLite database; a populated store is the strongest signal that a saved
// login session survived a restart.
type CookieReport struct {
	Path  string
	Count int
	Hosts []string
}

const maxReportedHosts = 10

// InspectCookieStore opens the profile's cookie database read-only and
// reports the cookie count plus a sample of host keys. It must only be used
// while no browser holds the profile, since Chrome locks the database.
func InspectCookieStore(profileDir string) (*CookieReport, error) {
	path := filepath.Join(profileDir, "Default", "Cookies")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cookie store not found: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open cookie store: %w", err)
	}
	defer db.Close()

	report := &CookieReport{Path: path}

	if err := db.QueryRow(`SELECT COUNT(*) FROM cookies`).Scan(&report.Count); err != nil {
		return nil, fmt.Errorf("count cookies: %w", err)
	}

	rows, err := db.Query(`SELECT DISTINCT host_key FROM cookies ORDER BY host_key LIMIT ?`, maxReportedHosts)
	if err != nil {
		return nil, fmt.Errorf("list cookie hosts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, err
		}
		report.Hosts = append(report.Hosts, host)
	}
	return report, rows.Err()
}
