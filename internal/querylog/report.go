package querylog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// ReportFileName is the run report kept in the backup directory.
const ReportFileName = ".logsync.stats"

// InstanceRun is the last successful sync of one instance.
type InstanceRun struct {
	RunID   string    `json:"run_id"`
	At      time.Time `json:"at"`
	Shards  int       `json:"shards"`
	Records int64     `json:"records"`
	Bytes   int64     `json:"bytes"`
	Digest  string    `json:"digest"`
}

// Report holds the last run of every instance sharing a backup directory.
type Report struct {
	Instances map[string]InstanceRun `json:"instances"`
}

// LoadReport reads the report from backupDir. A missing or corrupted file
// yields an empty report.
func LoadReport(backupDir string) Report {
	r := Report{Instances: make(map[string]InstanceRun)}

	data, err := os.ReadFile(filepath.Join(backupDir, ReportFileName))
	if err != nil {
		return r
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{Instances: make(map[string]InstanceRun)}
	}
	if r.Instances == nil {
		r.Instances = make(map[string]InstanceRun)
	}
	return r
}

// RecordRun stores run for name and saves the report atomically.
// Callers serialize through WithLock.
func RecordRun(backupDir, name string, run InstanceRun) error {
	r := LoadReport(backupDir)
	r.Instances[name] = run
	return SaveReport(backupDir, r)
}

// SaveReport writes the report via a temp file and rename.
func SaveReport(backupDir string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(backupDir, ReportFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
