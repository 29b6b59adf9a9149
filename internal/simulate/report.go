package simulate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"curvePool/internal/model"
)

// Report is the outcome of a scenario run together with the final pool records.
type Report struct {
	Summary   Summary            `json:"summary"`
	Pools     []model.PoolRecord `json:"pools"`
	UpdatedAt string             `json:"updated_at"`
}

// ReportStore persists reports to disk.
type ReportStore struct {
	path    string
	enabled bool
}

func NewReportStore(path string) *ReportStore {
	return &ReportStore{path: path, enabled: path != ""}
}

func (c *ReportStore) Load() (Report, bool, error) {
	if !c.enabled {
		return Report{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, false, nil
		}
		return Report{}, false, fmt.Errorf("stat report: %w", err)
	}
	if stat.IsDir() {
		return Report{}, false, fmt.Errorf("report path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Report{}, false, fmt.Errorf("read report: %w", err)
	}

	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return Report{}, false, fmt.Errorf("parse report: %w", err)
	}

	return rep, true, nil
}

// Save writes the report through a temp file and rename so readers never see a
// partial file.
func (c *ReportStore) Save(summary Summary, pools []model.PoolRecord) error {
	if !c.enabled {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	rep := Report{
		Summary:   summary,
		Pools:     pools,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write report tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}

	return nil
}
