package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetguardian/internal/identifier"
)

// LinkRecord is the agent's cached link, kept between restarts.
type LinkRecord struct {
	DeviceID       string    `yaml:"device_id"`
	Plate          string    `yaml:"plate"`
	OrganizationID string    `yaml:"organization_id"`
	BranchID       string    `yaml:"branch_id"`
	LinkedAt       time.Time `yaml:"linked_at"`
}

// LoadLinkRecord reads the cached link at path. A missing file, or one whose
// device id is not canonical, yields nil with no error.
func LoadLinkRecord(path string) (*LinkRecord, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent: read link state: %w", err)
	}
	var rec LinkRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("agent: parse link state: %w", err)
	}
	id, err := identifier.Parse(rec.DeviceID)
	if err != nil {
		return nil, nil
	}
	rec.DeviceID = id
	return &rec, nil
}

// SaveLinkRecord writes rec to path, creating the directory if needed.
func SaveLinkRecord(path string, rec LinkRecord) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("agent: empty link state path")
	}
	id, err := identifier.Parse(rec.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDevice, err)
	}
	rec.DeviceID = id
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("agent: create state dir: %w", err)
		}
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
