package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestExtension is appended to <db>_<token> for the manifest file
const ManifestExtension = ".manifest.yaml"

// Manifest records what a session contains. It is written beside the
// archive so the session directory holds only table files. Runs that fail
// after creating their directory write one too, which is how retention finds
// their leftovers.
type Manifest struct {
	RunID         string          `yaml:"run_id"`
	Database      string          `yaml:"database"`
	Token         string          `yaml:"token"`
	ServerVersion string          `yaml:"server_version,omitempty"`
	StartedAt     time.Time       `yaml:"started_at"`
	FinishedAt    time.Time       `yaml:"finished_at"`
	Status        string          `yaml:"status"`
	FatalError    string          `yaml:"fatal_error,omitempty"`
	Compression   string          `yaml:"compression,omitempty"`
	Archive       string          `yaml:"archive,omitempty"`
	Encrypted     bool            `yaml:"encrypted,omitempty"`
	Tables        []ManifestTable `yaml:"tables"`
}

// ManifestTable is one table's entry in the manifest
type ManifestTable struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Status string `yaml:"status"`
	Rows   int    `yaml:"rows"`
	File   string `yaml:"file,omitempty"`
	Stage  string `yaml:"stage,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// ManifestPath returns root/<db>_<token>.manifest.yaml
func ManifestPath(root, database, token string) string {
	return filepath.Join(root, database+"_"+token+ManifestExtension)
}

// NewManifest builds the manifest for a finished run
func NewManifest(summary *Summary) *Manifest {
	m := &Manifest{
		RunID:         summary.RunID,
		Database:      summary.Database,
		Token:         summary.Token,
		ServerVersion: summary.ServerVersion,
		StartedAt:     summary.StartedAt.UTC(),
		FinishedAt:    summary.FinishedAt.UTC(),
		Status:        summary.Status(),
		FatalError:    summary.FatalError,
	}
	if summary.Archive != nil {
		m.Compression = string(summary.Archive.Compression)
		m.Archive = filepath.Base(summary.Archive.Path)
		m.Encrypted = summary.Archive.Encrypted
	}

	for _, r := range summary.Tables {
		entry := ManifestTable{
			Name:   r.Table.Name,
			Kind:   r.Table.Kind,
			Status: "ok",
			Rows:   r.Rows,
		}
		if r.File != "" {
			entry.File = filepath.Base(r.File)
		}
		if r.Failure != nil {
			entry.Status = "failed"
			entry.Stage = string(r.Failure.Stage)
			entry.Error = r.Failure.Error
		}
		m.Tables = append(m.Tables, entry)
	}
	return m
}

// WriteManifest stores m as YAML at path
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}
