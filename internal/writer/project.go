// Package writer owns the on-disk project layout: one directory per
// project holding the project record, the assembled book and the run log.
package writer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lamim/bookforge/pkg/models"
)

// ProjectManager manages one project's directory and files.
type ProjectManager struct {
	projectDir string
	logger     *slog.Logger
}

// NewProjectManager opens or creates the directory for one project under
// the output root. When resuming, the directory must already exist.
func NewProjectManager(logger *slog.Logger, outputDir, projectID string, resume bool) (*ProjectManager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	projectDir := filepath.Join(outputDir, projectID)
	if resume {
		if _, err := os.Stat(projectDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("project directory not found: %s", projectDir)
		}
		logger.Info("Resuming from existing project directory", "path", projectDir)
	} else {
		if err := os.MkdirAll(projectDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create project directory: %w", err)
		}
		logger.Info("Created project directory", "path", projectDir)
	}

	return &ProjectManager{
		projectDir: projectDir,
		logger:     logger,
	}, nil
}

// GetProjectDir returns the project directory path.
func (pm *ProjectManager) GetProjectDir() string {
	return pm.projectDir
}

// GetRecordPath returns the full path to the project record.
func (pm *ProjectManager) GetRecordPath() string {
	return filepath.Join(pm.projectDir, "project.json")
}

// GetBookPath returns the full path to the assembled book.
func (pm *ProjectManager) GetBookPath() string {
	return filepath.Join(pm.projectDir, "book.md")
}

// GetLogPath returns the full path to the project log file.
func (pm *ProjectManager) GetLogPath() string {
	return filepath.Join(pm.projectDir, "project.log")
}

// GetSessionPath returns the full path to the saved session parameters.
func (pm *ProjectManager) GetSessionPath() string {
	return filepath.Join(pm.projectDir, "session.json")
}

// SaveSession persists the generation parameters so a later resume or
// retry runs against the same session the checkpoint was hashed for.
func (pm *ProjectManager) SaveSession(session models.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(pm.GetSessionPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// LoadSession reads the saved session parameters back.
func (pm *ProjectManager) LoadSession() (models.Session, error) {
	var session models.Session
	data, err := os.ReadFile(pm.GetSessionPath())
	if err != nil {
		return session, fmt.Errorf("failed to read session file: %w", err)
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return session, fmt.Errorf("failed to parse session file: %w", err)
	}
	return session, nil
}

// SaveProject writes the project record atomically so a crash mid-write
// never leaves a truncated record behind.
func (pm *ProjectManager) SaveProject(project *models.Project) error {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project record: %w", err)
	}

	tmpPath := pm.GetRecordPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write project record: %w", err)
	}
	if err := os.Rename(tmpPath, pm.GetRecordPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize project record: %w", err)
	}
	return nil
}

// LoadProject reads the project record back.
func (pm *ProjectManager) LoadProject() (*models.Project, error) {
	data, err := os.ReadFile(pm.GetRecordPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read project record: %w", err)
	}

	var project models.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to parse project record: %w", err)
	}
	return &project, nil
}

// SaveBook writes the assembled markdown artifact.
func (pm *ProjectManager) SaveBook(content string) error {
	if err := os.WriteFile(pm.GetBookPath(), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write book file: %w", err)
	}
	pm.logger.Info("Wrote assembled book", "path", pm.GetBookPath())
	return nil
}

// ListProjects returns the project ids present under the output root.
func ListProjects(outputDir string) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(outputDir, e.Name(), "project.json")); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
