package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yalochat/sdlc-assistant/internal/engine"
	"github.com/yalochat/sdlc-assistant/internal/store"
)

var (
	exportRunID string
	exportDir   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a finished run's artifacts from the journal",
	Long: `Write every artifact of a run that reached the terminal stage as a
plain-text file. Needs store.path to point at the run journal.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "Run ID (required)")
	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "Destination directory")
	exportCmd.MarkFlagRequired("run")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is not set; nothing was journaled")
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	files, err := exportRun(st, exportRunID)
	if err != nil {
		return err
	}
	return writeExport(exportDir, files)
}

// exportRun loads a journaled run; only runs on the terminal stage export.
func exportRun(st store.Store, runID string) ([]engine.ExportFile, error) {
	rs, err := st.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if engine.Stage(rs.Stage) != engine.DefaultRegistry().Terminal().Name {
		return nil, fmt.Errorf("%w: run %s is at %s", engine.ErrExportUnavailable, runID, rs.Stage)
	}
	artifacts, err := st.LoadArtifacts(runID)
	if err != nil {
		return nil, err
	}
	return engine.ExportFiles(artifacts), nil
}

func writeExport(dir string, files []engine.ExportFile) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, f := range files {
		path := filepath.Join(dir, f.FileName)
		if err := os.WriteFile(path, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		printStatus("✓", fmt.Sprintf("%s → %s", f.Label, path), color.FgGreen)
	}
	return nil
}
