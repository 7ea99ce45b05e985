package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Artifact keys shared by the registry, the surfaces and the prompts.
const (
	ArtifactInput              = "input"
	ArtifactUserStories        = "user_stories"
	ArtifactPOReview           = "po_review"
	ArtifactPOSuggestion       = "po_review_suggestion"
	ArtifactDesignDoc          = "design_doc"
	ArtifactDesignReview       = "design_review"
	ArtifactDesignReviewStatus = "design_review_status"
	ArtifactCode               = "code"
	ArtifactCodeReview         = "code_review"
	ArtifactSecurityReview     = "security_review"
	ArtifactTestCases          = "test_cases"
	ArtifactTestCaseReview     = "test_case_review"
	ArtifactQAResult           = "qa_result"
	ArtifactDeploymentStatus   = "deployment_status"
	ArtifactMonitoring         = "monitoring_feedback"
	ArtifactMaintenance        = "maintenance_done"

	// ContextFeedback is the context key carrying operator feedback into a
	// regenerate call. It is never stored.
	ContextFeedback = "feedback"

	approvedValue = "APPROVED"
)

// ArtifactDef describes an artifact's display metadata.
type ArtifactDef struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// artifactOrder lists the export labels in workflow order.
var artifactOrder = []ArtifactDef{
	{ArtifactInput, "Problem Statement"},
	{ArtifactUserStories, "User Stories"},
	{ArtifactPOReview, "PO Review"},
	{ArtifactDesignDoc, "Design Document"},
	{ArtifactDesignReview, "Design Review"},
	{ArtifactCode, "Generated Code"},
	{ArtifactCodeReview, "Code Review"},
	{ArtifactSecurityReview, "Security Review"},
	{ArtifactTestCases, "Test Cases"},
	{ArtifactTestCaseReview, "Test Case Feedback"},
	{ArtifactQAResult, "QA Result"},
	{ArtifactDeploymentStatus, "Deployment Status"},
	{ArtifactMonitoring, "Monitoring"},
	{ArtifactMaintenance, "Maintenance"},
}

// Label returns the human-readable label for an artifact key. Keys without a
// registered label are title-cased from their underscore-separated words.
func Label(key string) string {
	for _, def := range artifactOrder {
		if def.Key == key {
			return def.Label
		}
	}
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ExportFileName derives the download file name for an artifact key.
func ExportFileName(key string) string {
	return strings.ReplaceAll(strings.ToLower(Label(key)), " ", "_") + ".txt"
}

// ArtifactWriter persists artifact values for a run.
type ArtifactWriter interface {
	SaveArtifact(runID string, key, value string) error
}

// Artifacts is the run-owned artifact store. Values are the current draft;
// a Put overwrites in place and no history is kept.
type Artifacts struct {
	mu     sync.RWMutex
	runID  string
	values map[string]string
	writer ArtifactWriter
}

// NewArtifacts creates an empty store for a run. writer may be nil.
func NewArtifacts(runID string, writer ArtifactWriter) *Artifacts {
	return &Artifacts{
		runID:  runID,
		values: make(map[string]string),
		writer: writer,
	}
}

// Get returns the value for key or ErrArtifactNotFound.
func (a *Artifacts) Get(key string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
	}
	return v, nil
}

// Lookup returns the value for key and whether it is present.
func (a *Artifacts) Lookup(key string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Has reports whether key is present.
func (a *Artifacts) Has(key string) bool {
	_, ok := a.Lookup(key)
	return ok
}

// Put stores value under key. The in-memory value is visible immediately even
// when the write-through to the journal fails.
func (a *Artifacts) Put(key, value string) error {
	a.mu.Lock()
	a.values[key] = value
	w := a.writer
	a.mu.Unlock()

	if w != nil {
		if err := w.SaveArtifact(a.runID, key, value); err != nil {
			return fmt.Errorf("persist artifact %s: %w", key, err)
		}
	}
	return nil
}

// Keys returns the present keys, sorted.
func (a *Artifacts) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every artifact.
func (a *Artifacts) Snapshot() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := make(map[string]string, len(a.values))
	for k, v := range a.values {
		cp[k] = v
	}
	return cp
}

// ExportFile is one downloadable artifact.
type ExportFile struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// ExportFiles lists every artifact in the snapshot as a plain-text file.
// Known artifacts come first in workflow order, the rest sorted by key.
func ExportFiles(snapshot map[string]string) []ExportFile {
	files := make([]ExportFile, 0, len(snapshot))
	seen := make(map[string]bool, len(snapshot))
	for _, def := range artifactOrder {
		if v, ok := snapshot[def.Key]; ok {
			files = append(files, ExportFile{Key: def.Key, Label: def.Label, FileName: ExportFileName(def.Key), Content: v})
			seen[def.Key] = true
		}
	}
	var rest []string
	for k := range snapshot {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		files = append(files, ExportFile{Key: k, Label: Label(k), FileName: ExportFileName(k), Content: snapshot[k]})
	}
	return files
}
