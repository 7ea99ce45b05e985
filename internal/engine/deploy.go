package engine

import (
	"context"
	"fmt"
)

// Fixed file names of the deployment bundle.
const (
	BundleReadme    = "README.md"
	BundleCode      = "code.py"
	BundleDesignDoc = "design_doc.md"
	BundleTestCases = "test_cases.txt"
	BundleQAResult  = "qa_result.txt"

	bundleReadmeText = "# AI SDLC Deployment\nThis repo was created by the SDLC assistant."
	bundleNoCode     = "# No code found."
)

// PublishTarget identifies where the bundle goes.
type PublishTarget struct {
	Repo       string `json:"repo"`
	Credential string `json:"credential,omitempty"`
	Branch     string `json:"branch,omitempty"`
}

// Publisher pushes files to an external repository. It returns a
// human-readable location on success.
type Publisher interface {
	Publish(ctx context.Context, target PublishTarget, files map[string]string) (string, error)
}

// Bundle assembles the deployment files from a snapshot. Absent artifacts
// fall back to placeholder text; the bundle never fails.
func Bundle(snapshot map[string]string) map[string]string {
	get := func(key, fallback string) string {
		if v, ok := snapshot[key]; ok {
			return v
		}
		return fallback
	}
	return map[string]string{
		BundleReadme:    bundleReadmeText,
		BundleCode:      get(ArtifactCode, bundleNoCode),
		BundleDesignDoc: get(ArtifactDesignDoc, ""),
		BundleTestCases: get(ArtifactTestCases, ""),
		BundleQAResult:  get(ArtifactQAResult, ""),
	}
}

func deployedStatus(repo string) string {
	return fmt.Sprintf("Deployed to GitHub repo: %s", repo)
}
