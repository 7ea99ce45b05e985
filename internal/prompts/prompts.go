package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yalochat/sdlc-assistant/internal/engine"
)

// promptsDir is the directory containing prompt template files.
var promptsDir = "prompts"

// SetPromptsDir overrides the default prompts directory.
func SetPromptsDir(dir string) {
	promptsDir = dir
}

var builders = map[string]func(in map[string]string) string{
	engine.TaskRequirement: func(in map[string]string) string {
		return Requirement(in[engine.ArtifactInput])
	},
	engine.TaskProductOwnerReview: func(in map[string]string) string {
		return ProductOwnerReview(in[engine.ArtifactUserStories])
	},
	engine.TaskDesign: func(in map[string]string) string {
		return Design(in[engine.ArtifactInput], in[engine.ArtifactUserStories], in[engine.ArtifactPOReview])
	},
	engine.TaskDesignReview: func(in map[string]string) string {
		return DesignReview(in[engine.ArtifactDesignDoc])
	},
	engine.TaskCodeGeneration: func(in map[string]string) string {
		return CodeGeneration(in[engine.ArtifactDesignDoc])
	},
	engine.TaskCodeReview: func(in map[string]string) string {
		return CodeReview(in[engine.ArtifactCode])
	},
	engine.TaskSecurityReview: func(in map[string]string) string {
		return SecurityReview(in[engine.ArtifactCode])
	},
	engine.TaskTestCaseGeneration: func(in map[string]string) string {
		return TestCaseGeneration(in[engine.ArtifactCode], in[engine.ContextFeedback])
	},
	engine.TaskTestCaseReview: func(in map[string]string) string {
		return TestCaseReview(in[engine.ArtifactTestCases])
	},
	engine.TaskQATesting: func(in map[string]string) string {
		return QATesting(in[engine.ArtifactTestCases], in[engine.ArtifactCode])
	},
	engine.TaskMonitoring: func(map[string]string) string {
		return Monitoring()
	},
	engine.TaskMaintenance: func(in map[string]string) string {
		return Maintenance(in[engine.ArtifactMonitoring])
	},
}

// Build returns the prompt for an agent task built from its input context.
func Build(task string, input map[string]string) (string, error) {
	b, ok := builders[task]
	if !ok {
		return "", fmt.Errorf("no prompt for task %q", task)
	}
	return b(input), nil
}

// Requirement turns a free-text problem statement into user stories.
func Requirement(input string) string {
	if tmpl := loadTemplate("requirement.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"input": input})
	}

	return fmt.Sprintf(`You are a senior business analyst. Convert the following software requirement into a set of user stories.

## Requirement
%s

## Instructions
1. Write each story as "As a <role>, I want <capability> so that <benefit>".
2. Add acceptance criteria under every story as a bullet list.
3. Group stories by feature area and keep them independent and testable.

Output only the user stories in Markdown.`, input)
}

// ProductOwnerReview asks for a product owner critique of the stories.
func ProductOwnerReview(userStories string) string {
	if tmpl := loadTemplate("product_owner_review.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"user_stories": userStories})
	}

	return fmt.Sprintf(`You are an experienced product owner. Review the user stories below for completeness, clarity and business value.

## User Stories
%s

## Instructions
Point out missing stories, ambiguous acceptance criteria and priority concerns. Then propose a revised version of the stories that addresses your comments.`, userStories)
}

// Design produces the technical design document.
func Design(input, userStories, poReview string) string {
	if tmpl := loadTemplate("design.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{
			"input":        input,
			"user_stories": userStories,
			"po_review":    poReview,
		})
	}

	return fmt.Sprintf(`You are a senior software architect. Write a design document for the following project.

## Requirement
%s

## User Stories
%s

## Product Owner Review
%s

## Instructions
Cover these sections:
1. **Overview**: what is being built and why
2. **Architecture**: components and how they interact
3. **Data Model**: entities and their fields
4. **Interfaces**: APIs or user-facing entry points
5. **Risks**: open questions and mitigations

Output the document in Markdown.`, input, userStories, poReview)
}

// DesignReview critiques a design document.
func DesignReview(designDoc string) string {
	if tmpl := loadTemplate("design_review.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"design_doc": designDoc})
	}

	return fmt.Sprintf(`You are a principal engineer reviewing a design document.

## Design Document
%s

## Instructions
Assess scalability, maintainability, security and gaps against the stated requirements. List concrete, actionable recommendations.`, designDoc)
}

// CodeGeneration writes the implementation from the design.
func CodeGeneration(designDoc string) string {
	if tmpl := loadTemplate("code_generation.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"design_doc": designDoc})
	}

	return fmt.Sprintf(`You are a senior Python developer. Implement the design document below as a single, runnable Python module.

## Design Document
%s

## Instructions
- Follow the design closely and keep functions small.
- Include docstrings and input validation.
- Return the complete code in one fenced `+"```python"+` block.`, designDoc)
}

// CodeReview reviews generated code for quality.
func CodeReview(code string) string {
	if tmpl := loadTemplate("code_review.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"code": code})
	}

	return fmt.Sprintf(`You are a meticulous code reviewer. Review the following code for correctness, readability and adherence to best practices.

`+"```python"+`
%s
`+"```"+`

List each finding with its severity (HIGH, MEDIUM, LOW) and a suggested fix.`, code)
}

// SecurityReview reviews generated code for vulnerabilities.
func SecurityReview(code string) string {
	if tmpl := loadTemplate("security_review.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"code": code})
	}

	return fmt.Sprintf(`You are an application security engineer. Audit the following code for vulnerabilities such as injection, unsafe deserialization, secrets in code and missing input validation.

`+"```python"+`
%s
`+"```"+`

For each issue give the risk, the affected lines and a remediation.`, code)
}

// TestCaseGeneration writes test cases for code. A non-empty feedback asks
// for a revision that addresses it.
func TestCaseGeneration(code, feedback string) string {
	if tmpl := loadTemplate("test_case_generation.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"code": code, "feedback": feedback})
	}

	prompt := fmt.Sprintf(`You are a QA engineer. Write test cases for the following code.

`+"```python"+`
%s
`+"```"+`

## Instructions
Cover the happy path, edge cases and error handling. For each case give an ID, a description, the input and the expected result.`, code)

	if strings.TrimSpace(feedback) != "" {
		prompt += fmt.Sprintf(`

## Reviewer Feedback
%s

Revise the test cases so that every point of the feedback is addressed.`, feedback)
	}
	return prompt
}

// TestCaseReview reviews a set of test cases.
func TestCaseReview(testCases string) string {
	if tmpl := loadTemplate("test_case_review.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"test_cases": testCases})
	}

	return fmt.Sprintf(`You are a QA lead. Review the following test cases for coverage gaps, redundancy and unclear expectations.

## Test Cases
%s

Give concise, actionable feedback.`, testCases)
}

// QATesting simulates executing the test cases against the code.
func QATesting(testCases, code string) string {
	if tmpl := loadTemplate("qa_testing.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"test_cases": testCases, "code": code})
	}

	return fmt.Sprintf(`You are a QA tester. Walk through each test case against the code and report whether it would pass.

## Test Cases
%s

## Code
`+"```python"+`
%s
`+"```"+`

Report a table of test ID, PASS or FAIL and notes, followed by a short summary.`, testCases, code)
}

// Monitoring drafts a monitoring plan. It reads no artifacts.
func Monitoring() string {
	if tmpl := loadTemplate("monitoring.md"); tmpl != "" {
		return tmpl
	}

	return `You are a site reliability engineer. The application has just been deployed.

Describe a monitoring setup: key metrics, logs to collect, alert thresholds and dashboards. Then list the issues you would expect to surface in the first weeks of production and how they would be detected.`
}

// Maintenance plans follow-up work from monitoring feedback.
func Maintenance(monitoringFeedback string) string {
	if tmpl := loadTemplate("maintenance.md"); tmpl != "" {
		return interpolate(tmpl, map[string]string{"monitoring_feedback": monitoringFeedback})
	}

	return fmt.Sprintf(`You are the maintenance engineer for this application.

## Monitoring Feedback
%s

## Instructions
Propose a maintenance plan: bug fixes, performance work, dependency updates and refactoring, each with a priority.`, monitoringFeedback)
}

func loadTemplate(name string) string {
	path := filepath.Join(promptsDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func interpolate(tmpl string, vars map[string]string) string {
	result := tmpl
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return result
}
