package llm

import (
	"fmt"
	"strings"

	"github.com/applyforge/applyforge/internal/store"
)

var heuristicKeywords = []string{"python", "sql", "aws", "javascript", "leadership", "communication"}

// heuristicJobAnalysis extracts a rough job analysis with keyword scanning.
// Used when every LLM provider is unreachable so a run can still progress.
func heuristicJobAnalysis(jobText string) JobAnalysis {
	var lines []string
	for _, line := range strings.Split(jobText, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	title := "Unknown Title"
	if len(lines) > 0 {
		title = lines[0]
	}

	var responsibilities, requirements []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "responsib") && len(responsibilities) < 8 {
			responsibilities = append(responsibilities, line)
		}
		if (strings.Contains(lower, "require") || strings.Contains(lower, "qualif")) && len(requirements) < 8 {
			requirements = append(requirements, line)
		}
	}
	if len(responsibilities) == 0 {
		responsibilities = sliceLines(lines, 1, 5)
	}
	if len(requirements) == 0 {
		requirements = sliceLines(lines, 5, 10)
	}

	var keywords []string
	lowerText := strings.ToLower(jobText)
	for _, token := range heuristicKeywords {
		if strings.Contains(lowerText, token) {
			keywords = append(keywords, token)
		}
	}

	return JobAnalysis{
		Title:            title,
		Responsibilities: responsibilities,
		Requirements:     requirements,
		Keywords:         keywords,
		Provider:         "heuristic",
		Degraded:         true,
	}
}

// heuristicDocuments templates a resume and cover letter from profile facts
// and the job analysis.
func heuristicDocuments(profile store.Profile, analysis JobAnalysis) TailoredDocuments {
	name := profile.Name
	if name == "" {
		name = "Candidate"
	}
	family := profile.JobFamily
	if family == "" {
		family = "Professional"
	}
	role := analysis.Title
	if role == "" {
		role = family
	}
	company := analysis.Company
	if company == "" {
		company = "your company"
	}

	resume := []string{
		fmt.Sprintf("# %s", name),
		"",
		fmt.Sprintf("## Target Role: %s", role),
		"",
		"## Summary",
		fmt.Sprintf("Experienced %s focused on %s with measurable delivery across cross-functional teams.",
			strings.ToLower(family), strings.Join(firstN(analysis.Keywords, 5), ", ")),
		"",
		"## Key Responsibilities Alignment",
	}
	for _, item := range firstN(analysis.Responsibilities, 6) {
		resume = append(resume, "- "+item)
	}
	resume = append(resume, "", "## Key Requirements Alignment")
	for _, item := range firstN(analysis.Requirements, 6) {
		resume = append(resume, "- "+item)
	}

	coverLetter := []string{
		fmt.Sprintf("Dear Hiring Team at %s,", company),
		"",
		fmt.Sprintf("I am applying for the %s role.", role),
		"My background aligns with your requirements, and I can contribute immediately.",
		"",
		"Sincerely,",
		name,
	}

	return TailoredDocuments{
		ResumeMarkdown:      strings.Join(resume, "\n"),
		CoverLetterMarkdown: strings.Join(coverLetter, "\n"),
		Metadata:            map[string]any{"strategy": "heuristic_fallback"},
		Provider:            "heuristic",
		Degraded:            true,
	}
}

func sliceLines(lines []string, from, to int) []string {
	if from >= len(lines) {
		return nil
	}
	if to > len(lines) {
		to = len(lines)
	}
	return lines[from:to]
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
