package llm

import "fmt"

const jobAnalysisPromptTmpl = `You are extracting structured job details.
Return strict JSON with keys:
- title: string
- company: string
- location: string
- responsibilities: string[]
- requirements: string[]
- compensation: string
- keywords: string[]

Job URL: %s
Job text:
%s`

const tailorDocsPromptTmpl = `You are tailoring candidate documents to a job.
Return strict JSON with keys:
- resume_markdown: string
- cover_letter_markdown: string
- metadata: object

Profile summary:
%s

Job analysis JSON:
%s`

const patchSuggestionPromptTmpl = `You are proposing profile database enrichment patches.
Return strict JSON with keys:
- rationale: string
- confidence: number (0..1)
- operations: array of objects with keys:
  - table: one of [profile_personal, profile_preferences, profile_work_auth, skills]
  - operation: one of [insert, update, upsert]
  - key: object
  - values: object
  - source: string
  - confidence: number

Profile facts:
%s

Job analysis JSON:
%s`

const answerDraftPromptTmpl = `You draft a concise, truthful application answer.
Use only given profile facts. If unknown, return exactly: UNKNOWN.

Question:
%s

Profile facts:
%s

Job analysis:
%s`

func jobAnalysisPrompt(jobURL, jobText string) string {
	return fmt.Sprintf(jobAnalysisPromptTmpl, jobURL, jobText)
}

func tailorDocsPrompt(profileSummary, analysisJSON string) string {
	return fmt.Sprintf(tailorDocsPromptTmpl, profileSummary, analysisJSON)
}

func patchSuggestionPrompt(profileJSON, analysisJSON string) string {
	return fmt.Sprintf(patchSuggestionPromptTmpl, profileJSON, analysisJSON)
}

func answerDraftPrompt(question, profileJSON, analysisJSON string) string {
	return fmt.Sprintf(answerDraftPromptTmpl, question, profileJSON, analysisJSON)
}
