package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/applyforge/applyforge/internal/browser"
	"github.com/applyforge/applyforge/internal/llm"
	"github.com/applyforge/applyforge/internal/store"
)

type profileResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	JobFamily   string         `json:"job_family"`
	Summary     string         `json:"summary"`
	IsDefault   bool           `json:"is_default"`
	Personal    map[string]any `json:"personal,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	WorkAuth    map[string]any `json:"work_auth,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

func toProfileResponse(profile *store.Profile) profileResponse {
	return profileResponse{
		ID:          profile.ID,
		Name:        profile.Name,
		JobFamily:   profile.JobFamily,
		Summary:     profile.Summary,
		IsDefault:   profile.IsDefault,
		Personal:    profile.Personal,
		Preferences: profile.Preferences,
		WorkAuth:    profile.WorkAuth,
		CreatedAt:   profile.CreatedAt,
		UpdatedAt:   profile.UpdatedAt,
	}
}

type profileListResponse struct {
	Profiles []profileResponse `json:"profiles"`
}

type createProfileRequest struct {
	Name        string         `json:"name" validate:"required"`
	JobFamily   string         `json:"job_family"`
	Summary     string         `json:"summary"`
	IsDefault   bool           `json:"is_default"`
	Personal    map[string]any `json:"personal"`
	Preferences map[string]any `json:"preferences"`
	WorkAuth    map[string]any `json:"work_auth"`
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := decodeRequest(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	profile := store.Profile{
		ID:          uuid.New().String(),
		Name:        name,
		JobFamily:   strings.TrimSpace(req.JobFamily),
		Summary:     req.Summary,
		IsDefault:   req.IsDefault,
		Personal:    req.Personal,
		Preferences: req.Preferences,
		WorkAuth:    req.WorkAuth,
	}
	if err := s.store.CreateProfile(r.Context(), profile); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	created, err := s.store.GetProfile(r.Context(), profile.ID)
	if err != nil || created == nil {
		http.Error(w, "profile not persisted", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toProfileResponse(created))
}

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	items := make([]profileResponse, 0, len(profiles))
	for i := range profiles {
		items = append(items, toProfileResponse(&profiles[i]))
	}
	writeJSON(w, profileListResponse{Profiles: items})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.store.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if profile == nil {
		http.Error(w, store.ErrProfileNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, toProfileResponse(profile))
}

type recordAnswerRequest struct {
	Question     string `json:"question" validate:"required"`
	Answer       string `json:"answer" validate:"required"`
	QuestionType string `json:"question_type"`
	Source       string `json:"source"`
}

type recordAnswerResponse struct {
	ID           string `json:"id"`
	QuestionHash string `json:"question_hash"`
}

// recordAnswer upserts a bank entry keyed by the question hash. Manually
// recorded answers are trusted, so they land already verified.
func (s *Server) recordAnswer(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "id")
	if !s.requireProfile(w, r, profileID) {
		return
	}
	var req recordAnswerRequest
	if err := decodeRequest(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	questionType := strings.TrimSpace(req.QuestionType)
	if questionType == "" {
		questionType = "custom"
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "manual"
	}
	answer := store.Answer{
		ID:                uuid.New().String(),
		ProfileID:         profileID,
		QuestionHash:      store.QuestionHash(req.Question),
		Question:          req.Question,
		AnswerText:        req.Answer,
		QuestionType:      questionType,
		Source:            source,
		Confidence:        1.0,
		VerificationState: store.AnswerVerified,
	}
	if err := s.store.UpsertAnswer(r.Context(), answer); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	saved, err := s.store.GetAnswer(r.Context(), profileID, answer.QuestionHash)
	if err != nil || saved == nil {
		http.Error(w, "answer not persisted", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recordAnswerResponse{ID: saved.ID, QuestionHash: saved.QuestionHash})
}

type answerResponse struct {
	ID                string  `json:"id"`
	ProfileID         string  `json:"profile_id"`
	QuestionHash      string  `json:"question_hash"`
	Question          string  `json:"question"`
	AnswerText        string  `json:"answer_text"`
	QuestionType      string  `json:"question_type"`
	Source            string  `json:"source"`
	Confidence        float64 `json:"confidence"`
	VerificationState string  `json:"verification_state"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

type questionnaireResponse struct {
	Answers []answerResponse `json:"answers"`
}

// listQuestionnaire returns the answer bank, optionally filtered with
// ?state=needs_review for the review queue.
func (s *Server) listQuestionnaire(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "id")
	if !s.requireProfile(w, r, profileID) {
		return
	}
	answers, err := s.store.ListAnswers(r.Context(), profileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stateFilter := strings.TrimSpace(r.URL.Query().Get("state"))
	items := make([]answerResponse, 0, len(answers))
	for _, answer := range answers {
		if stateFilter != "" && answer.VerificationState != stateFilter {
			continue
		}
		items = append(items, answerResponse{
			ID:                answer.ID,
			ProfileID:         answer.ProfileID,
			QuestionHash:      answer.QuestionHash,
			Question:          answer.Question,
			AnswerText:        answer.AnswerText,
			QuestionType:      answer.QuestionType,
			Source:            answer.Source,
			Confidence:        answer.Confidence,
			VerificationState: answer.VerificationState,
			CreatedAt:         answer.CreatedAt,
			UpdatedAt:         answer.UpdatedAt,
		})
	}
	writeJSON(w, questionnaireResponse{Answers: items})
}

type draftAnswerRequest struct {
	Question string `json:"question" validate:"required"`
	JobID    string `json:"job_id"`
}

type draftAnswerResponse struct {
	QuestionHash      string  `json:"question_hash"`
	Answer            string  `json:"answer"`
	Source            string  `json:"source"`
	Confidence        float64 `json:"confidence"`
	VerificationState string  `json:"verification_state,omitempty"`
}

// draftAnswer resolves an application question for the caller: a verified
// bank hit comes back as-is, otherwise a drafted candidate lands in the bank
// as needs_review so the questionnaire queue surfaces it. Naming a job_id
// grounds the draft in that posting's parsed fields. Unanswerable questions
// return the unknown source and are never banked.
func (s *Server) draftAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := s.store.GetProfile(ctx, chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if profile == nil {
		http.Error(w, store.ErrProfileNotFound.Error(), http.StatusNotFound)
		return
	}

	var req draftAnswerRequest
	if err := decodeRequest(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		http.Error(w, "question required", http.StatusBadRequest)
		return
	}

	analysis := llm.JobAnalysis{}
	if jobID := strings.TrimSpace(req.JobID); jobID != "" {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if job == nil {
			http.Error(w, store.ErrJobNotFound.Error(), http.StatusNotFound)
			return
		}
		analysis = llm.JobAnalysis{
			Title:            job.Title,
			Company:          job.Company,
			Location:         job.Location,
			Responsibilities: job.Responsibilities,
			Requirements:     job.Requirements,
			Compensation:     job.Compensation,
			Keywords:         job.Keywords,
		}
	}

	skills, err := s.store.ListSkills(ctx, profile.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	text, source, confidence, err := s.answers.Resolve(ctx, question, *profile, skills, analysis)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := draftAnswerResponse{
		QuestionHash: store.QuestionHash(question),
		Answer:       text,
		Source:       source,
		Confidence:   confidence,
	}
	switch source {
	case browser.SourceProfileAnswers:
		resp.VerificationState = store.AnswerVerified
	case browser.SourceLLMInferred:
		if err := s.store.UpsertAnswer(ctx, store.Answer{
			ID:                uuid.New().String(),
			ProfileID:         profile.ID,
			QuestionHash:      resp.QuestionHash,
			Question:          question,
			AnswerText:        text,
			QuestionType:      "custom",
			Source:            source,
			Confidence:        confidence,
			VerificationState: store.AnswerNeedsReview,
		}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.VerificationState = store.AnswerNeedsReview
	}
	writeJSON(w, resp)
}

type verificationResponse struct {
	ProfileID         string `json:"profile_id"`
	QuestionHash      string `json:"question_hash"`
	VerificationState string `json:"verification_state"`
}

func (s *Server) verifyAnswer(w http.ResponseWriter, r *http.Request) {
	s.setAnswerVerification(w, r, store.AnswerVerified)
}

func (s *Server) rejectAnswer(w http.ResponseWriter, r *http.Request) {
	s.setAnswerVerification(w, r, store.AnswerRejected)
}

func (s *Server) setAnswerVerification(w http.ResponseWriter, r *http.Request, state string) {
	profileID := chi.URLParam(r, "id")
	questionHash := chi.URLParam(r, "hash")
	if !s.requireProfile(w, r, profileID) {
		return
	}
	if err := s.store.SetAnswerVerification(r.Context(), profileID, questionHash, state); err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, verificationResponse{
		ProfileID:         profileID,
		QuestionHash:      questionHash,
		VerificationState: state,
	})
}

type skillResponse struct {
	ID          string  `json:"id"`
	ProfileID   string  `json:"profile_id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Years       float64 `json:"years"`
	Proficiency string  `json:"proficiency"`
	CreatedAt   string  `json:"created_at"`
}

type skillListResponse struct {
	Skills []skillResponse `json:"skills"`
}

type upsertSkillRequest struct {
	Name        string  `json:"name" validate:"required"`
	Category    string  `json:"category"`
	Years       float64 `json:"years" validate:"omitempty,gte=0"`
	Proficiency string  `json:"proficiency"`
}

func (s *Server) listProfileSkills(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "id")
	if !s.requireProfile(w, r, profileID) {
		return
	}
	skills, err := s.store.ListSkills(r.Context(), profileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, skillListResponse{Skills: toSkillResponses(skills)})
}

func (s *Server) upsertProfileSkill(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "id")
	if !s.requireProfile(w, r, profileID) {
		return
	}
	var req upsertSkillRequest
	if err := decodeRequest(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	skill := store.Skill{
		ID:          uuid.New().String(),
		ProfileID:   profileID,
		Name:        strings.TrimSpace(req.Name),
		Category:    strings.TrimSpace(req.Category),
		Years:       req.Years,
		Proficiency: strings.TrimSpace(req.Proficiency),
	}
	if skill.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if err := s.store.UpsertSkill(r.Context(), skill); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Upserts against an existing skill keep its original ID, so re-read the
	// canonical row rather than echoing the request.
	skills, err := s.store.ListSkills(r.Context(), profileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, stored := range skills {
		if strings.EqualFold(stored.Name, skill.Name) {
			writeJSON(w, toSkillResponses([]store.Skill{stored})[0])
			return
		}
	}
	http.Error(w, "skill not persisted", http.StatusInternalServerError)
}

func toSkillResponses(skills []store.Skill) []skillResponse {
	items := make([]skillResponse, 0, len(skills))
	for _, skill := range skills {
		items = append(items, skillResponse{
			ID:          skill.ID,
			ProfileID:   skill.ProfileID,
			Name:        skill.Name,
			Category:    skill.Category,
			Years:       skill.Years,
			Proficiency: skill.Proficiency,
			CreatedAt:   skill.CreatedAt,
		})
	}
	return items
}

// requireProfile writes a 404 and returns false when the profile does not exist.
func (s *Server) requireProfile(w http.ResponseWriter, r *http.Request, profileID string) bool {
	profile, err := s.store.GetProfile(r.Context(), profileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}
	if profile == nil {
		http.Error(w, store.ErrProfileNotFound.Error(), http.StatusNotFound)
		return false
	}
	return true
}
