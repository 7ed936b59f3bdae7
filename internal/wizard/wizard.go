// Package wizard holds the contract generation wizard: the state collected
// step by step before a draft can be generated and saved.
package wizard

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"smartrust/internal/domain"
	"smartrust/internal/generation"
)

// Step is the wizard position. Steps only move forward.
type Step float64

const (
	StepRole     Step = 1
	StepKYC      Step = 1.5
	StepIdentity Step = 2
	StepProject  Step = 3
	StepContract Step = 4
)

const (
	MinNameLen        = 5
	MinLocationLen    = 3
	MinPartnerNameLen = 5
)

const (
	nameHelp     = "Enter a name with minimum 5 characters"
	locationHelp = "Enter a location with minimum 3 characters"
	partnerHelp  = "Enter a partner name with minimum 5 characters"
	projectHelp  = "Please provide details about your project or services"
)

// ValidationError blocks a transition. It never involves a remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

type State struct {
	Role              domain.Role           `json:"role,omitempty"`
	KYCLevel          domain.KYCLevel       `json:"kycLevel,omitempty"`
	Name              string                `json:"name"`
	Location          string                `json:"location"`
	HasPartner        *bool                 `json:"hasPartner"`
	PartnerName       string                `json:"partnerName"`
	ProjectInput      string                `json:"input"`
	UploadedFileText  string                `json:"fileContent,omitempty"`
	SelectedTemplate  string                `json:"selectedTemplate,omitempty"`
	Questions         []generation.Question `json:"questions"`
	Answers           []string              `json:"questionResponses"`
	GeneratedContract string                `json:"generatedContract,omitempty"`
	CurrentStep       Step                  `json:"currentStep"`
}

// New returns an empty wizard at the role step.
func New() *State {
	return &State{CurrentStep: StepRole, Questions: []generation.Question{}, Answers: []string{}}
}

func (s *State) advance(to Step) {
	if to > s.CurrentStep {
		s.CurrentStep = to
	}
}

func runeLen(v string) int {
	return utf8.RuneCountInString(strings.TrimSpace(v))
}

// ChooseRole sets the role and clears everything collected after it. The role
// can be changed until a KYC level has been picked.
func (s *State) ChooseRole(r domain.Role) error {
	if !r.Valid() {
		return invalid("role", fmt.Sprintf("unknown role %q", r))
	}
	if s.CurrentStep > StepKYC {
		return invalid("role", "role is already confirmed")
	}
	*s = State{Role: r, CurrentStep: StepKYC, Questions: []generation.Question{}, Answers: []string{}}
	return nil
}

func (s *State) ChooseKYC(level domain.KYCLevel) error {
	if s.CurrentStep < StepKYC {
		return invalid("role", "choose a role first")
	}
	if _, err := domain.ParseKYCLevel(string(level)); err != nil {
		return invalid("kycLevel", err.Error())
	}
	if s.CurrentStep > StepIdentity {
		return invalid("kycLevel", "identity verification level is already confirmed")
	}
	s.KYCLevel = level
	s.advance(StepIdentity)
	return nil
}

// Identity is the input of the identity step.
type Identity struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	HasPartner  *bool  `json:"hasPartner,omitempty"`
	PartnerName string `json:"partnerName,omitempty"`
}

// SetIdentity records who the user is and whether a counterparty is known.
// The fields are stored even when validation fails so a caller can keep
// editing; the step only advances once they are complete.
func (s *State) SetIdentity(in Identity) error {
	if s.CurrentStep < StepIdentity {
		return invalid("kycLevel", "choose an identity verification level first")
	}
	if s.CurrentStep > StepIdentity {
		return invalid("name", "identity is already confirmed")
	}
	s.Name = strings.TrimSpace(in.Name)
	s.Location = strings.TrimSpace(in.Location)
	s.HasPartner = in.HasPartner
	s.PartnerName = strings.TrimSpace(in.PartnerName)

	if runeLen(s.Name) < MinNameLen {
		return invalid("name", nameHelp)
	}
	if runeLen(s.Location) < MinLocationLen {
		return invalid("location", locationHelp)
	}
	if !s.Role.Info().NeedsPartner {
		s.advance(StepProject)
		return nil
	}
	if s.HasPartner == nil {
		return invalid("hasPartner", "tell us whether you already have a partner")
	}
	if *s.HasPartner && runeLen(s.PartnerName) < MinPartnerNameLen {
		return invalid("partnerName", partnerHelp)
	}
	if !*s.HasPartner {
		s.PartnerName = ""
	}
	s.advance(StepProject)
	return nil
}

// HasCounterparty reports whether a partner was named, which decides the
// onboarding tasks of the saved contract.
func (s *State) HasCounterparty() bool {
	return s.HasPartner != nil && *s.HasPartner
}

// SetProject records the project description. Previously fetched questions
// and answers are discarded.
func (s *State) SetProject(input, fileText, template string) error {
	if err := s.atProject("input"); err != nil {
		return err
	}
	if strings.TrimSpace(input) == "" && strings.TrimSpace(fileText) == "" {
		return invalid("input", projectHelp)
	}
	s.ProjectInput = input
	s.UploadedFileText = fileText
	s.SelectedTemplate = template
	s.Questions = []generation.Question{}
	s.Answers = []string{}
	return nil
}

func (s *State) atProject(field string) error {
	if s.CurrentStep < StepProject {
		return invalid(field, "complete your identity details first")
	}
	if s.CurrentStep > StepProject {
		return invalid(field, "the contract has already been generated")
	}
	return nil
}

// QuestionsRequest is what the clarifying-questions call needs.
func (s *State) QuestionsRequest() (generation.QuestionsRequest, error) {
	if err := s.atProject("input"); err != nil {
		return generation.QuestionsRequest{}, err
	}
	if strings.TrimSpace(s.ProjectInput) == "" && strings.TrimSpace(s.UploadedFileText) == "" {
		return generation.QuestionsRequest{}, invalid("input", projectHelp)
	}
	return generation.QuestionsRequest{Input: s.ProjectInput, FileContent: s.UploadedFileText}, nil
}

// SetQuestions stores freshly generated questions with blank answers.
func (s *State) SetQuestions(qs []string) error {
	if err := s.atProject("questions"); err != nil {
		return err
	}
	s.Questions = make([]generation.Question, 0, len(qs))
	for _, q := range qs {
		s.Questions = append(s.Questions, generation.Question{Text: q})
	}
	s.Answers = make([]string, len(qs))
	return nil
}

func (s *State) Answer(i int, text string) error {
	if err := s.atProject("questionResponses"); err != nil {
		return err
	}
	if i < 0 || i >= len(s.Questions) {
		return invalid("questionResponses", fmt.Sprintf("question %d does not exist", i))
	}
	s.Answers[i] = text
	return nil
}

// ReadyForDraft reports whether contract generation may start: the project is
// described and every question has a non-empty answer.
func (s *State) ReadyForDraft() error {
	if _, err := s.QuestionsRequest(); err != nil {
		return err
	}
	for i := range s.Questions {
		if strings.TrimSpace(s.Answers[i]) == "" {
			return invalid("questionResponses", fmt.Sprintf("answer question %d before generating the contract", i+1))
		}
	}
	return nil
}

// DraftRequest is what the contract draft call needs.
func (s *State) DraftRequest() (generation.DraftRequest, error) {
	if err := s.ReadyForDraft(); err != nil {
		return generation.DraftRequest{}, err
	}
	return generation.DraftRequest{
		Input:            s.ProjectInput,
		FileContent:      s.UploadedFileText,
		Questions:        append([]generation.Question(nil), s.Questions...),
		Answers:          append([]string(nil), s.Answers...),
		SelectedTemplate: s.SelectedTemplate,
	}, nil
}

// SetDraft stores the generated markdown and moves to the final step.
func (s *State) SetDraft(markdown string) error {
	if err := s.atProject("generatedContract"); err != nil {
		return err
	}
	s.GeneratedContract = markdown
	s.advance(StepContract)
	return nil
}

// Metadata is the audit blob stored with a saved contract.
func (s *State) Metadata() (json.RawMessage, error) {
	meta := map[string]any{
		"role":              s.Role,
		"kycLevel":          s.KYCLevel,
		"name":              s.Name,
		"location":          s.Location,
		"hasPartner":        s.HasPartner,
		"partnerName":       s.PartnerName,
		"input":             s.ProjectInput,
		"fileContent":       s.UploadedFileText,
		"questions":         s.Questions,
		"questionResponses": s.Answers,
		"selectedTemplate":  s.SelectedTemplate,
	}
	return json.Marshal(meta)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *State) Clone() *State {
	c := *s
	c.Questions = append([]generation.Question{}, s.Questions...)
	c.Answers = append([]string{}, s.Answers...)
	if s.HasPartner != nil {
		v := *s.HasPartner
		c.HasPartner = &v
	}
	return &c
}
