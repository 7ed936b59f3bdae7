package generation

import (
	"fmt"
	"regexp"
	"strings"
)

const questionsPrompt = "You are an expert contract specialist. Based on the user-provided information, generate 4 to 6 concise clarifying questions that will help draft a comprehensive contract. Return each question on its own line without numbering."

const contractSystemPrompt = "You are an AI assistant that drafts contracts strictly following the requested structure."

// ContractSections is the fixed skeleton every generated contract follows.
var ContractSections = []string{
	"Title",
	"Parties",
	"Services",
	"Payment Terms",
	"Timeline",
	"Responsibilities",
	"Milestones",
	"Confidentiality",
	"Termination",
	"Governing Law",
	"Signatures",
}

// DefaultMaxQuestions bounds the parsed question list.
const DefaultMaxQuestions = 6

var (
	listMarker  = regexp.MustCompile(`^\s*[-*\d.]+\s*`)
	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Please answer\s*this question\.?\s*`),
		regexp.MustCompile(`(?i)Answer this question\.\s*`),
		regexp.MustCompile(`(?i)Please provide an answer\.\s*`),
	}
)

// Question is one clarifying question as exchanged with callers.
type Question struct {
	Text string `json:"text"`
}

// BuildQuestionsPrompt assembles the single system message sent for clarifying questions.
func BuildQuestionsPrompt(input, fileContent string) string {
	var b strings.Builder
	b.WriteString(questionsPrompt)
	b.WriteString("\n\nUser Description:\n")
	b.WriteString(input)
	if fileContent != "" {
		b.WriteString("\n\nUploaded File Content:\n")
		b.WriteString(fileContent)
	}
	return b.String()
}

// BuildContractPrompt assembles the user message for a contract draft. Answers
// are only included when both questions and answers are present.
func BuildContractPrompt(req DraftRequest) string {
	var b strings.Builder
	b.WriteString("Generate a professional contract in markdown format with the following sections:\n")
	for _, s := range ContractSections {
		b.WriteString("# " + s + "\n")
	}
	b.WriteString("\nUse the following information to fill in each section. Do not include any additional sections.")
	if req.Input != "" {
		b.WriteString("\n\nUser Description:\n" + req.Input)
	}
	if req.FileContent != "" {
		b.WriteString("\n\nUploaded File Content:\n" + req.FileContent)
	}
	if len(req.Questions) > 0 && len(req.Answers) > 0 {
		b.WriteString("\n\nClarifying Answers:")
		for i, q := range req.Questions {
			ans := ""
			if i < len(req.Answers) {
				ans = req.Answers[i]
			}
			fmt.Fprintf(&b, "\n- %s: %s", q.Text, ans)
		}
	}
	if req.SelectedTemplate != "" {
		b.WriteString("\n\nTemplate Used: " + req.SelectedTemplate)
	}
	return b.String()
}

// ParseQuestions turns raw completion text into at most max questions: one per
// line, list markers and instruction boilerplate removed, blanks dropped.
func ParseQuestions(raw string, max int) []string {
	if max <= 0 {
		max = DefaultMaxQuestions
	}
	out := []string{}
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		line = listMarker.ReplaceAllString(line, "")
		for _, re := range boilerplate {
			line = re.ReplaceAllString(line, "")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == max {
			break
		}
	}
	return out
}
