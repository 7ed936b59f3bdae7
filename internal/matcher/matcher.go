// Package matcher pairs the standard contract task phrases with the
// reference-task catalog.
package matcher

import (
	"regexp"
	"strings"

	"smartrust/internal/domain"
)

// Strategy records how a phrase was paired with its reference task.
type Strategy string

const (
	Exact      Strategy = "exact"
	Substring  Strategy = "substring"
	Fallback   Strategy = "fallback"
	FirstEntry Strategy = "first_entry"
)

type Match struct {
	Description string         `json:"description"`
	RefTask     domain.RefTask `json:"ref_task"`
	Via         Strategy       `json:"via"`
}

var standardTasks = []string{
	"Review and finalize contract",
	"Define and deploy escrow terms",
	"Deploy escrow smart contract",
	"Fund escrow",
	"Sign contract (both parties)",
	"Start delivering contracted services",
	"Review and approve milestones",
	"Release milestone payment",
	"Complete final review",
}

// Phrases returns the task list for a new contract: onboarding steps that
// depend on whether a counterparty is known, then the standard execution steps.
func Phrases(hasPartner bool, partnerName string) []string {
	var out []string
	if !hasPartner {
		out = append(out, "Identify a partner", "Send invitation to partner")
	} else {
		out = append(out, "Invite counterparty to join and view contract")
	}
	return append(out, standardTasks...)
}

// StandardTasks lists the execution steps shared by every contract.
func StandardTasks() []string {
	return append([]string(nil), standardTasks...)
}

var punctuation = regexp.MustCompile(`[^\w\s]`)

// Normalize lower-cases s and strips punctuation.
func Normalize(s string) string {
	return strings.TrimSpace(punctuation.ReplaceAllString(strings.ToLower(s), ""))
}

func isFallbackName(n string) bool {
	return n == "default task" || n == "custom task"
}

// MatchAll pairs each phrase with a catalog entry, in input order. An exact
// normalized name match wins, then the first catalog entry whose name contains
// or is contained in the phrase, then a "default task"/"custom task" entry
// renamed to the phrase. Anything still unmatched is paired with the first
// catalog entry, keeping its name but taking the phrase as its todo labels.
// This first-entry pairing is applied per phrase, not only when nothing else
// matched, so the result always holds one match per phrase. An empty catalog
// yields no matches.
func MatchAll(phrases []string, catalog []domain.RefTask) []Match {
	if len(catalog) == 0 {
		return nil
	}
	names := make([]string, len(catalog))
	fallback := -1
	for i, rt := range catalog {
		names[i] = Normalize(rt.Name)
		if fallback < 0 && isFallbackName(names[i]) {
			fallback = i
		}
	}
	out := make([]Match, 0, len(phrases))
	for _, phrase := range phrases {
		out = append(out, matchOne(phrase, catalog, names, fallback))
	}
	return out
}

func matchOne(phrase string, catalog []domain.RefTask, names []string, fallback int) Match {
	p := Normalize(phrase)
	for i, n := range names {
		if n == p {
			return Match{Description: phrase, RefTask: catalog[i], Via: Exact}
		}
	}
	for i, n := range names {
		if n == "" || p == "" {
			continue
		}
		if strings.Contains(p, n) || strings.Contains(n, p) {
			return Match{Description: phrase, RefTask: catalog[i], Via: Substring}
		}
	}
	if fallback >= 0 {
		rt := catalog[fallback]
		rt.Name = phrase
		rt.BuyerTodoLabel = phrase
		rt.SellerTodoLabel = phrase
		return Match{Description: phrase, RefTask: rt, Via: Fallback}
	}
	rt := catalog[0]
	rt.BuyerTodoLabel = phrase
	rt.SellerTodoLabel = phrase
	return Match{Description: phrase, RefTask: rt, Via: FirstEntry}
}

// LabelFor is the label stored on a task derived from rt for a contract
// created under role.
func LabelFor(role domain.Role, rt domain.RefTask) string {
	return role.TodoLabel(rt)
}

// Tasks turns matches into todo task records for a contract. display_order is
// the reference task's order when set, else the match position.
func Tasks(contractID int64, role domain.Role, matches []Match) []domain.Task {
	out := make([]domain.Task, 0, len(matches))
	for i, m := range matches {
		order := m.RefTask.DisplayOrder
		if order == 0 {
			order = i
		}
		out = append(out, domain.Task{
			Contract:     contractID,
			RefTaskName:  m.RefTask.Name,
			Label:        LabelFor(role, m.RefTask),
			Status:       domain.StatusTodo,
			DisplayOrder: order,
		})
	}
	return out
}
