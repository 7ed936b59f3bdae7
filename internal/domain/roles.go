package domain

import (
	"fmt"
	"strings"
)

// Role is the party a wizard user acts as. The set is closed; use ParseRole to
// convert untrusted input.
type Role string

const (
	RoleFreelancer Role = "Freelancer"
	RoleBuyer      Role = "Buyer"
	RoleLawyer     Role = "Lawyer"
)

// TaskLabelSide selects which pair of labels on a reference task applies to a role.
type TaskLabelSide int

const (
	SideBuyer TaskLabelSide = iota
	SideSeller
)

type RoleInfo struct {
	Role        Role          `json:"role"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	LabelSide   TaskLabelSide `json:"-"`
	// NeedsPartner reports whether the identity step asks for a counterparty.
	NeedsPartner bool `json:"needs_partner"`
}

var roleTable = map[Role]RoleInfo{
	RoleFreelancer: {
		Role:         RoleFreelancer,
		DisplayName:  "Service Provider / Freelancer",
		Description:  "I provide services or freelance work to clients",
		LabelSide:    SideSeller,
		NeedsPartner: true,
	},
	RoleBuyer: {
		Role:         RoleBuyer,
		DisplayName:  "Client / Buyer / Project Manager",
		Description:  "I need to hire someone for a project or service",
		LabelSide:    SideBuyer,
		NeedsPartner: true,
	},
	RoleLawyer: {
		Role:         RoleLawyer,
		DisplayName:  "Lawyer / Arbitrator / Adjudicator",
		Description:  "I am a lawyer and provide arbitration services",
		LabelSide:    SideBuyer,
		NeedsPartner: false,
	},
}

// Roles lists every role in presentation order.
func Roles() []RoleInfo {
	return []RoleInfo{roleTable[RoleFreelancer], roleTable[RoleBuyer], roleTable[RoleLawyer]}
}

func ParseRole(s string) (Role, error) {
	for r := range roleTable {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", s)
}

func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

func (r Role) Info() RoleInfo {
	return roleTable[r]
}

// TodoLabel picks the role-specific todo label of a reference task, falling
// back to the task name when that label is empty.
func (r Role) TodoLabel(t RefTask) string {
	label := t.BuyerTodoLabel
	if r.Info().LabelSide == SideSeller {
		label = t.SellerTodoLabel
	}
	if label == "" {
		return t.Name
	}
	return label
}

func (r Role) DoneLabel(t RefTask) string {
	label := t.BuyerDoneLabel
	if r.Info().LabelSide == SideSeller {
		label = t.SellerDoneLabel
	}
	if label == "" {
		return t.Name
	}
	return label
}

type KYCLevel string

const (
	KYCFullyVerified    KYCLevel = "FullyVerified"
	KYCIdentityVerified KYCLevel = "IdentityVerified"
	KYCPrivateVerified  KYCLevel = "PrivateVerified"
	KYCAnonymous        KYCLevel = "Anonymous"
)

type KYCInfo struct {
	Level       KYCLevel `json:"level"`
	Description string   `json:"description"`
}

var kycLevels = []KYCInfo{
	{KYCFullyVerified, "Fully verified, both identity and proof of address"},
	{KYCIdentityVerified, "Verified identity, including sharing of Name and verified photo"},
	{KYCPrivateVerified, "Verified identity, but without sharing any details (unless police reports are filed)"},
	{KYCAnonymous, "Anonymous contract, no identity verification"},
}

func KYCLevels() []KYCInfo {
	out := make([]KYCInfo, len(kycLevels))
	copy(out, kycLevels)
	return out
}

func ParseKYCLevel(s string) (KYCLevel, error) {
	for _, k := range kycLevels {
		if strings.EqualFold(string(k.Level), strings.TrimSpace(s)) {
			return k.Level, nil
		}
	}
	return "", fmt.Errorf("invalid kyc level %q", s)
}

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// Statuses returns the lane order used by the task board.
func Statuses() []TaskStatus {
	return []TaskStatus{StatusTodo, StatusInProgress, StatusDone}
}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

func (s TaskStatus) Title() string {
	switch s {
	case StatusTodo:
		return "To Do"
	case StatusInProgress:
		return "In Progress"
	case StatusDone:
		return "Done"
	}
	return string(s)
}
