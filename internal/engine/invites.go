package engine

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"smartrust/internal/domain"
	"smartrust/internal/events"
	"smartrust/internal/identity"
	"smartrust/internal/repo"
	"smartrust/internal/wizard"
)

const maxEventPage = 500

type InviteLink struct {
	Invite domain.Invite `json:"invite"`
	Link   string        `json:"link"`
}

type InviteView struct {
	domain.Invite
	InviterEmail string `json:"inviter_email"`
	ContractName string `json:"contract_name"`
}

func parseEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", &wizard.ValidationError{Field: "email", Message: "enter a valid email address"}
	}
	return strings.ToLower(addr.Address), nil
}

func (e Engine) inviteLink(id int64) string {
	base := strings.TrimRight(e.Config.Server.PublicURL, "/")
	return fmt.Sprintf("%s/invite/%d", base, id)
}

// Invite shares a contract with an email address and returns the link the
// invitee follows to join.
func (e Engine) Invite(ctx context.Context, p *identity.Principal, contractID int64, rawEmail string) (InviteLink, error) {
	if err := e.checkVisible(ctx, p, contractID); err != nil {
		return InviteLink{}, err
	}
	email, err := parseEmail(rawEmail)
	if err != nil {
		return InviteLink{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return InviteLink{}, err
	}
	defer tx.Rollback()
	inv, err := e.Repo.InsertInvite(ctx, tx, domain.Invite{Email: email, InvitedUser: p.UserID, ContractID: contractID})
	if err != nil {
		return InviteLink{}, mapStoreError(err)
	}
	if err := e.Events.Append(ctx, tx, events.InviteCreated, contractID, "invite", fmt.Sprint(inv.ID), actorID(p), events.EventPayload{"email": email}); err != nil {
		return InviteLink{}, err
	}
	if err := tx.Commit(); err != nil {
		return InviteLink{}, err
	}
	return InviteLink{Invite: inv, Link: e.inviteLink(inv.ID)}, nil
}

// GetInvite resolves an invite link. It needs no session.
func (e Engine) GetInvite(ctx context.Context, id int64) (InviteView, error) {
	inv, err := e.Repo.GetInvite(ctx, id)
	if err != nil {
		return InviteView{}, err
	}
	view := InviteView{Invite: inv}
	if inviter, err := e.Repo.GetUser(ctx, inv.InvitedUser); err == nil {
		view.InviterEmail = inviter.Email
	}
	if c, err := e.Repo.GetContract(ctx, inv.ContractID); err == nil {
		view.ContractName = c.DisplayName()
	}
	return view, nil
}

// Subscribe records a newsletter signup. A repeated email is reported through
// the already flag rather than as an error.
func (e Engine) Subscribe(ctx context.Context, rawEmail string) (signup domain.Signup, already bool, err error) {
	email, err := parseEmail(rawEmail)
	if err != nil {
		return domain.Signup{}, false, err
	}
	signup, err = e.Repo.InsertSignup(ctx, email)
	if errors.Is(err, repo.ErrDuplicate) {
		return domain.Signup{Email: email}, true, nil
	}
	return signup, false, err
}

// ListEvents pages through the audit log of one contract, newest first.
func (e Engine) ListEvents(ctx context.Context, p *identity.Principal, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	if f.ContractID <= 0 {
		if err := requireUser(p); err != nil {
			return nil, err
		}
		return nil, &wizard.ValidationError{Field: "contract_id", Message: "choose a contract"}
	}
	if err := e.checkVisible(ctx, p, f.ContractID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, f)
}
