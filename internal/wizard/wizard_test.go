package wizard

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartrust/internal/domain"
)

func boolPtr(v bool) *bool { return &v }

func atIdentity(t *testing.T, role domain.Role) *State {
	t.Helper()
	s := New()
	require.NoError(t, s.ChooseRole(role))
	require.Equal(t, StepKYC, s.CurrentStep)
	require.NoError(t, s.ChooseKYC(domain.KYCIdentityVerified))
	require.Equal(t, StepIdentity, s.CurrentStep)
	return s
}

func atProject(t *testing.T) *State {
	t.Helper()
	s := atIdentity(t, domain.RoleBuyer)
	require.NoError(t, s.SetIdentity(Identity{Name: "Jordan Lee", Location: "California", HasPartner: boolPtr(false)}))
	return s
}

func TestBuyerWithoutPartnerReachesProject(t *testing.T) {
	s := atIdentity(t, domain.RoleBuyer)
	require.NoError(t, s.SetIdentity(Identity{Name: "Jordan Lee", Location: "California", HasPartner: boolPtr(false)}))
	assert.Equal(t, StepProject, s.CurrentStep)
	assert.False(t, s.HasCounterparty())
}

func TestShortPartnerNameBlocksAdvance(t *testing.T) {
	s := atIdentity(t, domain.RoleBuyer)
	err := s.SetIdentity(Identity{Name: "Jordan Lee", Location: "California", HasPartner: boolPtr(true), PartnerName: "Al"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "partnerName", verr.Field)
	assert.Equal(t, StepIdentity, s.CurrentStep)
	assert.Equal(t, "Al", s.PartnerName)

	require.NoError(t, s.SetIdentity(Identity{Name: "Jordan Lee", Location: "California", HasPartner: boolPtr(true), PartnerName: "Alice Moreau"}))
	assert.Equal(t, StepProject, s.CurrentStep)
	assert.True(t, s.HasCounterparty())
}

func TestIdentityLengthRules(t *testing.T) {
	cases := []struct {
		name  string
		in    Identity
		field string
	}{
		{"short name", Identity{Name: "Jo", Location: "Paris", HasPartner: boolPtr(false)}, "name"},
		{"short location", Identity{Name: "Jordan Lee", Location: "NY", HasPartner: boolPtr(false)}, "location"},
		{"partner unanswered", Identity{Name: "Jordan Lee", Location: "Paris"}, "hasPartner"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := atIdentity(t, domain.RoleFreelancer)
			err := s.SetIdentity(tc.in)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, StepIdentity, s.CurrentStep)
		})
	}
}

func TestLawyerSkipsPartner(t *testing.T) {
	s := atIdentity(t, domain.RoleLawyer)
	require.NoError(t, s.SetIdentity(Identity{Name: "Dana Scott", Location: "Oslo"}))
	assert.Equal(t, StepProject, s.CurrentStep)
}

func TestRoleCanChangeUntilKYC(t *testing.T) {
	s := New()
	require.NoError(t, s.ChooseRole(domain.RoleBuyer))
	require.NoError(t, s.ChooseRole(domain.RoleFreelancer))
	assert.Equal(t, domain.RoleFreelancer, s.Role)
	require.NoError(t, s.ChooseKYC(domain.KYCAnonymous))
	assert.Error(t, s.ChooseRole(domain.RoleBuyer))
	assert.Equal(t, StepIdentity, s.CurrentStep)
}

func TestOutOfOrderTransitionsRejected(t *testing.T) {
	s := New()
	assert.Error(t, s.ChooseKYC(domain.KYCAnonymous))
	assert.Error(t, s.SetIdentity(Identity{Name: "Jordan Lee", Location: "Paris"}))
	assert.Error(t, s.SetProject("x", "", ""))
	assert.Error(t, s.ChooseRole(domain.Role("Pirate")))
	assert.Equal(t, StepRole, s.CurrentStep)
}

func TestDraftRequiresAllAnswers(t *testing.T) {
	s := atProject(t)
	_, err := s.QuestionsRequest()
	require.Error(t, err)

	require.NoError(t, s.SetProject("Pay USD 1,500 for design work", "", "Fixed price"))
	req, err := s.QuestionsRequest()
	require.NoError(t, err)
	assert.Equal(t, "Pay USD 1,500 for design work", req.Input)

	require.NoError(t, s.SetQuestions([]string{"Budget?", "Deadline?"}))
	assert.Error(t, s.ReadyForDraft())
	require.NoError(t, s.Answer(0, "1500"))
	assert.Error(t, s.ReadyForDraft())
	require.NoError(t, s.Answer(1, "   "))
	assert.Error(t, s.ReadyForDraft())
	require.NoError(t, s.Answer(1, "June"))
	assert.Error(t, s.Answer(2, "nope"))

	draftReq, err := s.DraftRequest()
	require.NoError(t, err)
	assert.Equal(t, []string{"1500", "June"}, draftReq.Answers)
	assert.Equal(t, "Fixed price", draftReq.SelectedTemplate)

	require.NoError(t, s.SetDraft("# Title"))
	assert.Equal(t, StepContract, s.CurrentStep)
	assert.Error(t, s.SetProject("changed", "", ""), "steps never regress")
	assert.Equal(t, StepContract, s.CurrentStep)
}

func TestSetProjectResetsQuestions(t *testing.T) {
	s := atProject(t)
	require.NoError(t, s.SetProject("first", "", ""))
	require.NoError(t, s.SetQuestions([]string{"Q?"}))
	require.NoError(t, s.SetProject("second", "", ""))
	assert.Empty(t, s.Questions)
	assert.Empty(t, s.Answers)
}

func TestMetadataCarriesWizardState(t *testing.T) {
	s := atProject(t)
	require.NoError(t, s.SetProject("Logo", "brief", "Fixed"))
	raw, err := s.Metadata()
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "Buyer", meta["role"])
	assert.Equal(t, "Jordan Lee", meta["name"])
	assert.Equal(t, false, meta["hasPartner"])
	assert.Equal(t, "brief", meta["fileContent"])
	for _, key := range []string{"kycLevel", "location", "partnerName", "input", "questions", "questionResponses", "selectedTemplate"} {
		assert.Contains(t, meta, key)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := atProject(t)
	require.NoError(t, s.SetProject("Logo", "", ""))
	require.NoError(t, s.SetQuestions([]string{"Q?"}))
	c := s.Clone()
	require.NoError(t, s.Answer(0, "changed"))
	*s.HasPartner = true
	assert.Equal(t, "", c.Answers[0])
	assert.False(t, *c.HasPartner)
}
