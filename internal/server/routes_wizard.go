package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"smartrust/internal/domain"
	"smartrust/internal/engine"
	"smartrust/internal/generation"
	"smartrust/internal/identity"
	"smartrust/internal/wizard"
)

var generationErrors = []int{
	http.StatusBadRequest,
	http.StatusTooManyRequests,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
}

func registerGeneration(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "clarifying-questions",
		Method:      http.MethodPost,
		Path:        "/clarifying-questions",
		Summary:     "Ask for clarifying questions about a project",
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body generation.QuestionsRequest `json:"body"`
	}) (*struct {
		Body QuestionsResponse `json:"body"`
	}, error) {
		if input.Body.Input == "" && input.Body.FileContent == "" {
			return nil, handleError(&wizard.ValidationError{Field: "input", Message: "Please provide details about your project or services"})
		}
		qs, err := e.ClarifyingQuestions(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestionsResponse `json:"body"`
		}{Body: QuestionsResponse{Questions: nonNilSlice(qs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-contract",
		Method:      http.MethodPost,
		Path:        "/generate-contract",
		Summary:     "Generate a contract draft",
		Errors:      generationErrors,
	}, func(ctx context.Context, input *struct {
		Body generation.DraftRequest `json:"body"`
	}) (*struct {
		Body GeneratedContractResponse `json:"body"`
	}, error) {
		key := clientKey(ctx)
		md, err := e.GenerateContract(ctx, identity.FromContext(ctx), key, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GeneratedContractResponse `json:"body"`
		}{Body: GeneratedContractResponse{Contract: md, Remaining: e.Quota.Remaining(key)}}, nil
	})
}

type wizardOutput struct {
	Body engine.WizardView `json:"body"`
}

type wizardPath struct {
	ID string `path:"id"`
}

func wizardResult(view engine.WizardView, err error) (*wizardOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &wizardOutput{Body: view}, nil
}

func registerWizards(api huma.API, e engine.Engine) {
	stepErrors := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict}

	huma.Register(api, huma.Operation{
		OperationID:   "create-wizard",
		Method:        http.MethodPost,
		Path:          "/wizards",
		Summary:       "Start a contract wizard",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*wizardOutput, error) {
		return &wizardOutput{Body: e.CreateWizard(clientKey(ctx))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-wizard",
		Method:      http.MethodGet,
		Path:        "/wizards/{id}",
		Summary:     "Get wizard state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *wizardPath) (*wizardOutput, error) {
		return wizardResult(e.GetWizard(input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-role",
		Method:      http.MethodPost,
		Path:        "/wizards/{id}/role",
		Summary:     "Choose the role",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body RoleRequest `json:"body"`
	}) (*wizardOutput, error) {
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, handleError(&wizard.ValidationError{Field: "role", Message: err.Error()})
		}
		return wizardResult(e.ChooseRole(input.ID, role))
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-kyc",
		Method:      http.MethodPost,
		Path:        "/wizards/{id}/kyc",
		Summary:     "Choose the identity verification level",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		ID   string     `path:"id"`
		Body KYCRequest `json:"body"`
	}) (*wizardOutput, error) {
		level, err := domain.ParseKYCLevel(input.Body.KYCLevel)
		if err != nil {
			return nil, handleError(&wizard.ValidationError{Field: "kycLevel", Message: err.Error()})
		}
		return wizardResult(e.ChooseKYC(input.ID, level))
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-identity",
		Method:      http.MethodPost,
		Path:        "/wizards/{id}/identity",
		Summary:     "Enter name, location and partner",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body wizard.Identity `json:"body"`
	}) (*wizardOutput, error) {
		return wizardResult(e.SetIdentity(input.ID, input.Body))
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-project",
		Method:      http.MethodPost,
		Path:        "/wizards/{id}/project",
		Summary:     "Describe the project",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ProjectRequest `json:"body"`
	}) (*wizardOutput, error) {
		return wizardResult(e.SetProject(input.ID, input.Body.Input, input.Body.FileContent, input.Body.SelectedTemplate))
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-questions",
		Method:      http.MethodPost,
		Path:        "/wizards/{id}/questions",
		Summary:     "Fetch clarifying questions",
		Errors:      append(stepErrors, http.StatusBadGateway, http.StatusServiceUnavailable),
	}, func(ctx context.Context, input *wizardPath) (*wizardOutput, error) {
		return wizardResult(e.WizardQuestions(ctx, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-answers",
		Method:      http.MethodPost,
		Path:        "/wizards/{id}/answers",
		Summary:     "Answer a clarifying question",
		Errors:      stepErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AnswerRequest `json:"body"`
	}) (*wizardOutput, error) {
		return wizardResult(e.Answer(input.ID, input.Body.Index, input.Body.Answer))
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-draft",
		Method:      http.MethodPost,
		Path:        "/wizards/{id}/draft",
		Summary:     "Generate the contract draft",
		Errors:      append(stepErrors, http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable),
	}, func(ctx context.Context, input *wizardPath) (*wizardOutput, error) {
		return wizardResult(e.WizardDraft(ctx, identity.FromContext(ctx), input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "wizard-save",
		Method:        http.MethodPost,
		Path:          "/wizards/{id}/save",
		Summary:       "Save the contract and create its tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        append(stepErrors, http.StatusUnauthorized, http.StatusUnprocessableEntity),
	}, func(ctx context.Context, input *wizardPath) (*struct {
		Body SaveContractResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		saved, err := e.SaveWizard(ctx, p, input.ID)
		resp := SaveContractResponse{
			Contract: engine.NewContractView(saved.Contract, nil),
			Tasks:    nonNilSlice(saved.Tasks),
		}
		var warn *engine.TaskCreationWarning
		if errors.As(err, &warn) {
			resp.Warning = "Contract saved, but there was an issue creating tasks."
		} else if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SaveContractResponse `json:"body"`
		}{Body: resp}, nil
	})
}
