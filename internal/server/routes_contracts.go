package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"smartrust/internal/board"
	"smartrust/internal/domain"
	"smartrust/internal/engine"
	"smartrust/internal/identity"
	"smartrust/internal/repo"
)

type contractPath struct {
	ContractID int64 `path:"contract_id"`
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "catalog-roles",
		Method:      http.MethodGet,
		Path:        "/catalog/roles",
		Summary:     "Roles and identity verification levels",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogRolesResponse `json:"body"`
	}, error) {
		return &struct {
			Body CatalogRolesResponse `json:"body"`
		}{Body: CatalogRolesResponse{Roles: domain.Roles(), KYCLevels: domain.KYCLevels()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ref-tasks",
		Method:      http.MethodGet,
		Path:        "/ref-tasks",
		Summary:     "Reference-task catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.RefTask `json:"body"`
	}, error) {
		items, err := e.RefTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RefTask `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerContracts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "Contracts owned by or shared with the caller",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.ContractView `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListContracts(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.ContractView `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}",
		Summary:     "Contract detail",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*struct {
		Body engine.ContractView `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetContract(ctx, p, input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ContractView `json:"body"`
		}{Body: c}, nil
	})
}

func registerBoards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/contracts/{contract_id}/board",
		Summary:     "Task board of a contract",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *contractPath) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		lanes, err := e.Board(ctx, identity.FromContext(ctx), input.ContractID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: BoardResponse{ContractID: input.ContractID, Lanes: lanes}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/contracts/{contract_id}/board/moves",
		Summary:     "Drop a task at a new position",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ContractID int64      `path:"contract_id"`
		Body       board.Move `json:"body"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		lanes, err := e.MoveTask(ctx, identity.FromContext(ctx), input.ContractID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: BoardResponse{ContractID: input.ContractID, Lanes: lanes}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/contracts/{contract_id}/tasks",
		Summary:       "Add a task to a lane",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ContractID int64             `path:"contract_id"`
		Body       CreateTaskRequest `json:"body"`
	}) (*struct {
		Body CreateTaskResponse `json:"body"`
	}, error) {
		status := domain.TaskStatus(input.Body.Status)
		if status == "" {
			status = domain.StatusTodo
		}
		task, lanes, err := e.CreateTask(ctx, identity.FromContext(ctx), input.ContractID, status, input.Body.Label)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateTaskResponse `json:"body"`
		}{Body: CreateTaskResponse{Task: task, Lanes: lanes}}, nil
	})
}

func registerInvites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invite",
		Method:        http.MethodPost,
		Path:          "/contracts/{contract_id}/invites",
		Summary:       "Share a contract by email",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContractID int64         `path:"contract_id"`
		Body       InviteRequest `json:"body"`
	}) (*struct {
		Body engine.InviteLink `json:"body"`
	}, error) {
		link, err := e.Invite(ctx, identity.FromContext(ctx), input.ContractID, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.InviteLink `json:"body"`
		}{Body: link}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invite",
		Method:      http.MethodGet,
		Path:        "/invites/{id}",
		Summary:     "Resolve an invite link",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body engine.InviteView `json:"body"`
	}, error) {
		inv, err := e.GetInvite(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.InviteView `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "newsletter-signup",
		Method:      http.MethodPost,
		Path:        "/newsletter",
		Summary:     "Subscribe to the newsletter",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body NewsletterRequest `json:"body"`
	}) (*struct {
		Body NewsletterResponse `json:"body"`
	}, error) {
		signup, already, err := e.Subscribe(ctx, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		msg := "Thanks for subscribing!"
		if already {
			msg = "You are already subscribed."
		}
		return &struct {
			Body NewsletterResponse `json:"body"`
		}{Body: NewsletterResponse{Email: signup.Email, AlreadySubscribed: already, Message: msg}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events of a contract",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContractID int64  `query:"contract_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"contract,task,invite"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, identity.FromContext(ctx), limit+1, cursorID, repo.EventFilter{
			ContractID: input.ContractID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
