package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"smartrust/internal/identity"
)

func registerAuth(api huma.API, ids identity.Service, allowDevLogin bool) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-otp",
		Method:        http.MethodPost,
		Path:          "/auth/otp",
		Summary:       "Send a one-time passcode",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body OTPRequest `json:"body"`
	}) (*struct {
		Body OTPResponse `json:"body"`
	}, error) {
		ch, err := ids.RequestOTP(ctx, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		expires, _ := time.Parse(time.RFC3339, ch.ExpiresAt)
		return &struct {
			Body OTPResponse `json:"body"`
		}{Body: OTPResponse{
			Email:              ch.Email,
			ExpiresAt:          expires,
			ResendAfterSeconds: int(ids.Config.Cooldown.Seconds()),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-otp",
		Method:      http.MethodPost,
		Path:        "/auth/verify",
		Summary:     "Redeem a passcode for a session",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body VerifyOTPRequest `json:"body"`
	}) (*struct {
		Body identity.Session `json:"body"`
	}, error) {
		sess, err := ids.VerifyOTP(ctx, input.Body.Email, input.Body.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body identity.Session `json:"body"`
		}{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body identity.CompleteUser `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := ids.CompleteUser(ctx, p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body identity.CompleteUser `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-me",
		Method:      http.MethodPatch,
		Path:        "/me",
		Summary:     "Update display name and photo",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body UpdateProfileRequest `json:"body"`
	}) (*struct {
		Body identity.CompleteUser `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := ids.UpdateProfile(ctx, p, input.Body.DisplayName, input.Body.Photo)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body identity.CompleteUser `json:"body"`
		}{Body: u}, nil
	})

	if !allowDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: sign in without a passcode",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body identity.Session `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		sess, err := ids.DevLogin(ctx, input.Body.Email, input.Body.DisplayName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body identity.Session `json:"body"`
		}{Body: sess}, nil
	})
}
