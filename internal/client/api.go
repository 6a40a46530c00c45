package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"authsession/internal/models"
)

// APIError is a non-2xx answer from the auth API. Message is the server's
// human-readable message when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth api: %d %s", e.Status, e.Message)
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ProfileInput struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type AuthResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    models.PublicUser `json:"user"`
}

// API talks to the auth HTTP surface. The bearer token is read from storage
// on every request.
type API struct {
	baseURL string
	http    *http.Client
	storage Storage
}

func NewAPI(baseURL string, httpClient *http.Client, storage Storage) *API {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		storage: storage,
	}
}

func (a *API) Register(ctx context.Context, input RegisterInput) (AuthResponse, error) {
	var resp AuthResponse
	err := a.do(ctx, http.MethodPost, "/register", input, &resp)
	return resp, err
}

func (a *API) Login(ctx context.Context, creds Credentials) (AuthResponse, error) {
	var resp AuthResponse
	err := a.do(ctx, http.MethodPost, "/login", creds, &resp)
	return resp, err
}

func (a *API) Me(ctx context.Context) (models.PublicUser, error) {
	var resp struct {
		User models.PublicUser `json:"user"`
	}
	err := a.do(ctx, http.MethodGet, "/me", nil, &resp)
	return resp.User, err
}

func (a *API) UpdateDetails(ctx context.Context, input ProfileInput) (models.PublicUser, error) {
	var resp struct {
		User models.PublicUser `json:"user"`
	}
	err := a.do(ctx, http.MethodPut, "/updatedetails", input, &resp)
	return resp.User, err
}

func (a *API) UpdatePassword(ctx context.Context, current, next string) (string, error) {
	body := map[string]string{"currentPassword": current, "newPassword": next}
	var resp struct {
		Token string `json:"token"`
	}
	err := a.do(ctx, http.MethodPut, "/updatepassword", body, &resp)
	return resp.Token, err
}

func (a *API) Logout(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, "/logout", nil, nil)
}

func (a *API) Users(ctx context.Context) ([]models.PublicUser, error) {
	var resp struct {
		Count int                 `json:"count"`
		Users []models.PublicUser `json:"users"`
	}
	err := a.do(ctx, http.MethodGet, "/users", nil, &resp)
	return resp.Users, err
}

func (a *API) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.storage != nil {
		token, ok, err := a.storage.Get(TokenKey)
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if ok && len(token) > 0 {
			req.Header.Set("Authorization", "Bearer "+string(token))
		}
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Message = payload.Message
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
