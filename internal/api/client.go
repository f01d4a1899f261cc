// Package api implements the REST session client for the platform: session
// acquisition, extension and revocation, plus contact and user reads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"contactbot/internal/domain"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL string
	// UID is the stable bot-instance identifier sent on login requests.
	UID        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the platform REST API. It is stateless: session
// credentials are passed per call by the bot facade.
type Client struct {
	baseURL string
	uid     string
	http    *http.Client
	logger  *slog.Logger
}

var _ domain.SessionAPI = (*Client)(nil)

// NewClient creates a REST client for the given base URL.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = sharedHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		uid:     cfg.UID,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

type loginRequest struct {
	Username        string          `json:"username"`
	Authentication  authDescriptor  `json:"authentication"`
	RememberMe      bool            `json:"rememberMe"`
	SecretMachineID string          `json:"secretMachineId"`
}

type authDescriptor struct {
	Type     string `json:"$type"`
	Password string `json:"password"`
}

type loginResponse struct {
	Entity domain.UserSession `json:"entity"`
}

// Login exchanges credentials for a session. A non-200 response surfaces as
// *StatusError; transport failures surface as *NetworkError.
func (c *Client) Login(ctx context.Context, username, password, totp, machineID string) (*domain.UserSession, error) {
	body, err := json.Marshal(loginRequest{
		Username: username,
		Authentication: authDescriptor{
			Type:     "password",
			Password: password,
		},
		RememberMe:      false,
		SecretMachineID: machineID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/userSessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("UID", c.uid)
	if totp != "" {
		req.Header.Set("TOTP", totp)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if lr.Entity.UserID == "" || lr.Entity.Token == "" {
		return nil, fmt.Errorf("login response missing user id or token")
	}
	return &lr.Entity, nil
}

// Extend renews the current session server-side.
func (c *Client) Extend(ctx context.Context, authorization string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/userSessions", nil)
	if err != nil {
		return fmt.Errorf("build extend request: %w", err)
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransport("extend session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}
	return nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context, userID, token, authorization string) error {
	url := fmt.Sprintf("%s/userSessions/%s/%s", c.baseURL, userID, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransport("logout", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}
	return nil
}

// Contacts returns the full contact list for a user.
func (c *Client) Contacts(ctx context.Context, userID, authorization string) ([]domain.Contact, error) {
	url := fmt.Sprintf("%s/users/%s/contacts", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build contacts request: %w", err)
	}
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport("fetch contacts", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var contacts []domain.Contact
	if err := json.NewDecoder(resp.Body).Decode(&contacts); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}
	return contacts, nil
}

// User looks up a public user profile by id.
func (c *Client) User(ctx context.Context, id string) (*domain.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport("fetch user", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var u domain.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if u.ID == "" {
		u.ID = id
	}
	return &u, nil
}

// readStatusError drains a non-200 response into a StatusError. The body is
// kept whole so failures can be diagnosed remotely.
func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}
