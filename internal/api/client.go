package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Client is a client for the Multimodal Chat API. A single instance is
// shared by the session store and the conversation controller; the store
// attaches and clears the bearer token, everything else just issues calls.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a new Client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// SetToken attaches a bearer token to all subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ClearToken removes the bearer token.
func (c *Client) ClearToken() {
	c.token = ""
}

// Token returns the currently attached bearer token, if any.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// decodeError turns a non-2xx response into an *AuthError or *APIError,
// extracting the FastAPI-style {"detail": "..."} body when present.
func decodeError(resp *http.Response, auth bool) error {
	var payload struct {
		Detail string `json:"detail"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(body, &payload)

	if auth {
		return &AuthError{StatusCode: resp.StatusCode, Message: payload.Detail}
	}
	return &APIError{StatusCode: resp.StatusCode, Detail: payload.Detail}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, auth bool) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(payload)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, auth)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Register creates an account and returns the access token and profile.
func (c *Client) Register(ctx context.Context, email, username, password string) (TokenResponse, error) {
	in := map[string]string{"email": email, "username": username, "password": password}
	var out TokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", in, &out, true)
	return out, err
}

// Login exchanges credentials for an access token and profile.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	in := map[string]string{"email": email, "password": password}
	var out TokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", in, &out, true)
	return out, err
}

// ListSessions returns the authenticated user's sessions in server order.
func (c *Client) ListSessions(ctx context.Context) ([]ChatSession, error) {
	var out []ChatSession
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/sessions", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession creates a new session; the server assigns id and title.
func (c *Client) CreateSession(ctx context.Context) (ChatSession, error) {
	var out ChatSession
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/sessions", nil, &out, false)
	return out, err
}

// DeleteSession deletes a session and all its messages.
func (c *Client) DeleteSession(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/chat/sessions/%d", id), nil, nil, false)
}

// ListMessages returns a session's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	var out []Message
	path := fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a multipart message (text plus optional image file) to a
// session and returns the assistant reply the server generated. Callers that
// care about the full conversation should refetch rather than trust the
// returned payload; the server is authoritative for ids and timestamps.
func (c *Client) SendMessage(ctx context.Context, sessionID int64, text, imagePath string) (Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("text", text); err != nil {
		return Message{}, err
	}
	if imagePath != "" {
		f, err := os.Open(imagePath)
		if err != nil {
			return Message{}, err
		}
		defer f.Close()
		part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
		if err != nil {
			return Message{}, err
		}
		if _, err := io.Copy(part, f); err != nil {
			return Message{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Message{}, err
	}

	path := fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID)
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Message{}, decodeError(resp, false)
	}

	var out Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Message{}, err
	}
	return out, nil
}

// HealthStatus is the response of the health endpoint.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Health reports whether the API is reachable and healthy.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &out, false)
	return out, err
}

// ImageURL resolves a server-relative image path against the API origin.
func (c *Client) ImageURL(imagePath string) string {
	return c.baseURL + "/" + strings.TrimLeft(imagePath, "/")
}

// DownloadImage fetches an uploaded image to a uniquely named file in the
// temp directory and returns its local path.
func (c *Client) DownloadImage(ctx context.Context, imagePath string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/"+strings.TrimLeft(imagePath, "/"), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode}
	}

	name := uuid.NewString() + filepath.Ext(imagePath)
	dest := filepath.Join(os.TempDir(), name)
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}
