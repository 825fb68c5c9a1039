package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"minimal-sessions/common"
	"minimal-sessions/configs"
)

// APIError is a non-2xx answer from the session server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s (request %s)", e.Status, e.Code, e.Message, e.RequestID)
}

// SessionClient calls the session server on behalf of one user.
type SessionClient struct {
	baseURL    string
	userID     string
	authHeader string
	httpClient *http.Client
}

// NewSessionClient talks to the server at baseURL, e.g. "http://localhost:8080".
func NewSessionClient(baseURL, userID string) *SessionClient {
	return &SessionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		authHeader: configs.DefaultAuthHeader,
		httpClient: http.DefaultClient,
	}
}

func (c *SessionClient) UserID() string { return c.userID }

// PutKeys publishes the user's long-term exchange key and signing key.
func (c *SessionClient) PutKeys(ctx context.Context, exchangeKey, signingKey string) (*common.Identity, error) {
	var out struct {
		User common.Identity `json:"user"`
	}
	body := map[string]string{"ecdhPublicKey": exchangeKey, "ecdsaPublicKey": signingKey}
	if err := c.do(ctx, http.MethodPut, configs.KeysPath, body, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *SessionClient) GetKeys(ctx context.Context, userID string) (*common.Identity, error) {
	var out common.Identity
	if err := c.do(ctx, http.MethodGet, configs.KeysPath+"/"+url.PathEscape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionClient) GetOrCreate(ctx context.Context, peerID string, hs *Handshake) (*common.SessionView, error) {
	body := map[string]string{
		"otherUserId":   peerID,
		"ecdhPublicKey": hs.PublicKey,
		"ecdhSignature": hs.Signature,
	}
	var out common.SessionView
	if err := c.do(ctx, http.MethodPost, configs.SessionsPath+"/get-or-create", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionClient) GetSession(ctx context.Context, sessionID string) (*common.SessionView, error) {
	var out common.SessionView
	if err := c.do(ctx, http.MethodGet, configs.SessionsPath+"/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionClient) Rotate(ctx context.Context, sessionID string, hs *Handshake) (*common.SessionView, error) {
	body := map[string]string{
		"newEcdhPublicKey": hs.PublicKey,
		"newEcdhSignature": hs.Signature,
	}
	var out common.SessionView
	path := configs.SessionsPath + "/" + url.PathEscape(sessionID) + "/rotate"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SessionClient) Cleanup(ctx context.Context) (int, error) {
	var out struct {
		DeletedCount int `json:"deletedCount"`
	}
	if err := c.do(ctx, http.MethodPost, configs.SessionsPath+"/cleanup", nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// SubscribeEvents opens the event stream for the user.
func (c *SessionClient) SubscribeEvents(ctx context.Context) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + configs.EventsPath
	header := http.Header{}
	header.Set(c.authHeader, c.userID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to event stream: %w", err)
	}
	return conn, nil
}

func (c *SessionClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(c.authHeader, c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			RequestID string `json:"request_id"`
			Error     struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Code: e.Error.Code, Message: e.Error.Message, RequestID: e.RequestID}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
