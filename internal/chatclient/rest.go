package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// APIError is the error body returned by the REST API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// API is a thin REST client for the endpoints a terminal session needs.
type API struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = http.DefaultClient
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (a *API) Token() string { return a.token }

func (a *API) SetToken(token string) { a.token = token }

// WebsocketURL derives the socket endpoint from the base URL.
func (a *API) WebsocketURL() (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login exchanges credentials for a session token and keeps it for later
// calls.
func (a *API) Login(ctx context.Context, email, password string) (types.User, error) {
	var resp struct {
		User  types.User `json:"user"`
		Token string     `json:"token"`
	}

	err := a.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return types.User{}, err
	}

	a.token = resp.Token
	return resp.User, nil
}

func (a *API) Register(ctx context.Context, name, email, password string) (types.User, error) {
	var user types.User
	err := a.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, &user)
	return user, err
}

func (a *API) Conversations(ctx context.Context) ([]types.Conversation, error) {
	var convs []types.Conversation
	err := a.do(ctx, http.MethodGet, "/api/conversations", nil, &convs)
	return convs, err
}

// CreateDirect opens (or returns the existing) one to one conversation with
// userId.
func (a *API) CreateDirect(ctx context.Context, userId string) (types.Conversation, error) {
	var conv types.Conversation
	err := a.do(ctx, http.MethodPost, "/api/conversations", map[string]any{
		"participantIds": []string{userId},
	}, &conv)
	return conv, err
}

// Messages fetches a page of a conversation's history, oldest first.
func (a *API) Messages(ctx context.Context, conversationId string, page, limit int) ([]types.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var msgs []types.Message
	err := a.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationId)+"/messages?"+q.Encode(), nil, &msgs)
	return msgs, err
}

func (a *API) Unread(ctx context.Context, conversationId string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := a.do(ctx, http.MethodGet, "/api/messages/unread?conversationId="+url.QueryEscape(conversationId), nil, &resp)
	return resp.Count, err
}

func (a *API) MarkConversationRead(ctx context.Context, conversationId string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := a.do(ctx, http.MethodPut, "/api/conversations/"+url.PathEscape(conversationId)+"/read", nil, &resp)
	return resp.Count, err
}

// Sync loads the conversation list, the newest page of each conversation
// and its unread count into store.
func (a *API) Sync(ctx context.Context, store *Store, pageSize int) error {
	convs, err := a.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	store.SetConversations(convs)

	for _, conv := range convs {
		msgs, err := a.Messages(ctx, conv.Id, 1, pageSize)
		if err != nil {
			return fmt.Errorf("load messages for %s: %w", conv.Id, err)
		}
		store.ApplyPage(conv.Id, msgs)

		n, err := a.Unread(ctx, conv.Id)
		if err != nil {
			return fmt.Errorf("unread count for %s: %w", conv.Id, err)
		}
		store.SetUnread(conv.Id, n)
	}

	return nil
}
