// Package api is the client side of the inbox REST boundary.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inboxsync/internal/domain"
	"inboxsync/internal/security"
)

const maxErrorBody = 4 << 10

// Client calls the inbox REST API. Every authenticated request asks the
// token source for a fresh bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  security.TokenSource
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for baseURL, e.g. "http://localhost:8000/api".
func NewClient(baseURL string, tokens security.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "api")
	return c
}

// SetTokenSource replaces the token source, e.g. once a login source exists.
func (c *Client) SetTokenSource(ts security.TokenSource) {
	c.tokens = ts
}

// Page is one page of GET /conversations. HasMore is nil when the server
// does not declare it.
type Page struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	HasMore       *bool                        `json:"hasMore,omitempty"`
}

// ListConversations fetches one page of the user's conversation summaries.
func (c *Client) ListConversations(ctx context.Context, page, limit int, sort string) (*Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if sort != "" {
		q.Set("sort", sort)
	}
	var out Page
	if err := c.do(ctx, http.MethodGet, "/conversations?"+q.Encode(), nil, &out, true); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return &out, nil
}

type bulkDeleteRequest struct {
	ConversationIDs []string `json:"conversationIds"`
}

// BulkDelete removes the given conversations from the user's inbox.
func (c *Client) BulkDelete(ctx context.Context, ids []string) error {
	if err := c.do(ctx, http.MethodDelete, "/conversations/bulk-delete", bulkDeleteRequest{ConversationIDs: ids}, nil, true); err != nil {
		return fmt.Errorf("bulk delete: %w", err)
	}
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges credentials for a new access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Username: username, Password: password}, &out, false); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("login: %w", domain.ErrUnauthorized)
	}
	return out.AccessToken, nil
}

type createConversationRequest struct {
	ParticipantID string          `json:"participantId"`
	Product       *domain.Product `json:"product,omitempty"`
}

// CreateConversation opens (or returns the existing) direct conversation
// with another user.
func (c *Client) CreateConversation(ctx context.Context, participantID string, product *domain.Product) (*domain.ConversationSummary, error) {
	var out domain.ConversationSummary
	req := createConversationRequest{ParticipantID: participantID, Product: product}
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &out, true); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &out, nil
}

type sendMessageRequest struct {
	Content string             `json:"content"`
	Type    domain.MessageType `json:"type,omitempty"`
}

// SendMessage posts a message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, typ domain.MessageType) (*domain.Message, error) {
	var out domain.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, sendMessageRequest{Content: content, Type: typ}, &out, true); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &out, nil
}

// MarkRead marks every message of the conversation as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, true); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func messagePath(conversationID, messageID string) string {
	return "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
}

// EditMessage replaces the content of one of the caller's messages.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, content string) (*domain.Message, error) {
	var out domain.Message
	if err := c.do(ctx, http.MethodPatch, messagePath(conversationID, messageID), editMessageRequest{Content: content}, &out, true); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return &out, nil
}

// DeleteMessage removes one of the caller's messages for every member.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := c.do(ctx, http.MethodDelete, messagePath(conversationID, messageID), nil, nil, true); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DirectoryEntry is a user that a conversation can be opened with.
type DirectoryEntry struct {
	domain.Participant
	IsOnline bool `json:"isOnline"`
}

// ListUsers returns every other user of the backend.
func (c *Client) ListUsers(ctx context.Context) ([]DirectoryEntry, error) {
	var out []DirectoryEntry
	if err := c.do(ctx, http.MethodGet, "/users", nil, &out, true); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.tokens == nil {
			return domain.ErrUnauthorized
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request done", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Status: resp.StatusCode, Message: errorMessage(msg)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("decode response: %w: %w", domain.ErrTransient, ctx.Err())
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
