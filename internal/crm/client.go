// Package crm links chat sessions to CRM contacts and keeps each contact's
// conversation property in step with the session transcript.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.hubapi.com"
	defaultTimeout = 8 * time.Second
	defaultRPS     = 5

	// ConversationProperty is the contact property holding the transcript.
	ConversationProperty = "chatbot_conversation"
)

// Client is the CRM contact API.
type Client interface {
	// SearchByEmail returns the id of the contact whose email matches exactly.
	SearchByEmail(ctx context.Context, email string) (id string, found bool, err error)
	// CreateContact creates a contact. If one already exists it returns a
	// *ConflictError.
	CreateContact(ctx context.Context, props map[string]string) (string, error)
	// UpdateContact applies a partial property update.
	UpdateContact(ctx context.Context, id string, props map[string]string) error
}

// ConflictError reports that a contact already exists. ExistingID is empty
// when the CRM response carried no id hint.
type ConflictError struct {
	ExistingID string
}

func (e *ConflictError) Error() string {
	if e.ExistingID == "" {
		return "contact already exists"
	}
	return "contact already exists: " + e.ExistingID
}

// StatusError is a non-success HTTP response from the CRM.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm returned %d: %s", e.Code, e.Body)
}

var existingIDPattern = regexp.MustCompile(`Existing ID:\s*(\d+)`)

// HubSpotOptions configures a HubSpotClient.
type HubSpotOptions struct {
	Token   string
	BaseURL string
	// RPS bounds outbound requests per second.
	RPS     float64
	Timeout time.Duration
	// HTTPClient is the transport the bearer token is layered on.
	HTTPClient *http.Client
}

// HubSpotClient implements Client against the HubSpot CRM v3 contacts API.
type HubSpotClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHubSpot returns a HubSpot client authenticated with a private-app token.
func NewHubSpot(opts HubSpotOptions) (*HubSpotClient, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("hubspot token required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}

	ctx := context.Background()
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: opts.Token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = timeout

	return &HubSpotClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}, nil
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type contactResponse struct {
	ID string `json:"id"`
}

type searchResponse struct {
	Results []contactResponse `json:"results"`
}

type propertiesRequest struct {
	Properties map[string]string `json:"properties"`
}

// SearchByEmail implements Client.
func (h *HubSpotClient) SearchByEmail(ctx context.Context, email string) (string, bool, error) {
	req := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{
			PropertyName: "email",
			Operator:     "EQ",
			Value:        email,
		}}}},
		Properties: []string{"email"},
		Limit:      1,
	}
	var resp searchResponse
	if err := h.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", req, &resp); err != nil {
		return "", false, fmt.Errorf("search contact: %w", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].ID == "" {
		return "", false, nil
	}
	return resp.Results[0].ID, true, nil
}

// CreateContact implements Client.
func (h *HubSpotClient) CreateContact(ctx context.Context, props map[string]string) (string, error) {
	var resp contactResponse
	err := h.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", propertiesRequest{Properties: props}, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusConflict {
			conflict := &ConflictError{}
			if m := existingIDPattern.FindStringSubmatch(se.Body); m != nil {
				conflict.ExistingID = m[1]
			}
			return "", conflict
		}
		return "", fmt.Errorf("create contact: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("create contact: response has no id")
	}
	return resp.ID, nil
}

// UpdateContact implements Client.
func (h *HubSpotClient) UpdateContact(ctx context.Context, id string, props map[string]string) error {
	if err := h.do(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+id, propertiesRequest{Properties: props}, nil); err != nil {
		return fmt.Errorf("update contact %s: %w", id, err)
	}
	return nil
}

func (h *HubSpotClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
