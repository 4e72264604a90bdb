package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PromptClient talks to the prompt-management public API
type PromptClient struct {
	baseURL   string
	publicKey string
	secretKey string
	pageSize  int
	http      *HTTPClient
	logger    Logger
}

// PromptOptions configures a PromptClient
type PromptOptions struct {
	BaseURL   string
	PublicKey string
	SecretKey string
	PageSize  int
	Timeout   time.Duration
	Recorder  Recorder
}

// PromptMeta is one entry of the prompt listing
type PromptMeta struct {
	Name     string   `json:"name"`
	Versions []int    `json:"versions"`
	Labels   []string `json:"labels"`
	Tags     []string `json:"tags"`
}

// HasLabel reports whether any version of the prompt carries label
func (p PromptMeta) HasLabel(label string) bool {
	for _, l := range p.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Prompt is one prompt version
type Prompt struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version int      `json:"version"`
	Labels  []string `json:"labels"`
	Tags    []string `json:"tags"`
}

// PromptFilter narrows ListPrompts
type PromptFilter struct {
	Name  string
	Label string
	Tag   string
}

// NewPromptClient creates a new prompt service client
func NewPromptClient(opts PromptOptions, logger Logger) *PromptClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return &PromptClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		publicKey: opts.PublicKey,
		secretKey: opts.SecretKey,
		pageSize:  pageSize,
		http:      NewHTTPClient(&http.Client{Timeout: timeout}, logger).Instrument("prompts", opts.Recorder),
		logger:    logger,
	}
}

// ListPrompts walks every page of GET /api/public/v2/prompts
func (c *PromptClient) ListPrompts(ctx context.Context, filter PromptFilter) ([]PromptMeta, error) {
	var all []PromptMeta
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(c.pageSize))
		if filter.Name != "" {
			q.Set("name", filter.Name)
		}
		if filter.Label != "" {
			q.Set("label", filter.Label)
		}
		if filter.Tag != "" {
			q.Set("tag", filter.Tag)
		}

		var resp struct {
			Data       []PromptMeta `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				TotalPages int `json:"totalPages"`
			} `json:"pagination"`
		}
		endpoint := c.baseURL + "/api/public/v2/prompts?" + q.Encode()
		if err := c.http.DoJSON(ctx, "list_prompts", http.MethodGet, endpoint, nil, &resp, http.StatusOK, c.auth()); err != nil {
			return nil, fmt.Errorf("failed to list prompts (page %d): %w", page, err)
		}

		all = append(all, resp.Data...)
		if page >= resp.Pagination.TotalPages {
			break
		}
	}

	c.logger.Debug("listed prompts", "label", filter.Label, "count", len(all))
	return all, nil
}

// GetPrompt fetches one prompt by label or version (zero values are omitted)
func (c *PromptClient) GetPrompt(ctx context.Context, name string, version int, label string) (*Prompt, error) {
	q := url.Values{}
	if version > 0 {
		q.Set("version", strconv.Itoa(version))
	}
	if label != "" {
		q.Set("label", label)
	}

	endpoint := fmt.Sprintf("%s/api/public/v2/prompts/%s", c.baseURL, url.PathEscape(name))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var p Prompt
	if err := c.http.DoJSON(ctx, "get_prompt", http.MethodGet, endpoint, nil, &p, http.StatusOK, c.auth()); err != nil {
		return nil, fmt.Errorf("failed to get prompt %s: %w", name, err)
	}
	return &p, nil
}

// SetLabels adds labels to a prompt version
func (c *PromptClient) SetLabels(ctx context.Context, name string, version int, labels []string) error {
	endpoint := fmt.Sprintf("%s/api/public/v2/prompts/%s/versions/%d", c.baseURL, url.PathEscape(name), version)

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.http.DoJSON(ctx, "update_labels", http.MethodPatch, endpoint, map[string]any{"newLabels": labels}, &resp, http.StatusOK, c.auth()); err != nil {
		return fmt.Errorf("failed to label prompt %s v%d: %w", name, version, err)
	}
	if resp.ID == "" {
		return &RemoteError{Service: "prompts", Endpoint: "update_labels", Status: http.StatusOK, Body: "response without id"}
	}

	c.logger.Info("labelled prompt version", "name", name, "version", version, "labels", labels)
	return nil
}

// LabelVersions maps each prompt name carrying label to the labelled version
func (c *PromptClient) LabelVersions(ctx context.Context, label string) (map[string]int, error) {
	metas, err := c.ListPrompts(ctx, PromptFilter{Label: label})
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(metas))
	for _, m := range metas {
		p, err := c.GetPrompt(ctx, m.Name, 0, label)
		if err != nil {
			return nil, err
		}
		out[m.Name] = p.Version
	}
	return out, nil
}

func (c *PromptClient) auth() RequestOption {
	return WithBasicAuth(c.publicKey, c.secretKey)
}
