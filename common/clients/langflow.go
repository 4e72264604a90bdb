package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lyzr/flowdeploy/common/cache"
)

// LangflowClient talks to one environment's flow service REST API
type LangflowClient struct {
	baseURL  string
	username string
	password string
	http     *HTTPClient
	cache    cache.Cache
	tokenTTL time.Duration
	logger   Logger
}

// LangflowOptions configures a LangflowClient
type LangflowOptions struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Cache    cache.Cache
	TokenTTL time.Duration
	Recorder Recorder
}

// Project is a flow service folder
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FlowCreate is the body of POST /api/v1/flows/
type FlowCreate struct {
	Name         string          `json:"name"`
	Description  *string         `json:"description"`
	Data         json.RawMessage `json:"data"`
	EndpointName *string         `json:"endpoint_name"`
	Gradient     *string         `json:"gradient"`
	IsComponent  bool            `json:"is_component"`
	Tags         json.RawMessage `json:"tags"`
	MCPEnabled   bool            `json:"mcp_enabled"`
	FolderID     string          `json:"folder_id"`
	Icon         *string         `json:"icon"`
}

// CreatedFlow is the part of the creation answer the deployer uses
type CreatedFlow struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	UserID       string  `json:"user_id"`
	FolderID     string  `json:"folder_id"`
	EndpointName *string `json:"endpoint_name"`
}

// NewLangflowClient creates a new flow service client
func NewLangflowClient(opts LangflowOptions, logger Logger) *LangflowClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ttl := opts.TokenTTL
	if ttl == 0 {
		ttl = 300 * time.Second
	}

	return &LangflowClient{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		http:     NewHTTPClient(&http.Client{Timeout: timeout}, logger).Instrument("langflow", opts.Recorder),
		cache:    opts.Cache,
		tokenTTL: ttl,
		logger:   logger,
	}
}

// Username returns the account the client logs in as
func (c *LangflowClient) Username() string {
	return c.username
}

// Token logs in (or reuses a cached bearer token)
func (c *LangflowClient) Token(ctx context.Context) (string, error) {
	key := fmt.Sprintf("langflow:token:%s:%s", c.baseURL, c.username)
	if c.cache != nil {
		if v, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return string(v), nil
		}
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.http.DoForm(ctx, "login", c.baseURL+"/api/v1/login", form.Encode(), &resp, http.StatusOK); err != nil {
		return "", fmt.Errorf("failed to log in to flow service: %w", err)
	}
	if resp.AccessToken == "" {
		return "", &RemoteError{Service: "langflow", Endpoint: "login", Status: http.StatusOK, Body: "empty access_token"}
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, []byte(resp.AccessToken), c.tokenTTL); err != nil {
			c.logger.Warn("failed to cache flow service token", "error", err)
		}
	}

	c.logger.Debug("logged in to flow service", "url", c.baseURL, "username", c.username)
	return resp.AccessToken, nil
}

// ListProjects returns every folder visible to the account
func (c *LangflowClient) ListProjects(ctx context.Context) ([]Project, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	var projects []Project
	if err := c.http.DoJSON(ctx, "list_projects", http.MethodGet, c.baseURL+"/api/v1/projects/", nil, &projects, http.StatusOK, WithBearer(token)); err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return projects, nil
}

// CreateProject creates a folder and returns it
func (c *LangflowClient) CreateProject(ctx context.Context, name string) (*Project, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"name":            name,
		"description":     "",
		"flows_list":      []string{},
		"components_list": []string{},
	}

	var project Project
	if err := c.http.DoJSON(ctx, "create_project", http.MethodPost, c.baseURL+"/api/v1/projects/", body, &project, http.StatusCreated, WithBearer(token)); err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	c.logger.Info("created folder", "name", name, "id", project.ID)
	return &project, nil
}

// CreateFlow creates a flow through the API
func (c *LangflowClient) CreateFlow(ctx context.Context, flow FlowCreate) (*CreatedFlow, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	var created CreatedFlow
	if err := c.http.DoJSON(ctx, "create_flow", http.MethodPost, c.baseURL+"/api/v1/flows/", flow, &created, http.StatusCreated, WithBearer(token)); err != nil {
		return nil, fmt.Errorf("failed to create flow %s: %w", flow.Name, err)
	}

	c.logger.Info("created flow", "name", created.Name, "id", created.ID)
	return &created, nil
}
