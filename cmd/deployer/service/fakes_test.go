package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/clients"
	"github.com/lyzr/flowdeploy/common/db"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/historydb"
	"github.com/lyzr/flowdeploy/common/logger"
	"github.com/lyzr/flowdeploy/common/nodematch"
	"github.com/stretchr/testify/require"
)

// liveState is the content of one fake flow database
type liveState struct {
	users   map[string]string
	folders []models.Folder
	flows   map[string]*models.Flow
}

func (s *liveState) clone() *liveState {
	c := &liveState{
		users:   make(map[string]string, len(s.users)),
		folders: append([]models.Folder(nil), s.folders...),
		flows:   make(map[string]*models.Flow, len(s.flows)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.flows {
		c.flows[k] = v.Clone()
	}
	return c
}

// liveView implements repository.FlowStore over a liveState
type liveView struct {
	state *liveState
}

func (v *liveView) UserID(_ context.Context, username string) (string, error) {
	id, ok := v.state.users[username]
	if !ok {
		return "", fmt.Errorf("user %s: %w", username, repository.ErrNotFound)
	}
	return id, nil
}

func (v *liveView) Folders(_ context.Context, _ string) ([]models.Folder, error) {
	return append([]models.Folder(nil), v.state.folders...), nil
}

func (v *liveView) find(userID, name string) *models.Flow {
	for _, f := range v.state.flows {
		if f.Name == name && (f.UserID == nil || *f.UserID == userID) {
			return f
		}
	}
	return nil
}

func (v *liveView) GetByName(_ context.Context, userID, name string) (*models.Flow, error) {
	f := v.find(userID, name)
	if f == nil {
		return nil, fmt.Errorf("flow %s: %w", name, repository.ErrNotFound)
	}
	return f.Clone(), nil
}

func (v *liveView) Insert(_ context.Context, f *models.Flow) error {
	if _, ok := v.state.flows[f.ID]; ok {
		return fmt.Errorf("insert flow %s: %w", f.Name, &pgconn.PgError{Code: "23505", ConstraintName: "flow_pkey"})
	}
	if f.EndpointName != nil {
		for _, other := range v.state.flows {
			if other.EndpointName != nil && *other.EndpointName == *f.EndpointName {
				return fmt.Errorf("insert flow %s: %w", f.Name,
					&pgconn.PgError{Code: "23505", ConstraintName: repository.EndpointConstraint})
			}
		}
	}
	v.state.flows[f.ID] = f.Clone()
	return nil
}

func (v *liveView) Move(_ context.Context, id, newID, name, folderID string) error {
	f, ok := v.state.flows[id]
	if !ok {
		return fmt.Errorf("move flow %s: %w", id, repository.ErrNotFound)
	}
	delete(v.state.flows, id)
	f.ID, f.Name, f.FolderID, f.EndpointName = newID, name, &folderID, nil
	v.state.flows[newID] = f
	return nil
}

func (v *liveView) UpdateColumns(_ context.Context, userID, name string, cols []string, values []any) error {
	f := v.find(userID, name)
	if f == nil {
		return fmt.Errorf("update flow %s: %w", name, repository.ErrNotFound)
	}
	for i, col := range cols {
		if err := setColumn(f, col, values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *liveView) DeleteByName(_ context.Context, userID, name string) error {
	f := v.find(userID, name)
	if f == nil {
		return fmt.Errorf("delete flow %s: %w", name, repository.ErrNotFound)
	}
	delete(v.state.flows, f.ID)
	return nil
}

func (v *liveView) UpdateData(_ context.Context, userID, name string, data json.RawMessage) error {
	f := v.find(userID, name)
	if f == nil {
		return fmt.Errorf("update flow %s: %w", name, repository.ErrNotFound)
	}
	f.Data = data
	return nil
}

func (v *liveView) UpdateDataByID(_ context.Context, id string, data json.RawMessage) error {
	f, ok := v.state.flows[id]
	if !ok {
		return fmt.Errorf("update flow %s: %w", id, repository.ErrNotFound)
	}
	f.Data = data
	return nil
}

func (v *liveView) folderName(id *string) string {
	if id == nil {
		return ""
	}
	for _, f := range v.state.folders {
		if f.ID == *id {
			return f.Name
		}
	}
	return ""
}

func (v *liveView) Published(_ context.Context, userID, suffix string) ([]repository.PublishedFlow, error) {
	var out []repository.PublishedFlow
	for _, f := range v.state.flows {
		folder := v.folderName(f.FolderID)
		if (f.IsComponent != nil && *f.IsComponent) || !strings.HasSuffix(folder, suffix) {
			continue
		}
		if f.UserID != nil && *f.UserID != userID {
			continue
		}
		out = append(out, repository.PublishedFlow{ID: f.ID, Name: f.Name, Folder: folder, Data: f.Data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *liveView) Candidates(ctx context.Context, filter repository.CandidateFilter) ([]models.Candidate, int64, error) {
	published, _ := v.Published(ctx, filter.UserID, filter.Suffix)
	var items []models.Candidate
	for _, p := range published {
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		f := v.state.flows[p.ID]
		items = append(items, models.Candidate{
			Name:        p.Name,
			Folder:      p.Folder,
			Description: derefString(f.Description),
			UpdatedAt:   f.UpdatedAt,
		})
	}
	total := int64(len(items))
	if filter.Offset >= len(items) {
		return []models.Candidate{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[filter.Offset:end], total, nil
}

// fakeLive is a transactional in-memory LiveStore: InTx works on a copy
// that replaces the state only when fn succeeds
type fakeLive struct {
	*liveView
	mu         sync.Mutex
	failCommit bool
}

func newFakeLive(userID string, folders ...models.Folder) *fakeLive {
	return &fakeLive{liveView: &liveView{state: &liveState{
		users:   map[string]string{"deployer": userID},
		folders: folders,
		flows:   map[string]*models.Flow{},
	}}}
}

func (f *fakeLive) InTx(_ context.Context, fn func(repository.FlowStore) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	work := f.state.clone()
	if err := fn(&liveView{state: work}); err != nil {
		return err
	}
	if f.failCommit {
		return errors.New("commit: connection reset")
	}
	f.state = work
	return nil
}

func (f *fakeLive) put(flow *models.Flow) {
	f.state.flows[flow.ID] = flow.Clone()
}

func (f *fakeLive) byName(name string) *models.Flow {
	for _, fl := range f.state.flows {
		if fl.Name == name {
			return fl
		}
	}
	return nil
}

func setColumn(f *models.Flow, col string, v any) error {
	str := func() *string {
		if v == nil {
			return nil
		}
		s := v.(string)
		return &s
	}
	boolean := func() *bool {
		if v == nil {
			return nil
		}
		b := v.(bool)
		return &b
	}
	raw := func() json.RawMessage {
		if v == nil {
			return nil
		}
		return json.RawMessage(v.(string))
	}

	switch col {
	case "name":
		f.Name = v.(string)
	case "description":
		f.Description = str()
	case "data":
		f.Data = raw()
	case "user_id":
		f.UserID = str()
	case "is_component":
		f.IsComponent = boolean()
	case "updated_at":
		if v == nil {
			f.UpdatedAt = nil
		} else {
			t := v.(time.Time)
			f.UpdatedAt = &t
		}
	case "icon":
		f.Icon = str()
	case "icon_bg_color":
		f.IconBgColor = str()
	case "folder_id":
		f.FolderID = str()
	case "endpoint_name":
		f.EndpointName = str()
	case "webhook":
		f.Webhook = boolean()
	case "gradient":
		f.Gradient = str()
	case "tags":
		f.Tags = raw()
	case "locked":
		f.Locked = boolean()
	case "fs_path":
		f.FsPath = str()
	case "access_type":
		f.AccessType = str()
	case "mcp_enabled":
		f.MCPEnabled = boolean()
	case "action_name":
		f.ActionName = str()
	case "action_description":
		f.ActionDescription = str()
	default:
		return fmt.Errorf("unknown column %s", col)
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// fakeAPI is the flow service REST API backed by a fakeLive
type fakeAPI struct {
	live     *fakeLive
	userID   string
	failFlow bool
	created  []clients.FlowCreate
	// projects are visible to the API only
	projects    []clients.Project
	projectsErr error
}

func (a *fakeAPI) ListProjects(_ context.Context) ([]clients.Project, error) {
	if a.projectsErr != nil {
		return nil, a.projectsErr
	}
	out := append([]clients.Project{}, a.projects...)
	for _, f := range a.live.state.folders {
		out = append(out, clients.Project{ID: f.ID, Name: f.Name})
	}
	return out, nil
}

func (a *fakeAPI) CreateProject(_ context.Context, name string) (*clients.Project, error) {
	id := "folder-" + name
	a.live.state.folders = append(a.live.state.folders, models.Folder{ID: id, Name: name})
	return &clients.Project{ID: id, Name: name}, nil
}

func (a *fakeAPI) CreateFlow(_ context.Context, flow clients.FlowCreate) (*clients.CreatedFlow, error) {
	if a.failFlow {
		return nil, &clients.RemoteError{Status: 500, Body: "boom"}
	}
	a.created = append(a.created, flow)
	id := uuid.New().String()
	folderID := flow.FolderID
	a.live.put(&models.Flow{
		ID:           id,
		Name:         flow.Name,
		Description:  flow.Description,
		Data:         flow.Data,
		UserID:       &a.userID,
		IsComponent:  &flow.IsComponent,
		FolderID:     &folderID,
		EndpointName: flow.EndpointName,
		Tags:         flow.Tags,
		MCPEnabled:   &flow.MCPEnabled,
	})
	return &clients.CreatedFlow{ID: id, Name: flow.Name, UserID: a.userID, FolderID: folderID}, nil
}

// fakeEnvs resolves per-environment fakes
type fakeEnvs struct {
	live   map[environment.Environment]*fakeLive
	api    map[environment.Environment]*fakeAPI
	config map[environment.Environment]*repository.ConfigTableRepository
}

func (e *fakeEnvs) Live(_ context.Context, env environment.Environment) (repository.LiveStore, error) {
	l, ok := e.live[env]
	if !ok {
		return nil, fmt.Errorf("environment %s is not configured", env)
	}
	return l, nil
}

func (e *fakeEnvs) API(env environment.Environment) (FlowAPI, error) {
	a, ok := e.api[env]
	if !ok {
		return nil, fmt.Errorf("environment %s is not configured", env)
	}
	return a, nil
}

func (e *fakeEnvs) Username(environment.Environment) (string, error) {
	return "deployer", nil
}

func (e *fakeEnvs) ConfigTable(_ context.Context, env environment.Environment) (*repository.ConfigTableRepository, error) {
	c, ok := e.config[env]
	if !ok {
		return nil, fmt.Errorf("environment %s has no config store", env)
	}
	return c, nil
}

// fakeLabels is a prompt label source with a settable label map
type fakeLabels struct {
	versions map[string]map[string]int
	err      error
}

func (f *fakeLabels) LabelVersions(_ context.Context, label string) (map[string]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]int{}
	for k, v := range f.versions[label] {
		out[k] = v
	}
	return out, nil
}

// clock advances one second per reading
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newHistory(t *testing.T) *repository.HistoryRepository {
	t.Helper()
	store, err := historydb.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return repository.NewHistoryRepository(store)
}

func newConfigTable(t *testing.T, rows ...models.ConfigRow) *repository.ConfigTableRepository {
	t.Helper()
	ctx := context.Background()
	store, err := db.OpenSQL(ctx, "sqlite3", "file:"+filepath.Join(t.TempDir(), "cfg.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Exec(ctx, "CREATE TABLE langflow_config (`id` INTEGER PRIMARY KEY AUTOINCREMENT, `flow_id` TEXT, `name` TEXT, `desc` TEXT, `updated_at` TEXT)")
	require.NoError(t, err)

	repo := repository.NewConfigTableRepository(store)
	for _, r := range rows {
		require.NoError(t, repo.Insert(ctx, r, time.Now()))
	}
	return repo
}

// graph builds flow data from nodes and edges
func graph(t *testing.T, nodes []map[string]any, edges []map[string]any) json.RawMessage {
	t.Helper()
	if edges == nil {
		edges = []map[string]any{}
	}
	b, err := json.Marshal(map[string]any{"nodes": nodes, "edges": edges})
	require.NoError(t, err)
	return b
}

func node(id, displayName string, template map[string]any, fieldOrder ...string) map[string]any {
	order := make([]any, len(fieldOrder))
	for i, f := range fieldOrder {
		order[i] = f
	}
	return map[string]any{
		"id": id,
		"data": map[string]any{
			"node": map[string]any{
				"display_name": displayName,
				"template":     template,
				"field_order":  order,
			},
		},
	}
}

func edge(source, target, field string) map[string]any {
	return map[string]any{
		"source": source,
		"target": target,
		"data": map[string]any{
			"targetHandle": map[string]any{"fieldName": field, "id": target},
		},
	}
}

func promptNode(id, label string) map[string]any {
	return node(id, "Prompt", map[string]any{
		"label":       map[string]any{"value": label},
		"prompt_name": map[string]any{"value": "greeting"},
	})
}

func testMatcher(t *testing.T) *nodematch.Matcher {
	t.Helper()
	m, err := nodematch.New(nil)
	require.NoError(t, err)
	return m
}
