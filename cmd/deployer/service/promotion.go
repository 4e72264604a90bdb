package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/clients"
	"github.com/lyzr/flowdeploy/common/db"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// promotedFields are the columns a promotion carries from source to target
var promotedFields = []string{"name", "description", "data", "endpoint_name", "gradient", "is_component", "tags"}

// PromoteRequest selects flows to copy from Source to Target
type PromoteRequest struct {
	Source environment.Environment `json:"source"`
	Target environment.Environment `json:"target"`
	Names  []string                `json:"names"`

	// Create target folders that do not exist yet instead of aborting
	CreateMissingFolders bool `json:"create_missing_folders"`

	// Progress is called after each flow; optional
	Progress func(done, total int, name string) `json:"-"`
}

// PromotionOptions configures a PromotionService
type PromotionOptions struct {
	BackupFolder string
	Now          func() time.Time
	Metrics      Recorder
}

// PromotionService copies flows between environments, backing up what it overwrites
type PromotionService struct {
	versions     *VersionAllocator
	prompts      *PromptBackupService
	history      *repository.HistoryRepository
	patcher      *PayloadPatcher
	backupFolder string
	now          func() time.Time
	metrics      Recorder
	log          *logger.Logger
}

// NewPromotionService creates a promotion service
func NewPromotionService(
	versions *VersionAllocator,
	prompts *PromptBackupService,
	history *repository.HistoryRepository,
	patcher *PayloadPatcher,
	opts PromotionOptions,
	log *logger.Logger,
) *PromotionService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BackupFolder == "" {
		opts.BackupFolder = "备份"
	}
	return &PromotionService{
		versions:     versions,
		prompts:      prompts,
		history:      history,
		patcher:      patcher,
		backupFolder: opts.BackupFolder,
		now:          opts.Now,
		metrics:      orNop(opts.Metrics),
		log:          log,
	}
}

// sourceFlow is a selected flow with the name of the folder it lives in
type sourceFlow struct {
	flow   *models.Flow
	folder string
}

// Promote copies the selected flows into the target environment. Flows are
// processed independently; a failed flow is reported and the batch goes on.
func (s *PromotionService) Promote(ctx context.Context, sess *Session, req PromoteRequest) (*models.PromotionReport, error) {
	start := time.Now()
	defer s.metrics.ObserveDuration("promote", start)

	if !req.Source.Valid() || !req.Target.Valid() || req.Source == req.Target {
		return nil, fmt.Errorf("%w: cannot promote from %q to %q", ErrInvalidTarget, req.Source, req.Target)
	}
	if len(req.Names) == 0 {
		return nil, fmt.Errorf("%w: no flows selected", ErrInvalidTarget)
	}

	log := s.log.WithContext(ctx).WithEnv(req.Target.String())
	report := &models.PromotionReport{
		Source:   req.Source.String(),
		Target:   req.Target.String(),
		Promoted: []models.PromotedFlow{},
		Failures: []models.FlowFailure{},
		Warnings: []string{},
	}

	fail := func(err error) (*models.PromotionReport, error) {
		s.metrics.IncPromotion(req.Target.String(), "error")
		return nil, err
	}

	selected, err := s.loadSource(ctx, sess, req, report)
	if err != nil {
		return fail(err)
	}

	target, err := sess.Live(ctx, req.Target)
	if err != nil {
		return fail(err)
	}
	api, err := sess.API(req.Target)
	if err != nil {
		return fail(err)
	}
	targetUser, err := sess.UserID(ctx, req.Target)
	if err != nil {
		return fail(err)
	}

	folders, err := s.ensureFolders(ctx, target, api, targetUser, selected, req)
	if err != nil {
		return fail(err)
	}

	last, next, err := s.versions.Next(ctx, req.Target, targetUser)
	if err != nil {
		return fail(opError("promote", req.Target.String(), "", "", err))
	}
	report.Previous, report.Version = last, next
	log = log.WithVersion(next.String())
	log.Info("promotion started", "source", req.Source, "flows", len(selected), "previous", last.String())

	changes, err := s.prompts.Backup(ctx, req.Target, last, next)
	if err != nil {
		return fail(err)
	}
	report.PromptChanges = changes

	for i, src := range selected {
		promoted, warnings, err := s.promoteOne(ctx, target, api, src, folders, targetUser, req.Target, next)
		for _, w := range warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", src.flow.Name, w))
		}

		if err != nil {
			log.WithFlow(src.flow.Name).Error("flow promotion failed", "error", err)
			report.Failures = append(report.Failures, models.FlowFailure{Name: src.flow.Name, Error: err.Error()})
			s.metrics.IncFlow(req.Target.String(), "failed")
		} else {
			log.WithFlow(src.flow.Name).Info("flow promoted", "id", promoted.ID, "created", promoted.Created)
			report.Promoted = append(report.Promoted, *promoted)
			if promoted.Created {
				s.metrics.IncFlow(req.Target.String(), "created")
			} else {
				s.metrics.IncFlow(req.Target.String(), "replaced")
			}
		}

		if req.Progress != nil {
			req.Progress(i+1, len(selected), src.flow.Name)
		}
	}

	outcome := "success"
	if len(report.Failures) > 0 {
		outcome = "partial"
	}
	s.metrics.IncPromotion(req.Target.String(), outcome)

	log.Info("promotion finished", "promoted", len(report.Promoted), "failed", len(report.Failures))
	return report, nil
}

// loadSource reads the selected flows and their folder names from the source.
// Flows that cannot be read become failures.
func (s *PromotionService) loadSource(ctx context.Context, sess *Session, req PromoteRequest, report *models.PromotionReport) ([]sourceFlow, error) {
	live, err := sess.Live(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	userID, err := sess.UserID(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	folders, err := live.Folders(ctx, userID)
	if err != nil {
		return nil, opError("promote", req.Source.String(), "", "", err)
	}
	folderNames := make(map[string]string, len(folders))
	for _, f := range folders {
		folderNames[f.ID] = f.Name
	}

	seen := make(map[string]bool, len(req.Names))
	selected := make([]sourceFlow, 0, len(req.Names))
	for _, name := range req.Names {
		if seen[name] {
			continue
		}
		seen[name] = true

		flow, err := live.GetByName(ctx, userID, name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				err = fmt.Errorf("%w: flow not found in %s", ErrNotFound, req.Source)
			}
			report.Failures = append(report.Failures, models.FlowFailure{Name: name, Error: err.Error()})
			continue
		}

		folder := ""
		if flow.FolderID != nil {
			folder = folderNames[*flow.FolderID]
		}
		if folder == "" {
			report.Failures = append(report.Failures, models.FlowFailure{
				Name:  name,
				Error: fmt.Sprintf("%v: source folder of %s is unknown", ErrMissingDependency, name),
			})
			continue
		}
		selected = append(selected, sourceFlow{flow: flow, folder: folder})
	}
	return selected, nil
}

// ensureFolders maps every folder the batch needs (plus the backup folder)
// to its target id. A missing folder aborts the promotion unless the request
// allows creating it.
func (s *PromotionService) ensureFolders(
	ctx context.Context,
	target repository.LiveStore,
	api FlowAPI,
	userID string,
	selected []sourceFlow,
	req PromoteRequest,
) (map[string]string, error) {
	existing, err := target.Folders(ctx, userID)
	if err != nil {
		return nil, opError("promote", req.Target.String(), "", "", err)
	}
	ids := make(map[string]string, len(existing))
	for _, f := range existing {
		ids[f.Name] = f.ID
	}

	needed := map[string]bool{s.backupFolder: true}
	for _, src := range selected {
		needed[src.folder] = true
	}

	var missing []string
	for name := range needed {
		if _, ok := ids[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	if len(missing) == 0 {
		return ids, nil
	}

	// folders the SQL lookup misses may still be visible through the API
	missing = s.resolveByAPI(ctx, api, req.Target, ids, missing)
	if len(missing) == 0 {
		return ids, nil
	}

	if !req.CreateMissingFolders {
		return nil, opError("promote", req.Target.String(), "", "",
			fmt.Errorf("%w: folders %s do not exist", ErrMissingDependency, strings.Join(missing, ", ")))
	}

	for _, name := range missing {
		project, err := api.CreateProject(ctx, name)
		if err != nil {
			return nil, opError("create folder", req.Target.String(), name, "",
				fmt.Errorf("%w: %w", ErrMissingDependency, err))
		}
		ids[name] = project.ID
		s.log.Info("created missing folder", "env", req.Target, "folder", name, "id", project.ID)
	}
	return ids, nil
}

// resolveByAPI fills ids from the flow service project list and returns the
// names it still could not find. A failing lookup leaves missing unchanged.
func (s *PromotionService) resolveByAPI(ctx context.Context, api FlowAPI, env environment.Environment, ids map[string]string, missing []string) []string {
	projects, err := api.ListProjects(ctx)
	if err != nil {
		s.log.Warn("folder lookup through api failed", "env", env, "error", err)
		return missing
	}
	for _, p := range projects {
		if _, ok := ids[p.Name]; !ok {
			ids[p.Name] = p.ID
		}
	}

	var still []string
	for _, name := range missing {
		if _, ok := ids[name]; ok {
			s.log.Debug("folder resolved through api", "env", env, "folder", name, "id", ids[name])
			continue
		}
		still = append(still, name)
	}
	return still
}

// promoteOne replaces or creates one flow in the target
func (s *PromotionService) promoteOne(
	ctx context.Context,
	target repository.LiveStore,
	api FlowAPI,
	src sourceFlow,
	folders map[string]string,
	userID string,
	env environment.Environment,
	next models.Version,
) (*models.PromotedFlow, []string, error) {
	name := src.flow.Name
	folderID := folders[src.folder]
	now := s.now()

	data, warnings, err := s.patcher.Patch(src.flow.Data, env)
	if err != nil {
		return nil, nil, opError("promote", env.String(), name, next.String(), err)
	}
	incoming := src.flow.Clone()
	incoming.Data = data

	existing, err := target.GetByName(ctx, userID, name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return s.create(ctx, api, incoming, folderID, userID, env, next, now, warnings)
	case err != nil:
		return nil, warnings, opError("promote", env.String(), name, next.String(), err)
	}

	merged, err := mergeFlow(existing, incoming)
	if err != nil {
		return nil, warnings, opError("promote", env.String(), name, next.String(), err)
	}
	merged.ID = existing.ID
	merged.UserID = existing.UserID
	merged.FolderID = &folderID
	merged.UpdatedAt = &now

	snapshot := &models.FlowHistory{
		Flow:        *existing.Clone(),
		Version:     next,
		Environment: env.String(),
		IsExist:     true,
		OldID:       existing.ID,
	}
	snapshotWritten := false

	err = target.InTx(ctx, func(tx repository.FlowStore) error {
		backupName := fmt.Sprintf("%s_%s", existing.Name, now.Format("20060102150405"))
		if err := tx.Move(ctx, existing.ID, uuid.New().String(), backupName, folders[s.backupFolder]); err != nil {
			return err
		}

		err := tx.Insert(ctx, merged)
		if db.IsUniqueViolation(err, repository.EndpointConstraint) {
			warnings = append(warnings, fmt.Sprintf("endpoint name %q is taken, cleared", deref(merged.EndpointName)))
			merged.EndpointName = nil
			err = tx.Insert(ctx, merged)
		}
		if err != nil {
			if db.IsUniqueViolation(err, "") {
				return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
			}
			return err
		}

		if err := s.history.InsertFlow(ctx, snapshot); err != nil {
			return err
		}
		snapshotWritten = true
		return nil
	})
	if err != nil {
		if snapshotWritten {
			if delErr := s.history.DeleteFlow(ctx, snapshot.HistoryID); delErr != nil {
				s.log.Error("failed to remove orphan snapshot", "flow", name, "history_id", snapshot.HistoryID, "error", delErr)
			}
		}
		return nil, warnings, opError("promote", env.String(), name, next.String(), err)
	}

	return &models.PromotedFlow{Name: merged.Name, ID: merged.ID}, warnings, nil
}

// create adds a flow that does not exist in the target through the flow
// service API and records an is_exist=false snapshot for it
func (s *PromotionService) create(
	ctx context.Context,
	api FlowAPI,
	incoming *models.Flow,
	folderID, userID string,
	env environment.Environment,
	next models.Version,
	now time.Time,
	warnings []string,
) (*models.PromotedFlow, []string, error) {
	isComponent := incoming.IsComponent != nil && *incoming.IsComponent

	created, err := api.CreateFlow(ctx, clients.FlowCreate{
		Name:         incoming.Name,
		Description:  incoming.Description,
		Data:         incoming.Data,
		EndpointName: incoming.EndpointName,
		Gradient:     incoming.Gradient,
		IsComponent:  isComponent,
		Tags:         incoming.Tags,
		MCPEnabled:   true,
		FolderID:     folderID,
	})
	if err != nil {
		return nil, warnings, opError("create flow", env.String(), incoming.Name, next.String(), err)
	}

	owner := userID
	if created.UserID != "" {
		owner = created.UserID
	}
	snapshot := &models.FlowHistory{
		Flow: models.Flow{
			ID:           created.ID,
			Name:         incoming.Name,
			Description:  incoming.Description,
			Data:         incoming.Data,
			UserID:       &owner,
			IsComponent:  &isComponent,
			UpdatedAt:    &now,
			FolderID:     &folderID,
			EndpointName: incoming.EndpointName,
			Gradient:     incoming.Gradient,
			Tags:         incoming.Tags,
			MCPEnabled:   models.Ptr(true),
		},
		Version:     next,
		Environment: env.String(),
		IsExist:     false,
		OldID:       created.ID,
	}
	if err := s.history.InsertFlow(ctx, snapshot); err != nil {
		return nil, warnings, opError("create flow", env.String(), incoming.Name, next.String(),
			fmt.Errorf("flow %s created but not recorded, rollback will not remove it: %w", created.ID, err))
	}

	return &models.PromotedFlow{Name: incoming.Name, ID: created.ID, Created: true}, warnings, nil
}

// mergeFlow overlays the promoted fields incoming actually sets onto existing
func mergeFlow(existing, incoming *models.Flow) (*models.Flow, error) {
	base, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("encode target flow: %w", err)
	}

	raw, err := json.Marshal(incoming)
	if err != nil {
		return nil, fmt.Errorf("encode source flow: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode source flow: %w", err)
	}

	patch := make(map[string]any, len(promotedFields))
	for _, k := range promotedFields {
		if v, ok := fields[k]; ok && !isBlank(v) {
			patch[k] = v
		}
	}
	// objects are replaced whole, not merged key by key
	reset := make(map[string]any)
	for k, v := range patch {
		if _, ok := v.(map[string]any); ok {
			reset[k] = nil
		}
	}
	if len(reset) > 0 {
		resetDoc, err := json.Marshal(reset)
		if err != nil {
			return nil, fmt.Errorf("encode merge patch: %w", err)
		}
		if base, err = jsonpatch.MergePatch(base, resetDoc); err != nil {
			return nil, fmt.Errorf("merge flow fields: %w", err)
		}
	}

	patchDoc, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode merge patch: %w", err)
	}

	mergedDoc, err := jsonpatch.MergePatch(base, patchDoc)
	if err != nil {
		return nil, fmt.Errorf("merge flow fields: %w", err)
	}

	merged := &models.Flow{}
	if err := json.Unmarshal(mergedDoc, merged); err != nil {
		return nil, fmt.Errorf("decode merged flow: %w", err)
	}
	return merged, nil
}

// isBlank reports values a promotion never copies over the target's own
func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
