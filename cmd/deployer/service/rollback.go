package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/diff"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// restoreSkip are columns a rollback never writes back
var restoreSkip = map[string]bool{"id": true, "endpoint_name": true}

// RollbackService reverts an environment's flows to a recorded version
type RollbackService struct {
	history   *repository.HistoryRepository
	refresher *RefresherService
	metrics   Recorder
	log       *logger.Logger
}

// NewRollbackService creates a rollback service; refresher may be nil
func NewRollbackService(history *repository.HistoryRepository, refresher *RefresherService, metrics Recorder, log *logger.Logger) *RollbackService {
	return &RollbackService{
		history:   history,
		refresher: refresher,
		metrics:   orNop(metrics),
		log:       log,
	}
}

// plan is a RollbackPlan plus the snapshots it was computed from
type plan struct {
	models.RollbackPlan
	userID    string
	snapshots map[string]models.FlowHistory
}

// Plan computes what rolling env back to target would do, without writing
func (s *RollbackService) Plan(ctx context.Context, sess *Session, env environment.Environment, target models.Version) (*models.RollbackPlan, error) {
	p, err := s.plan(ctx, sess, env, target)
	if err != nil {
		return nil, err
	}
	return &p.RollbackPlan, nil
}

func (s *RollbackService) plan(ctx context.Context, sess *Session, env environment.Environment, target models.Version) (*plan, error) {
	if !env.Valid() {
		return nil, fmt.Errorf("%w: unknown environment %q", ErrInvalidTarget, env)
	}
	if target.IsZero() {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidTarget)
	}

	userID, err := sess.UserID(ctx, env)
	if err != nil {
		return nil, err
	}

	latest, ok, err := s.history.LatestVersion(ctx, env.String(), userID)
	if err != nil {
		return nil, opError("plan rollback", env.String(), "", target.String(), err)
	}
	if !ok {
		return nil, opError("plan rollback", env.String(), "", target.String(),
			fmt.Errorf("%w: no history recorded", ErrNotFound))
	}
	if target.Compare(latest) > 0 {
		return nil, opError("plan rollback", env.String(), "", target.String(),
			fmt.Errorf("%w: newer than latest version %s", ErrInvalidTarget, latest))
	}
	recorded, err := s.history.HasVersion(ctx, env.String(), userID, target)
	if err != nil {
		return nil, opError("plan rollback", env.String(), "", target.String(), err)
	}
	if !recorded {
		return nil, opError("plan rollback", env.String(), "", target.String(),
			fmt.Errorf("%w: version was never recorded", ErrInvalidTarget))
	}

	p := &plan{
		RollbackPlan: models.RollbackPlan{
			Environment: env.String(),
			Latest:      latest,
			Target:      target,
			Flows:       []models.RollbackAction{},
			Prompts:     []models.PromptInstruction{},
			Warnings:    []string{},
		},
		userID:    userID,
		snapshots: map[string]models.FlowHistory{},
	}

	if target.Compare(latest) == 0 {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%s is already the latest version, nothing to roll back", target))
		return p, nil
	}

	// newest first: the last record seen for a name is the one closest to the target
	snapshots, err := s.history.FlowsBetween(ctx, env.String(), userID, target, latest)
	if err != nil {
		return nil, opError("plan rollback", env.String(), "", target.String(), err)
	}
	for _, h := range snapshots {
		p.snapshots[h.Name] = h
	}
	for _, name := range sortedNames(p.snapshots) {
		h := p.snapshots[name]
		p.Flows = append(p.Flows, models.RollbackAction{
			Name:    name,
			Delete:  !h.IsExist,
			Version: h.Version,
			OldID:   h.OldID,
		})
	}

	records, err := s.history.PromptsBetween(ctx, env.String(), target, latest)
	if err != nil {
		return nil, opError("plan rollback", env.String(), "", target.String(), err)
	}
	prompts := map[string]models.PromptHistory{}
	for _, r := range records {
		if r.Operation == models.PromptSame || r.Operation == models.PromptInit || r.Name == "" {
			continue
		}
		prompts[r.Name] = r
	}
	for _, name := range sortedNames(prompts) {
		r := prompts[name]
		p.Prompts = append(p.Prompts, models.PromptInstruction{
			Name:        r.Name,
			Version:     r.Version,
			Operation:   r.Operation,
			Instruction: r.Instruction(),
		})
	}

	return p, nil
}

// Rollback restores env's flows to their state at target, prunes newer
// history and refreshes the sub-flow references the restore touched.
// Prompt label changes are returned as manual instructions.
func (s *RollbackService) Rollback(ctx context.Context, sess *Session, env environment.Environment, target models.Version) (*models.RollbackReport, error) {
	start := time.Now()
	defer s.metrics.ObserveDuration("rollback", start)

	report, err := s.rollback(ctx, sess, env, target)
	switch {
	case err == nil:
		s.metrics.IncRollback(env.String(), "success")
	case errors.Is(err, ErrManualCorrection):
		s.metrics.IncRollback(env.String(), "manual")
	default:
		s.metrics.IncRollback(env.String(), "error")
	}
	return report, err
}

func (s *RollbackService) rollback(ctx context.Context, sess *Session, env environment.Environment, target models.Version) (*models.RollbackReport, error) {
	p, err := s.plan(ctx, sess, env, target)
	if err != nil {
		return nil, err
	}

	report := &models.RollbackReport{
		RollbackPlan: p.RollbackPlan,
		Deleted:      []string{},
		Restored:     []string{},
		Refreshed:    []string{},
	}
	if len(p.Flows) == 0 && target.Compare(p.Latest) == 0 {
		return report, nil
	}

	log := s.log.WithContext(ctx).WithEnv(env.String()).WithVersion(target.String())

	live, err := sess.Live(ctx, env)
	if err != nil {
		return nil, err
	}

	current, err := s.preflight(ctx, live, p)
	if err != nil {
		return nil, err
	}

	err = live.InTx(ctx, func(tx repository.FlowStore) error {
		for _, action := range p.Flows {
			if action.Delete {
				if current[action.Name] == nil {
					continue
				}
				if err := tx.DeleteByName(ctx, p.userID, action.Name); err != nil {
					return opError("rollback", env.String(), action.Name, target.String(), err)
				}
				report.Deleted = append(report.Deleted, action.Name)
				continue
			}

			snap := p.snapshots[action.Name]
			cols := changedColumns(&snap.Flow, current[action.Name])
			if len(cols) == 0 {
				continue
			}
			if err := tx.UpdateColumns(ctx, p.userID, action.Name, cols, snap.Flow.Values(cols)); err != nil {
				return opError("rollback", env.String(), action.Name, target.String(), err)
			}
			log.WithFlow(action.Name).Debug("restored columns", "columns", cols)
			report.Restored = append(report.Restored, action.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("live store restored", "deleted", len(report.Deleted), "restored", len(report.Restored))

	flows, prompts, err := s.history.Prune(ctx, env.String(), p.userID, target)
	if err != nil {
		log.Error("history prune failed after live restore", "error", err)
		return report, opError("rollback", env.String(), "", target.String(),
			fmt.Errorf("%w: flows were restored but history newer than %s remains: %w", ErrManualCorrection, target, err))
	}
	log.Info("history pruned", "flow_records", flows, "prompt_records", prompts)

	if s.refresher != nil {
		touched := make(map[string]bool, len(p.Flows))
		for _, a := range p.Flows {
			touched[a.Name] = true
		}
		refreshed, err := s.refresher.RefreshAffected(ctx, sess, env, touched)
		if err != nil {
			log.Warn("reference refresh failed", "error", err)
			report.RefreshError = err.Error()
		}
		report.Refreshed = append(report.Refreshed, refreshed...)
	}

	return report, nil
}

// preflight checks every planned restore against the live store and returns
// the current rows by name. Nothing is written.
func (s *RollbackService) preflight(ctx context.Context, live repository.LiveStore, p *plan) (map[string]*models.Flow, error) {
	folders, err := live.Folders(ctx, p.userID)
	if err != nil {
		return nil, opError("rollback preflight", p.Environment, "", p.Target.String(), err)
	}
	folderIDs := make(map[string]bool, len(folders))
	for _, f := range folders {
		folderIDs[f.ID] = true
	}

	current := make(map[string]*models.Flow, len(p.Flows))
	for _, action := range p.Flows {
		row, err := live.GetByName(ctx, p.userID, action.Name)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, opError("rollback preflight", p.Environment, action.Name, p.Target.String(), err)
		}

		if action.Delete {
			current[action.Name] = row
			continue
		}

		if row == nil {
			return nil, opError("rollback preflight", p.Environment, action.Name, p.Target.String(),
				fmt.Errorf("%w: live flow no longer exists", ErrMissingDependency))
		}
		if row.ID != action.OldID {
			return nil, opError("rollback preflight", p.Environment, action.Name, p.Target.String(),
				fmt.Errorf("%w: live id %s, snapshot taken from %s", ErrIdentityMismatch, row.ID, action.OldID))
		}
		snap := p.snapshots[action.Name]
		if snap.FolderID != nil && !folderIDs[*snap.FolderID] {
			return nil, opError("rollback preflight", p.Environment, action.Name, p.Target.String(),
				fmt.Errorf("%w: folder %s no longer exists", ErrMissingDependency, *snap.FolderID))
		}
		current[action.Name] = row
	}
	return current, nil
}

// changedColumns lists the columns whose snapshot value differs from live
func changedColumns(snap, live *models.Flow) []string {
	var cols []string
	for _, col := range models.FlowColumns {
		if restoreSkip[col] {
			continue
		}
		if !columnEqual(col, snap.Value(col), live.Value(col)) {
			cols = append(cols, col)
		}
	}
	return cols
}

func columnEqual(col string, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if models.JSONColumns[col] {
		as, _ := a.(string)
		bs, _ := b.(string)
		return diff.Equal(json.RawMessage(as), json.RawMessage(bs))
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return diff.Equal(a, b)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
