package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/diff"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// ConfigSyncService diffs and copies langflow_config between environments
type ConfigSyncService struct {
	now func() time.Time
	log *logger.Logger
}

// NewConfigSyncService creates a config table sync service
func NewConfigSyncService(now func() time.Time, log *logger.Logger) *ConfigSyncService {
	if now == nil {
		now = time.Now
	}
	return &ConfigSyncService{now: now, log: log}
}

// Compare reports how dst's langflow_config differs from src's, keyed by name
func (s *ConfigSyncService) Compare(ctx context.Context, sess *Session, src, dst environment.Environment) (*models.ConfigDiff, error) {
	if !src.Valid() || !dst.Valid() || src == dst {
		return nil, fmt.Errorf("%w: cannot compare %q with %q", ErrInvalidTarget, src, dst)
	}

	srcRows, err := s.list(ctx, sess, src)
	if err != nil {
		return nil, err
	}
	dstRows, err := s.list(ctx, sess, dst)
	if err != nil {
		return nil, err
	}

	srcByName := indexRows(srcRows)
	dstByName := indexRows(dstRows)
	d := diff.Rows(rowMaps(srcRows), rowMaps(dstRows), "name", "id")

	out := &models.ConfigDiff{
		Source:  src.String(),
		Dest:    dst.String(),
		Add:     []models.ConfigRow{},
		Delete:  []models.ConfigRow{},
		Update:  []models.ConfigRow{},
		Changed: d.Changed,
	}
	for _, name := range d.Removed {
		out.Add = append(out.Add, srcByName[name])
	}
	for _, name := range d.Added {
		out.Delete = append(out.Delete, dstByName[name])
	}
	for _, name := range sortedNames(d.Changed) {
		row := dstByName[name]
		row.Desc = srcByName[name].Desc
		out.Update = append(out.Update, row)
	}
	return out, nil
}

// Sync applies Compare's result to dst in one transaction. flow_id is
// resolved by looking up the flow named in desc; an unresolved name aborts
// the whole sync.
func (s *ConfigSyncService) Sync(ctx context.Context, sess *Session, src, dst environment.Environment) (*models.ConfigDiff, error) {
	d, err := s.Compare(ctx, sess, src, dst)
	if err != nil {
		return nil, err
	}
	if d.Empty() {
		return d, nil
	}

	table, err := sess.ConfigTable(ctx, dst)
	if err != nil {
		return nil, err
	}
	live, err := sess.Live(ctx, dst)
	if err != nil {
		return nil, err
	}
	userID, err := sess.UserID(ctx, dst)
	if err != nil {
		return nil, err
	}

	resolve := func(name string) (string, error) {
		flow, err := live.GetByName(ctx, userID, name)
		if errors.Is(err, repository.ErrNotFound) {
			return "", opError("sync config", dst.String(), name, "",
				fmt.Errorf("%w: flow %q not found", ErrMissingDependency, name))
		}
		if err != nil {
			return "", opError("sync config", dst.String(), name, "", err)
		}
		return flow.ID, nil
	}

	now := s.now()
	err = table.InTx(ctx, func(tx *repository.ConfigTableRepository) error {
		for i, row := range d.Add {
			flowID, err := resolve(row.Desc)
			if err != nil {
				return err
			}
			row.FlowID = flowID
			if err := tx.Insert(ctx, row, now); err != nil {
				return err
			}
			d.Add[i] = row
		}
		for _, row := range d.Delete {
			if err := tx.Delete(ctx, row.ID); err != nil {
				return err
			}
		}
		for i, row := range d.Update {
			flowID, err := resolve(row.Desc)
			if err != nil {
				return err
			}
			row.FlowID = flowID
			if err := tx.Update(ctx, row, now); err != nil {
				return err
			}
			d.Update[i] = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("config table synced",
		"source", src,
		"dest", dst,
		"added", len(d.Add),
		"deleted", len(d.Delete),
		"updated", len(d.Update),
	)
	return d, nil
}

func (s *ConfigSyncService) list(ctx context.Context, sess *Session, env environment.Environment) ([]models.ConfigRow, error) {
	table, err := sess.ConfigTable(ctx, env)
	if err != nil {
		return nil, err
	}
	rows, err := table.List(ctx)
	if err != nil {
		return nil, opError("compare config", env.String(), "", "", err)
	}
	return rows, nil
}

func indexRows(rows []models.ConfigRow) map[string]models.ConfigRow {
	out := make(map[string]models.ConfigRow, len(rows))
	for _, r := range rows {
		out[r.Name] = r
	}
	return out
}

func rowMaps(rows []models.ConfigRow) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r.Map()
	}
	return out
}
