package service

import (
	"context"
	"regexp"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// releaseNote is the description format expected on promotable flows
var releaseNote = regexp.MustCompile(`^\[.*?\].*?-\d{8}-\d{2}:\d{2}`)

const (
	defaultPageSize = 20
	maxPageSize     = 200
	defaultVersions = 10
)

// CandidateQuery selects one page of promotable flows
type CandidateQuery struct {
	FolderID string
	Since    *time.Time
	Search   string
	Page     int
	Size     int
}

// CatalogService lists what can be promoted and what can be rolled back to
type CatalogService struct {
	history *repository.HistoryRepository
	suffix  string
	log     *logger.Logger
}

// NewCatalogService creates a catalog service
func NewCatalogService(history *repository.HistoryRepository, suffix string, log *logger.Logger) *CatalogService {
	if suffix == "" {
		suffix = "*"
	}
	return &CatalogService{history: history, suffix: suffix, log: log}
}

// ListCandidates returns one page of non-component flows in publishable
// folders of env, most recently updated first
func (s *CatalogService) ListCandidates(ctx context.Context, sess *Session, env environment.Environment, q CandidateQuery) (*models.CandidatePage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = defaultPageSize
	}
	if q.Size > maxPageSize {
		q.Size = maxPageSize
	}

	live, err := sess.Live(ctx, env)
	if err != nil {
		return nil, err
	}
	userID, err := sess.UserID(ctx, env)
	if err != nil {
		return nil, err
	}

	items, total, err := live.Candidates(ctx, repository.CandidateFilter{
		UserID:   userID,
		Suffix:   s.suffix,
		FolderID: q.FolderID,
		Since:    q.Since,
		Search:   q.Search,
		Limit:    q.Size,
		Offset:   (q.Page - 1) * q.Size,
	})
	if err != nil {
		return nil, opError("list candidates", env.String(), "", "", err)
	}

	for i := range items {
		items[i].DescriptionOK = releaseNote.MatchString(items[i].Description)
	}

	return &models.CandidatePage{Items: items, Total: total, Page: q.Page, Size: q.Size}, nil
}

// ListVersions returns the newest limit backup versions of env
func (s *CatalogService) ListVersions(ctx context.Context, sess *Session, env environment.Environment, limit int) ([]models.VersionSummary, error) {
	if limit < 1 {
		limit = defaultVersions
	}
	userID, err := sess.UserID(ctx, env)
	if err != nil {
		return nil, err
	}

	versions, err := s.history.Versions(ctx, env.String(), userID, limit)
	if err != nil {
		return nil, opError("list versions", env.String(), "", "", err)
	}
	for i := range versions {
		if versions[i].Flows == nil {
			versions[i].Flows = []string{}
		}
		if versions[i].Prompts == nil {
			versions[i].Prompts = []string{}
		}
	}
	return versions, nil
}
