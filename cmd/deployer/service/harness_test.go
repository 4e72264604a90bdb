package service

import (
	"testing"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

const (
	devUser  = "u-dev"
	testUser = "u-test"
)

// harness wires the engines against a dev source and a test target
type harness struct {
	clock     *clock
	history   *repository.HistoryRepository
	labels    *fakeLabels
	dev       *fakeLive
	test      *fakeLive
	testAPI   *fakeAPI
	envs      *fakeEnvs
	promotion *PromotionService
	rollback  *RollbackService
	refresher *RefresherService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Discard()

	h := &harness{
		clock:   &clock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		history: newHistory(t),
		labels:  &fakeLabels{versions: map[string]map[string]int{}},
		dev: newFakeLive(devUser,
			models.Folder{ID: "dev-pub", Name: "orders*"},
		),
		test: newFakeLive(testUser,
			models.Folder{ID: "test-pub", Name: "orders*"},
			models.Folder{ID: "test-bak", Name: "backup"},
		),
	}
	h.testAPI = &fakeAPI{live: h.test, userID: testUser}
	h.envs = &fakeEnvs{
		live: map[environment.Environment]*fakeLive{
			environment.Dev:  h.dev,
			environment.Test: h.test,
		},
		api: map[environment.Environment]*fakeAPI{
			environment.Dev:  {live: h.dev, userID: devUser},
			environment.Test: h.testAPI,
		},
	}

	matcher := testMatcher(t)
	h.refresher = NewRefresherService(matcher, "*", log)
	h.promotion = NewPromotionService(
		NewVersionAllocator(h.history, h.clock.Now, log),
		NewPromptBackupService(h.history, h.labels, log),
		h.history,
		NewPayloadPatcher(matcher),
		PromotionOptions{BackupFolder: "backup", Now: h.clock.Now},
		log,
	)
	h.rollback = NewRollbackService(h.history, h.refresher, nil, log)
	return h
}

func (h *harness) session() *Session {
	return NewSession("operator", h.envs, nil, time.Minute, logger.Discard())
}

// devFlow stores a flow in the dev publish folder
func (h *harness) devFlow(f *models.Flow) {
	f.UserID = models.Ptr(devUser)
	if f.FolderID == nil {
		f.FolderID = models.Ptr("dev-pub")
	}
	if f.IsComponent == nil {
		f.IsComponent = models.Ptr(false)
	}
	h.dev.put(f)
}

// testFlow stores a flow in the test publish folder
func (h *harness) testFlow(f *models.Flow) {
	f.UserID = models.Ptr(testUser)
	if f.FolderID == nil {
		f.FolderID = models.Ptr("test-pub")
	}
	if f.IsComponent == nil {
		f.IsComponent = models.Ptr(false)
	}
	h.test.put(f)
}
