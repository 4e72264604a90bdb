package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/models"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// EndpointConstraint is the unique constraint on flow.endpoint_name
const EndpointConstraint = "unique_flow_endpoint_name"

// PublishedFlow is a non-component flow living in a publishable folder
type PublishedFlow struct {
	ID     string
	Name   string
	Folder string
	Data   json.RawMessage
}

// CandidateFilter narrows the candidate listing
type CandidateFilter struct {
	UserID   string
	Suffix   string
	FolderID string
	Since    *time.Time
	Search   string
	Limit    int
	Offset   int
}

// FlowStore is the flow service database of one environment
type FlowStore interface {
	// UserID resolves a login name to the user's id
	UserID(ctx context.Context, username string) (string, error)
	// Folders lists every folder owned by userID
	Folders(ctx context.Context, userID string) ([]models.Folder, error)

	// GetByName returns the user's flow called name, or ErrNotFound
	GetByName(ctx context.Context, userID, name string) (*models.Flow, error)
	// Insert writes a complete flow row
	Insert(ctx context.Context, f *models.Flow) error
	// Move re-keys a flow and parks it in folderID under name, clearing its endpoint
	Move(ctx context.Context, id, newID, name, folderID string) error
	// UpdateColumns sets the listed columns of the user's flow called name
	UpdateColumns(ctx context.Context, userID, name string, cols []string, values []any) error
	// DeleteByName removes the user's flow called name
	DeleteByName(ctx context.Context, userID, name string) error
	// UpdateData replaces the graph of the user's flow called name
	UpdateData(ctx context.Context, userID, name string, data json.RawMessage) error
	// UpdateDataByID replaces the graph of the flow with id
	UpdateDataByID(ctx context.Context, id string, data json.RawMessage) error

	// Published lists non-component flows in folders ending with suffix
	Published(ctx context.Context, userID, suffix string) ([]PublishedFlow, error)
	// Candidates lists one page of published flows and the total count
	Candidates(ctx context.Context, filter CandidateFilter) ([]models.Candidate, int64, error)
}

// LiveStore is a FlowStore that can group writes into one transaction
type LiveStore interface {
	FlowStore
	InTx(ctx context.Context, fn func(FlowStore) error) error
}
