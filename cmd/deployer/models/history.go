package models

import "time"

// FlowHistory is an immutable snapshot of a flow taken by a promotion
// Maps to: flow_history table
type FlowHistory struct {
	// Primary key of the history row (not the flow id)
	HistoryID string `db:"id" json:"history_id"`

	Flow

	Version     Version   `db:"version" json:"version"`
	Environment string    `db:"environment" json:"environment"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`

	// False when the flow did not exist before the promotion; rolling
	// back past this snapshot deletes the flow
	IsExist bool `db:"is_exist" json:"is_exist"`

	// Live id the snapshot was taken from
	OldID string `db:"old_id" json:"old_id"`
}

// PromptOperation classifies a fuse_history record
type PromptOperation string

const (
	// PromptInit is a baseline entry: the label pointed at Version when History was recorded
	PromptInit PromptOperation = "init"
	// PromptSame marks a promotion that saw no label changes
	PromptSame PromptOperation = "same"
	// PromptAdd means the label appeared on a prompt (Version is the new version)
	PromptAdd PromptOperation = "add"
	// PromptRemove means the label disappeared (Version is the old version)
	PromptRemove PromptOperation = "remove"
	// PromptChange means the label moved (Version is the old version)
	PromptChange PromptOperation = "change"
)

// PromptHistory is one prompt label change observed by a promotion
// Maps to: fuse_history table
type PromptHistory struct {
	ID        string          `db:"id" json:"id"`
	History   Version         `db:"history" json:"history"`
	Name      string          `db:"name" json:"name,omitempty"`
	Version   int             `db:"version" json:"version,omitempty"`
	Label     string          `db:"label" json:"label"`
	Operation PromptOperation `db:"operation" json:"operation"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Instruction tells the operator how to undo the change manually
func (p PromptHistory) Instruction() string {
	switch p.Operation {
	case PromptRemove:
		return "add label " + p.Label + " to prompt " + p.Name + " version " + itoa(p.Version)
	case PromptAdd:
		return "remove label " + p.Label + " from prompt " + p.Name + " version " + itoa(p.Version)
	case PromptChange:
		return "move label " + p.Label + " of prompt " + p.Name + " to version " + itoa(p.Version)
	default:
		return ""
	}
}
