package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// PromotedFlow is one successfully promoted flow
type PromotedFlow struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// FlowFailure is a per-flow error collected during a batch
type FlowFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// PromptChanges summarizes a prompt label backup
type PromptChanges struct {
	Baseline bool     `json:"baseline"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Changed  []string `json:"changed"`
}

// PromotionReport is the result of one promotion
type PromotionReport struct {
	Source        string         `json:"source"`
	Target        string         `json:"target"`
	Previous      Version        `json:"previous"`
	Version       Version        `json:"version"`
	Promoted      []PromotedFlow `json:"promoted"`
	Failures      []FlowFailure  `json:"failures"`
	Warnings      []string       `json:"warnings"`
	PromptChanges *PromptChanges `json:"prompt_changes,omitempty"`
}

// RollbackAction is the planned restore of one flow
type RollbackAction struct {
	Name    string  `json:"name"`
	Delete  bool    `json:"delete"`
	Version Version `json:"version"`
	OldID   string  `json:"old_id"`
}

// PromptInstruction is a manual step needed to undo a prompt label change
type PromptInstruction struct {
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	Operation   PromptOperation `json:"operation"`
	Instruction string          `json:"instruction"`
}

// RollbackPlan is what a rollback would do, computed without writes
type RollbackPlan struct {
	Environment string              `json:"environment"`
	Latest      Version             `json:"latest"`
	Target      Version             `json:"target"`
	Flows       []RollbackAction    `json:"flows"`
	Prompts     []PromptInstruction `json:"prompts"`
	Warnings    []string            `json:"warnings"`
}

// RollbackReport is the result of an executed rollback
type RollbackReport struct {
	RollbackPlan
	Deleted      []string `json:"deleted"`
	Restored     []string `json:"restored"`
	Refreshed    []string `json:"refreshed"`
	RefreshError string   `json:"refresh_error,omitempty"`
}

// MissingReference is a sub-flow reference whose target flow does not exist
type MissingReference struct {
	Flow       string `json:"flow"`
	Referenced string `json:"referenced"`
}

// RefreshResult is the output of the dependent-reference refresher
type RefreshResult struct {
	Updates    map[string]json.RawMessage `json:"-"`
	Names      []string                   `json:"names"`
	References map[string][]string        `json:"references"`
	Missing    []MissingReference         `json:"missing"`
}

// LabelChange is one prompt-reference node whose label would be rewritten
type LabelChange struct {
	FlowID     string `json:"flow_id"`
	FlowName   string `json:"flow_name"`
	Folder     string `json:"folder"`
	NodeID     string `json:"node_id"`
	PromptName string `json:"prompt_name"`
	OldLabel   string `json:"old_label"`
	NewLabel   string `json:"new_label"`
}

// LabelScan is the set of flows a label flush would rewrite
type LabelScan struct {
	Label    string                     `json:"label"`
	Changes  []LabelChange              `json:"changes"`
	Warnings []string                   `json:"warnings"`
	Updates  map[string]json.RawMessage `json:"-"`
}

// PromptLabelUpdate is one prompt that receives the destination label
type PromptLabelUpdate struct {
	Name    string   `json:"name"`
	Version int      `json:"version"`
	Labels  []string `json:"labels"`
	Applied bool     `json:"applied"`
}

// Candidate is a promotable flow listed from a source environment
type Candidate struct {
	Name         string     `json:"name"`
	Folder       string     `json:"folder"`
	Description  string     `json:"description"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	EndpointName string     `json:"endpoint_name,omitempty"`

	// False when the description lacks the "[tag]text-YYYYMMDD-hh:mm" release note
	DescriptionOK bool `json:"description_ok"`
}

// CandidatePage is one page of candidates
type CandidatePage struct {
	Items []Candidate `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}

// VersionSummary lists what one backup version touched
type VersionSummary struct {
	Version   Version   `json:"version"`
	Flows     []string  `json:"flows"`
	Prompts   []string  `json:"prompts"`
	CreatedAt time.Time `json:"created_at"`
}

// ConfigDiff compares langflow_config between two environments
type ConfigDiff struct {
	Source string      `json:"source"`
	Dest   string      `json:"dest"`
	Add    []ConfigRow `json:"add"`
	Delete []ConfigRow `json:"delete"`
	Update []ConfigRow `json:"update"`

	// Changed column names per row name
	Changed map[string][]string `json:"changed"`
}

// Empty reports whether both sides agree
func (d ConfigDiff) Empty() bool {
	return len(d.Add) == 0 && len(d.Delete) == 0 && len(d.Update) == 0
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
