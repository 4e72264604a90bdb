package models

import (
	"encoding/json"
	"time"
)

// Flow is a row of the flow service's flow table
// Maps to: flow table
type Flow struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description *string         `db:"description" json:"description,omitempty"`
	Data        json.RawMessage `db:"data" json:"data,omitempty"`
	UserID      *string         `db:"user_id" json:"user_id,omitempty"`
	IsComponent *bool           `db:"is_component" json:"is_component,omitempty"`
	UpdatedAt   *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
	Icon        *string         `db:"icon" json:"icon,omitempty"`
	IconBgColor *string         `db:"icon_bg_color" json:"icon_bg_color,omitempty"`
	FolderID    *string         `db:"folder_id" json:"folder_id,omitempty"`

	// Globally unique when set (constraint unique_flow_endpoint_name)
	EndpointName *string `db:"endpoint_name" json:"endpoint_name,omitempty"`

	Webhook           *bool           `db:"webhook" json:"webhook,omitempty"`
	Gradient          *string         `db:"gradient" json:"gradient,omitempty"`
	Tags              json.RawMessage `db:"tags" json:"tags,omitempty"`
	Locked            *bool           `db:"locked" json:"locked,omitempty"`
	FsPath            *string         `db:"fs_path" json:"fs_path,omitempty"`
	AccessType        *string         `db:"access_type" json:"access_type,omitempty"`
	MCPEnabled        *bool           `db:"mcp_enabled" json:"mcp_enabled,omitempty"`
	ActionName        *string         `db:"action_name" json:"action_name,omitempty"`
	ActionDescription *string         `db:"action_description" json:"action_description,omitempty"`
}

// FlowColumns lists the flow table columns in storage order
var FlowColumns = []string{
	"id", "name", "description", "data", "user_id", "is_component", "updated_at",
	"icon", "icon_bg_color", "folder_id", "endpoint_name", "webhook", "gradient",
	"tags", "locked", "fs_path", "access_type", "mcp_enabled", "action_name",
	"action_description",
}

// JSONColumns are compared structurally and written as JSON text
var JSONColumns = map[string]bool{"data": true, "tags": true}

// Value returns the column's value as a driver argument (nil for NULL).
// JSON columns are returned as text; timestamps as time.Time.
func (f *Flow) Value(col string) any {
	switch col {
	case "id":
		return f.ID
	case "name":
		return f.Name
	case "description":
		return deref(f.Description)
	case "data":
		return rawText(f.Data)
	case "user_id":
		return deref(f.UserID)
	case "is_component":
		return deref(f.IsComponent)
	case "updated_at":
		return deref(f.UpdatedAt)
	case "icon":
		return deref(f.Icon)
	case "icon_bg_color":
		return deref(f.IconBgColor)
	case "folder_id":
		return deref(f.FolderID)
	case "endpoint_name":
		return deref(f.EndpointName)
	case "webhook":
		return deref(f.Webhook)
	case "gradient":
		return deref(f.Gradient)
	case "tags":
		return rawText(f.Tags)
	case "locked":
		return deref(f.Locked)
	case "fs_path":
		return deref(f.FsPath)
	case "access_type":
		return deref(f.AccessType)
	case "mcp_enabled":
		return deref(f.MCPEnabled)
	case "action_name":
		return deref(f.ActionName)
	case "action_description":
		return deref(f.ActionDescription)
	default:
		return nil
	}
}

// Values returns the driver arguments for cols, in order
func (f *Flow) Values(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = f.Value(c)
	}
	return out
}

// Clone returns a deep copy
func (f *Flow) Clone() *Flow {
	c := *f
	c.Data = cloneRaw(f.Data)
	c.Tags = cloneRaw(f.Tags)
	return &c
}

// Folder is a row of the flow service's folder table
type Folder struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// ConfigRow is a row of the secondary langflow_config table
type ConfigRow struct {
	ID     int64  `db:"id" json:"id"`
	FlowID string `db:"flow_id" json:"flow_id"`
	Name   string `db:"name" json:"name"`
	Desc   string `db:"desc" json:"desc"`
}

// Map returns the row keyed by column name (for row diffs)
func (r ConfigRow) Map() map[string]any {
	return map[string]any{
		"id":      r.ID,
		"flow_id": r.FlowID,
		"name":    r.Name,
		"desc":    r.Desc,
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func rawText(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
