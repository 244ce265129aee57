package model

import "time"

// Workflow is a versioned, publishable process definition. Definition is
// the step graph; the client stores and transmits it without interpreting
// it. Version increases on every definition change and PublishedVersion
// freezes the version new executions run against.
type Workflow struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Description      string    `json:"description,omitempty"`
	IsActive         bool      `json:"isActive"`
	TenantID         string    `json:"tenantId,omitempty"`
	Definition       Document  `json:"definition"`
	Settings         Document  `json:"settings,omitempty"`
	IsPublished      bool      `json:"isPublished"`
	PublishedVersion *int      `json:"publishedVersion,omitempty"`
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero"`
}

// CreateWorkflowInput defines a workflow.
type CreateWorkflowInput struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Description string   `json:"description,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
	TenantID    string   `json:"tenantId,omitempty"`
	Definition  Document `json:"definition"`
	Settings    Document `json:"settings,omitempty"`
	IsPublished *bool    `json:"isPublished,omitempty"`
}

// UpdateWorkflowInput is a workflow patch. Setting IsPublished to true asks
// the remote authority to publish in the same request.
type UpdateWorkflowInput struct {
	Name        *string  `json:"name,omitempty"`
	Slug        *string  `json:"slug,omitempty"`
	Description *string  `json:"description,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
	Definition  Document `json:"definition,omitempty"`
	Settings    Document `json:"settings,omitempty"`
	IsPublished *bool    `json:"isPublished,omitempty"`
}

// ExecuteWorkflowInput starts an execution.
type ExecuteWorkflowInput struct {
	Input Document `json:"input,omitempty"`
}
