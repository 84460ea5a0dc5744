// Package forge defines the source-control API surface that the commit
// differ and the merge-request lifecycle manager consume, independent of the
// concrete forge (GitLab, GitHub) serving it.
package forge

import "time"

// Commit describes one commit that is part of a branch comparison.
type Commit struct {
	SHA        string
	Title      string
	Message    string
	AuthorName string
	AuthoredAt time.Time
	WebURL     string
}

type MergeRequestState string

const (
	MergeRequestStateOpened MergeRequestState = "opened"
	MergeRequestStateMerged MergeRequestState = "merged"
	MergeRequestStateClosed MergeRequestState = "closed"
	MergeRequestStateLocked MergeRequestState = "locked"
)

// MergeRequest is the forge-neutral view of a merge request.
type MergeRequest struct {
	IID          int
	WebURL       string
	Title        string
	State        MergeRequestState
	SourceBranch string
	TargetBranch string
	HasConflicts bool
}

// CreateMROptions are the parameters for creating a merge request.
// The adapters assign the merge request to the authenticated user when that
// user can be resolved, keep the source branch and disable squashing.
type CreateMROptions struct {
	SourceBranch string
	TargetBranch string
	Title        string
	Description  string
}

type PipelineStatus string

const (
	// PipelineStatusNone indicates that no pipeline exists for the ref.
	PipelineStatusNone     PipelineStatus = "none"
	PipelineStatusPending  PipelineStatus = "pending"
	PipelineStatusRunning  PipelineStatus = "running"
	PipelineStatusSuccess  PipelineStatus = "success"
	PipelineStatusFailed   PipelineStatus = "failed"
	PipelineStatusCanceled PipelineStatus = "canceled"
	PipelineStatusSkipped  PipelineStatus = "skipped"
)

type DeploymentStatus string

const (
	// DeploymentStatusNone indicates that no deployment exists for the
	// environment.
	DeploymentStatusNone     DeploymentStatus = "none"
	DeploymentStatusCreated  DeploymentStatus = "created"
	DeploymentStatusRunning  DeploymentStatus = "running"
	DeploymentStatusSuccess  DeploymentStatus = "success"
	DeploymentStatusFailed   DeploymentStatus = "failed"
	DeploymentStatusCanceled DeploymentStatus = "canceled"
)
