package models

import (
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Task models
type TaskListResponse struct {
	Body events.InitializeData
}

type CreateTasksData struct {
	Names    []string `json:"names" minItems:"1" doc:"Task definition names to instantiate"`
	CloseAll bool     `json:"closeAll,omitempty" doc:"Close every live instance first"`
}

type CreateTasksRequest struct {
	Body CreateTasksData
}

type CreateTasksResult struct {
	IDs []string `json:"ids" doc:"Ids of the new instances, in request order"`
}

type CreateTasksResponse struct {
	Body CreateTasksResult
}

// TaskIDInput addresses one instance. Unknown ids are accepted and ignored.
type TaskIDInput struct {
	ID string `path:"id" example:"1" doc:"Task instance id"`
}

// Problem models
type ProblemsData struct {
	Problems map[string][]string `json:"problems" doc:"Diagnostic lines keyed by owner"`
	Count    int                 `json:"count" example:"3" doc:"Total number of diagnostics"`
	Report   string              `json:"report" doc:"Textual problems report"`
}

type ProblemsResponse struct {
	Body ProblemsData
}

// Log stream models
type LogStreamInput struct {
	Since uint64 `query:"since" doc:"Only replay entries with a greater sequence number"`
}
