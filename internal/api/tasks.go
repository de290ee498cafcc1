package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/biu/internal/api/models"
	"github.com/smazurov/biu/internal/control"
	"github.com/smazurov/biu/internal/supervisor"
)

// registerTaskRoutes registers the REST control surface.
func (s *Server) registerTaskRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/api/tasks",
		Summary:     "List Tasks",
		Description: "Task definitions, groups and live instances, as sent to viewers on connect",
		Tags:        []string{"tasks"},
	}, func(_ context.Context, _ *struct{}) (*models.TaskListResponse, error) {
		return &models.TaskListResponse{Body: s.sup.Snapshot()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-tasks",
		Method:        http.MethodPost,
		Path:          "/api/tasks",
		Summary:       "Create Tasks",
		Description:   "Instantiate and start task definitions by name",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 503},
	}, func(ctx context.Context, input *models.CreateTasksRequest) (*models.CreateTasksResponse, error) {
		ids, err := control.Execute(ctx, s.sup, control.Command{
			Type:     control.CommandCreate,
			Names:    input.Body.Names,
			CloseAll: input.Body.CloseAll,
		})
		if err != nil {
			return nil, commandError(err)
		}
		return &models.CreateTasksResponse{Body: models.CreateTasksResult{IDs: ids}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "close-all-tasks",
		Method:        http.MethodDelete,
		Path:          "/api/tasks",
		Summary:       "Close All Tasks",
		Description:   "Stop and remove every live instance",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{503},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if _, err := control.Execute(ctx, s.sup, control.Command{Type: control.CommandCloseAll}); err != nil {
			return nil, commandError(err)
		}
		return nil, nil
	})

	s.registerInstanceAction("close-task", http.MethodDelete, "/api/tasks/{id}", "Close Task",
		"Stop and remove one instance", control.CommandClose)
	s.registerInstanceAction("start-task", http.MethodPost, "/api/tasks/{id}/start", "Start Task",
		"Start an idle instance", control.CommandStart)
	s.registerInstanceAction("stop-task", http.MethodPost, "/api/tasks/{id}/stop", "Stop Task",
		"Stop a running instance", control.CommandStop)
	s.registerInstanceAction("restart-task", http.MethodPost, "/api/tasks/{id}/restart", "Restart Task",
		"Stop the instance if running, then start it again", control.CommandRestart)
}

func (s *Server) registerInstanceAction(id, method, path, summary, description, command string) {
	huma.Register(s.api, huma.Operation{
		OperationID:   id,
		Method:        method,
		Path:          path,
		Summary:       summary,
		Description:   description + ". Unknown ids are ignored.",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{503},
	}, func(ctx context.Context, input *models.TaskIDInput) (*struct{}, error) {
		if _, err := control.Execute(ctx, s.sup, control.Command{Type: command, ID: input.ID}); err != nil {
			return nil, commandError(err)
		}
		return nil, nil
	})
}

// commandError maps registry errors to HTTP errors.
func commandError(err error) error {
	switch {
	case errors.Is(err, supervisor.ErrUnknownTask):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, supervisor.ErrShutdown):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request cancelled", err)
	default:
		return huma.Error500InternalServerError("command failed", err)
	}
}
