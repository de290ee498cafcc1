package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/biu/internal/api/models"
)

func (s *Server) registerProblemRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-problems",
		Method:      http.MethodGet,
		Path:        "/api/problems",
		Summary:     "Problems",
		Description: "Current diagnostics of every live instance, grouped by matcher owner",
		Tags:        []string{"problems"},
	}, func(_ context.Context, _ *struct{}) (*models.ProblemsResponse, error) {
		report := s.sup.Problems()

		var text strings.Builder
		if err := report.Render(&text, report.Owners()); err != nil {
			return nil, huma.Error500InternalServerError("render report", err)
		}

		problems := map[string][]string(report)
		if problems == nil {
			problems = map[string][]string{}
		}
		return &models.ProblemsResponse{
			Body: models.ProblemsData{
				Problems: problems,
				Count:    report.Count(),
				Report:   text.String(),
			},
		}, nil
	})
}
