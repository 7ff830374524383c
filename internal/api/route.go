package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	bizConsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/httpserver"
)

func init() {
	httpserver.RegisterRoutes(func(r chi.Router, c *core.Container) error {
		comp, err := c.Resolve(bizConsts.COMP_CTRL_ANALYSIS)
		if err != nil {
			return err
		}
		ctrl, ok := comp.(*AnalysisController)
		if !ok {
			return fmt.Errorf("analysis_ctrl type assertion failed")
		}
		ctrl.Mount(r)
		return nil
	})
}

// Mount 注册分析任务与管理路由
func (ac *AnalysisController) Mount(r chi.Router) {
	r.Post("/api/v1/analyses", ac.submit)

	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Get("/", ac.listTasks)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			ac.getTask(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			var id int64
			if _, err := fmt.Sscanf(chi.URLParam(r, "id"), "%d", &id); err != nil {
				writeErr(w, http.StatusBadRequest, "INVALID_ID")
				return
			}
			ac.cancelTask(w, r, id)
		})
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Post("/pause", ac.pause)
		r.Post("/resume", ac.resume)
		r.Get("/status", ac.status)
	})
}
