package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/consts"
	infraConsts "github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/consts"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/queue"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/worker"
)

const maxReportBytes = 32 << 20

type TaskQueue interface {
	Enqueue(ctx context.Context, unitRef string, payload string) (*model.Task, error)
	Get(ctx context.Context, id int64) (*model.Task, error)
	GetByUUID(ctx context.Context, id string) (*model.Task, error)
	List(ctx context.Context, f *model.TaskFilters) ([]*model.Task, error)
}

type PoolAdmin interface {
	Pause() error
	Resume() error
	Status(ctx context.Context) (worker.Status, error)
	Cancel(ctx context.Context, id int64) error
}

type AnalysisController struct {
	*core.BaseComponent
	queue     TaskQueue
	pool      PoolAdmin
	listLimit int
}

func NewAnalysisController(q TaskQueue, pool PoolAdmin, listLimit int) *AnalysisController {
	if listLimit <= 0 {
		listLimit = 100
	}
	return &AnalysisController{
		BaseComponent: core.NewBaseComponent(consts.COMP_CTRL_ANALYSIS,
			consts.COMP_QUEUE, consts.COMP_WORKER_POOL, infraConsts.COMPONENT_LOGGING),
		queue:     q,
		pool:      pool,
		listLimit: listLimit,
	}
}

// submit accepts either {"unit_ref": ..., "report": {...}} or a raw report
// carrying its own "unit" / "projectKey".
func (ac *AnalysisController) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		writeErr(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if !gjson.ValidBytes(body) {
		writeErr(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	unitRef, payload := parseSubmission(body)
	if unitRef == "" {
		writeErr(w, http.StatusBadRequest, "unit_ref is required")
		return
	}
	if payload == "" {
		writeErr(w, http.StatusBadRequest, "report is required")
		return
	}

	t, err := ac.queue.Enqueue(ctx, unitRef, payload)
	if err != nil {
		logging.Error(ctx, "submit analysis failed", zap.String("unit_ref", unitRef), zap.Error(err))
		writeErr(w, statusOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"id": t.ID, "uuid": t.UUID, "status": t.Status})
}

func parseSubmission(body []byte) (unitRef, payload string) {
	root := gjson.ParseBytes(body)
	unitRef = strings.TrimSpace(root.Get("unit_ref").String())
	report := root.Get("report")
	switch {
	case report.Type == gjson.String:
		payload = report.String()
	case report.Exists():
		payload = report.Raw
	case unitRef == "":
		// raw report
		payload = string(body)
	}
	if unitRef == "" && payload != "" {
		doc := gjson.Parse(payload)
		for _, key := range []string{"unit", "projectKey"} {
			if v := strings.TrimSpace(doc.Get(key).String()); v != "" {
				unitRef = v
				break
			}
		}
	}
	return unitRef, payload
}

// getTask accepts a numeric id or a task uuid.
func (ac *AnalysisController) getTask(w http.ResponseWriter, r *http.Request, ref string) {
	var (
		t   *model.Task
		err error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		t, err = ac.queue.Get(r.Context(), id)
	} else {
		t, err = ac.queue.GetByUUID(r.Context(), ref)
	}
	if err != nil {
		writeErr(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, t)
}

func (ac *AnalysisController) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := &model.TaskFilters{UnitRef: q.Get("unit_ref"), Limit: ac.listLimit}
	if s := q.Get("status"); s != "" {
		st, ok := consts.ParseTaskStatus(strings.ToUpper(s))
		if !ok {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
			return
		}
		f.Status = st
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid "+key)
			return
		}
		*dst = n
	}
	if f.Limit == 0 || f.Limit > ac.listLimit {
		f.Limit = ac.listLimit
	}
	list, err := ac.queue.List(r.Context(), f)
	if err != nil {
		writeErr(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, map[string]any{"items": list, "count": len(list)})
}

func (ac *AnalysisController) cancelTask(w http.ResponseWriter, r *http.Request, id int64) {
	if err := ac.pool.Cancel(r.Context(), id); err != nil {
		writeErr(w, statusOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]any{"id": id, "cancel_requested": true})
}

func (ac *AnalysisController) pause(w http.ResponseWriter, r *http.Request) {
	ac.toggle(w, r, ac.pool.Pause, "paused")
}

func (ac *AnalysisController) resume(w http.ResponseWriter, r *http.Request) {
	ac.toggle(w, r, ac.pool.Resume, "resumed")
}

func (ac *AnalysisController) toggle(w http.ResponseWriter, r *http.Request, fn func() error, what string) {
	if err := fn(); err != nil {
		writeErr(w, statusOf(err), err.Error())
		return
	}
	logging.Info(r.Context(), "worker pool "+what)
	ac.status(w, r)
}

func (ac *AnalysisController) status(w http.ResponseWriter, r *http.Request) {
	st, err := ac.pool.Status(r.Context())
	if err != nil {
		writeErr(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, st)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrNotCancelable), errors.Is(err, worker.ErrFrozen):
		return http.StatusConflict
	case errors.Is(err, queue.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": msg})
}
