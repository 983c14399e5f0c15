package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/crosslist/internal/domain"
)

// TaskStore is the slice of storage the gateway needs.
type TaskStore interface {
	PullTasks(ctx context.Context, tenant string, limit int) ([]domain.Task, error)
	CompleteTask(ctx context.Context, id string, success bool, result []byte, errMsg string) error
}

// Gateway is the HTTP surface the remote browser agents talk to: pull
// pending tasks, report results. Agents authenticate upstream (reverse
// proxy); the gateway only validates shape.
type Gateway struct {
	store  TaskStore
	waiter *Waiter
	log    *zap.Logger
}

func NewGateway(store TaskStore, waiter *Waiter, log *zap.Logger) *Gateway {
	return &Gateway{store: store, waiter: waiter, log: log.Named("agentgw")}
}

func (g *Gateway) Routes() chi.Router {
	rtr := chi.NewRouter()
	rtr.Get("/v1/tasks", g.pullTasks)
	rtr.Post("/v1/tasks/{id}/result", g.reportResult)
	return rtr
}

type taskView struct {
	ID      string          `json:"id"`
	JobID   string          `json:"job_id"`
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (g *Gateway) pullTasks(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		http.Error(w, "tenant required", http.StatusBadRequest)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	tasks, err := g.store.PullTasks(r.Context(), tenant, limit)
	if err != nil {
		g.log.Error("pull tasks", zap.String("tenant", tenant), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView{ID: t.ID, JobID: t.JobID, Method: t.Method, Path: t.Path, Payload: t.Payload})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (g *Gateway) reportResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "bad task id", http.StatusBadRequest)
		return
	}
	var o Outcome
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	if err := g.store.CompleteTask(r.Context(), id, o.Success, o.Result, o.Error); err != nil {
		g.log.Error("complete task", zap.String("task", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// wake the handler parked on this task, if it is still waiting
	g.waiter.Resolve(id, o)
	w.WriteHeader(http.StatusNoContent)
}
