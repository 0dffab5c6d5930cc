package api

import (
	"net/http"

	"github.com/garnizeh/taskgate/internal/lifecycle"
	"github.com/garnizeh/taskgate/internal/models"
)

type TasksHandler struct {
	machine *lifecycle.Machine
}

func NewTasksHandler(m *lifecycle.Machine) *TasksHandler {
	return &TasksHandler{machine: m}
}

func (h *TasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req lifecycle.NewTask
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.machine.CreateTask(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, t, http.StatusCreated)
}

func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.machine.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, v, http.StatusOK)
}

// taskOp adapts a machine operation on a task id into a handler.
func (h *TasksHandler) taskOp(op func(r *http.Request, actor models.Actor, id int64) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mustActor(w, r)
		if !ok {
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		out, err := op(r, actor, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, out, http.StatusOK)
	}
}

func (h *TasksHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		return h.machine.Claim(r.Context(), a, id)
	})(w, r)
}

func (h *TasksHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		return h.machine.Release(r.Context(), a, id)
	})(w, r)
}

func (h *TasksHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		var sub lifecycle.Submission
		if err := decodeJSON(r, &sub); err != nil {
			return nil, err
		}
		if sub.Step == 0 {
			sub.Step = 1
		}
		return h.machine.Submit(r.Context(), a, id, sub)
	})(w, r)
}

func (h *TasksHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		var d lifecycle.Decision
		if err := decodeJSON(r, &d); err != nil {
			return nil, err
		}
		return h.machine.Approve(r.Context(), a, id, d)
	})(w, r)
}

func (h *TasksHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		var d lifecycle.Decision
		if err := decodeJSON(r, &d); err != nil {
			return nil, err
		}
		return h.machine.Reject(r.Context(), a, id, d)
	})(w, r)
}

type flagRequest struct {
	Reason string `json:"reason"`
}

func (h *TasksHandler) Flag(w http.ResponseWriter, r *http.Request) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		var req flagRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return h.machine.Flag(r.Context(), a, id, req.Reason)
	})(w, r)
}

func (h *TasksHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		return h.machine.Reopen(r.Context(), a, id)
	})(w, r)
}

// ApproveAction and RejectAction decide a single step.
func (h *TasksHandler) ApproveAction(w http.ResponseWriter, r *http.Request) {
	h.decideAction(w, r, true)
}

func (h *TasksHandler) RejectAction(w http.ResponseWriter, r *http.Request) {
	h.decideAction(w, r, false)
}

func (h *TasksHandler) decideAction(w http.ResponseWriter, r *http.Request, approve bool) {
	h.taskOp(func(r *http.Request, a models.Actor, id int64) (any, error) {
		var d lifecycle.Decision
		if err := decodeJSON(r, &d); err != nil {
			return nil, err
		}
		return h.machine.DecideAction(r.Context(), a, id, approve, d)
	})(w, r)
}

func (h *TasksHandler) CheckAdmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	step, err := queryInt(r, "step", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	targetID, err := queryInt(r, "target_id", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.machine.CheckAdmission(r.Context(), actor, lifecycle.AdmissionQuery{
		TargetID:   int64(targetID),
		CategoryID: q.Get("category_id"),
		ActionType: q.Get("action_type"),
		Step:       step,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{
		"allowed": d.Allowed,
		"rule":    d.Rule,
	}
	if !d.Allowed {
		resp["reason"] = d.Reason
		resp["message"] = d.Message
		if d.RetryAfter > 0 {
			resp["retry_after_ms"] = d.RetryAfter.Milliseconds()
		}
	}
	writeJSON(w, resp, http.StatusOK)
}
