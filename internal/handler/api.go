package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/you/crosslist/internal/domain"
)

// APIHandler is the template every direct-API action follows: check the
// cancellation flag, validate inputs, invoke the one relevant collaborator
// operation, classify the outcome. The op closure is the only part that
// varies between actions.
type APIHandler struct {
	cancels  CancelChecker
	required []string
	op       func(ctx context.Context, job *domain.Job, params json.RawMessage) (ListingRef, error)
}

func (h *APIHandler) Execute(ctx context.Context, job *domain.Job) Result {
	if flagged, err := h.cancels.CancelRequested(ctx, job.ID); err == nil && flagged {
		return cancelled()
	}

	params := map[string]json.RawMessage{}
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return permanent("malformed params: %v", err)
		}
	}
	for _, k := range h.required {
		if _, ok := params[k]; !ok {
			return permanent("missing required param %q", k)
		}
	}

	ref, err := h.op(ctx, job, job.Params)
	if err != nil {
		return classify(err)
	}

	fields := map[string]any{}
	if ref.ListingID != "" {
		fields["listing_id"] = ref.ListingID
	}
	if ref.URL != "" {
		fields["listing_url"] = ref.URL
	}
	return ok(fields)
}

func classify(err error) Result {
	if stderrors.Is(err, context.Canceled) {
		return cancelled()
	}
	var me *Error
	if stderrors.As(err, &me) && me.Permanent {
		return permanent("%s", me.Msg)
	}
	return transient("%v", err)
}

func stringParam(params []byte, key string) string {
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(params, &m); err != nil {
		return ""
	}
	var v string
	if err := json.Unmarshal(m[key], &v); err != nil {
		return ""
	}
	return v
}

// RegisterAPIMarketplace wires the four standard actions for one
// direct-API marketplace into the registry.
func RegisterAPIMarketplace(reg *Registry, name string, mp Marketplace, cancels CancelChecker) {
	key := func(code string) domain.ActionKey {
		return domain.ActionKey{Marketplace: name, Code: code}
	}

	reg.Register(key("publish"), &APIHandler{
		cancels: cancels,
		op: func(ctx context.Context, job *domain.Job, params json.RawMessage) (ListingRef, error) {
			if job.ResourceID == nil {
				return ListingRef{}, Permanentf("publish requires a resource id")
			}
			return mp.Publish(ctx, *job.ResourceID, params)
		},
	})

	reg.Register(key("update"), &APIHandler{
		cancels:  cancels,
		required: []string{"listing_id"},
		op: func(ctx context.Context, job *domain.Job, params json.RawMessage) (ListingRef, error) {
			if job.ResourceID == nil {
				return ListingRef{}, Permanentf("update requires a resource id")
			}
			return mp.Update(ctx, *job.ResourceID, stringParam(params, "listing_id"), params)
		},
	})

	reg.Register(key("delete"), &APIHandler{
		cancels:  cancels,
		required: []string{"listing_id"},
		op: func(ctx context.Context, job *domain.Job, params json.RawMessage) (ListingRef, error) {
			return ListingRef{}, mp.Delete(ctx, stringParam(params, "listing_id"))
		},
	})

	reg.Register(key("sync"), &APIHandler{
		cancels: cancels,
		op: func(ctx context.Context, job *domain.Job, params json.RawMessage) (ListingRef, error) {
			if job.ResourceID == nil {
				return ListingRef{}, Permanentf("sync requires a resource id")
			}
			return mp.Sync(ctx, *job.ResourceID)
		},
	})
}
