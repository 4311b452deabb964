package webhooks

import (
	"context"
	"encoding/json"

	"fleetroute/internal/model"
	"fleetroute/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// CallbackBody is the JSON posted to a run's callback URL.
type CallbackBody struct {
	model.RunEvent
	TenantID string               `json:"tenantId"`
	Result   *model.SolveResponse `json:"result,omitempty"`
}

// RunFinished queues the completion callback of run, if it asked for one.
func (p *Publisher) RunFinished(ctx context.Context, run model.Run, ev model.RunEvent) (string, error) {
	if run.CallbackURL == "" {
		return "", nil
	}
	body, err := json.Marshal(CallbackBody{RunEvent: ev, TenantID: run.TenantID, Result: run.Result})
	if err != nil {
		return "", err
	}
	return p.Store.EnqueueCallback(ctx, run.TenantID, run.ID, ev.Type, run.CallbackURL, run.CallbackSecret, body)
}
