package main

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/modelgate/modelgate/internal/observability"
	gwerrors "github.com/modelgate/modelgate/pkg/errors"
	"github.com/modelgate/modelgate/pkg/types"
)

// teeStore sits between the recorder and the real store, forwarding
// every request log to the archiver and raising an alert when a whole
// candidate chain failed. Both side channels are best effort and never
// fail the write.
type teeStore struct {
	observability.Store
	archiver *observability.Archiver
	alerts   *observability.AlertSink
}

func (t *teeStore) InsertRequestLog(ctx context.Context, log *observability.RequestLog) error {
	if t.archiver != nil {
		t.archiver.Add(log)
	}
	if t.alerts != nil && log.ErrorType == gwerrors.TagAllFallbacksFailed {
		var chain []types.FallbackAttempt
		_ = json.Unmarshal(log.FallbackChain, &chain)
		_ = t.alerts.FallbacksExhausted(ctx, log.ID, log.RouteName, len(chain), log.ErrorShort)
	}
	return t.Store.InsertRequestLog(ctx, log)
}
