package stage

import (
	"context"

	"shelftamer/internal/ledger"
)

// Handler describes the contract the orchestrator needs from each stage.
type Handler interface {
	Prepare(context.Context, *ledger.Record) error
	Execute(context.Context, *ledger.Record) error
	HealthCheck(context.Context) Health
}
