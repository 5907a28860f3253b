package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/terraskye/cqrs"
)

// AuditLogName names the audit log processor.
const AuditLogName = "audit_log"

// NewAuditLog returns a processor printing every account event to w as
//
//	<account id>-<sequence>
//	<indented JSON payload>
func NewAuditLog(w io.Writer) *cqrs.EventGroupProcessor {
	var mu sync.Mutex
	write := func(ctx context.Context, ev cqrs.Event) error {
		payload, err := json.MarshalIndent(ev, "", "  ")
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintf(w, "%s-%d\n%s\n", cqrs.AggregateIDFromContext(ctx), cqrs.SequenceFromContext(ctx), payload)
		return err
	}

	return cqrs.NewEventGroupProcessor(AuditLogName,
		cqrs.OnEvent(func(ctx context.Context, ev AccountOpened) error { return write(ctx, ev) }),
		cqrs.OnEvent(func(ctx context.Context, ev CustomerDepositedMoney) error { return write(ctx, ev) }),
		cqrs.OnEvent(func(ctx context.Context, ev CustomerWithdrewCash) error { return write(ctx, ev) }),
		cqrs.OnEvent(func(ctx context.Context, ev CustomerWroteCheck) error { return write(ctx, ev) }),
	)
}
