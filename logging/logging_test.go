package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/bank"
	"github.com/terraskye/cqrs/fixtures"
	"github.com/terraskye/cqrs/logging"
)

func newEntry() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return logrus.NewEntry(logger), hook
}

// jsonLines decodes every line written by a slog JSON handler.
func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestWithCommandLogging(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel logrus.Level
		wantLogs  int
	}{
		{name: "success", wantLevel: logrus.InfoLevel, wantLogs: 1},
		{name: "rejected", err: cqrs.NewDomainError(bank.ReasonFundsNotAvailable), wantLevel: logrus.WarnLevel, wantLogs: 2},
		{name: "failed", err: &cqrs.EventStoreError{Err: errors.New("disk full")}, wantLevel: logrus.ErrorLevel, wantLogs: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, hook := newEntry()
			exec := logging.WithCommandLogging(entry, cqrs.ExecutorFunc(func(ctx context.Context, aggregateID string, cmd cqrs.Command, metadata cqrs.Metadata) error {
				return tt.err
			}))

			err := exec.Execute(t.Context(), "A", bank.DepositMoney{Amount: 10}, nil)
			assert.Equal(t, tt.err, err)

			require.Len(t, hook.AllEntries(), tt.wantLogs)
			assert.Equal(t, "Dispatch: DepositMoney (aggregateID: A)", hook.AllEntries()[0].Message)

			last := hook.LastEntry()
			assert.Equal(t, tt.wantLevel, last.Level)
			if tt.err != nil {
				assert.Equal(t, "A", last.Data["aggregate_id"])
				assert.Equal(t, cqrs.Classify(tt.err).String(), last.Data["kind"])
			}
		})
	}
}

func TestWithQueryLogging(t *testing.T) {
	entry, hook := newEntry()
	missing := errors.New("missing")
	handler := logging.WithQueryLogging(entry, cqrs.NewQueryHandlerFunc(func(ctx context.Context, q bank.GetAccount) (bank.AccountView, error) {
		if q.AccountID == "" {
			return bank.AccountView{}, missing
		}
		return bank.AccountView{AccountID: q.AccountID}, nil
	}))

	_, err := handler.HandleQuery(t.Context(), bank.GetAccount{AccountID: "A"})
	require.NoError(t, err)
	assert.Equal(t, "Query: GetAccount", hook.LastEntry().Message)

	_, err = handler.HandleQuery(t.Context(), bank.GetAccount{})
	require.ErrorIs(t, err, missing)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "Query failed: GetAccount: missing", hook.LastEntry().Message)
}

func TestWithProcessorLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	boom := errors.New("boom")
	spy := fixtures.NewProcessorSpy("views")
	processor := logging.WithProcessorLogging(logger, spy)
	assert.Equal(t, "views", processor.Name())

	stream := fixtures.OrderStream("1")
	history := fixtures.History(stream, fixtures.OrderEvents("1")...)

	require.NoError(t, processor.Dispatch(t.Context(), stream, history))
	spy.FailWith(boom)
	require.ErrorIs(t, processor.Dispatch(t.Context(), stream, history), boom)

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "dispatch started", lines[0]["msg"])
	assert.Equal(t, "views", lines[0]["processor"])
	assert.Equal(t, stream.String(), lines[0]["stream-id"])
	assert.EqualValues(t, 1, lines[0]["first-sequence"])
	assert.EqualValues(t, len(history), lines[0]["last-sequence"])
	assert.Equal(t, "dispatch finished", lines[1]["msg"])
	assert.Equal(t, "dispatch failed", lines[3]["msg"])
	assert.Equal(t, "ERROR", lines[3]["level"])
	assert.Equal(t, "boom", lines[3]["error"])
}

func TestWithLoggingMiddleware_KeepsEventName(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var handled int
	group := cqrs.NewEventGroupProcessor("orders",
		logging.WithLoggingMiddleware(logger, cqrs.OnEvent(func(ctx context.Context, ev fixtures.OrderCreated) error {
			handled++
			return nil
		})),
	)

	stream := fixtures.OrderStream("9")
	require.NoError(t, group.Dispatch(t.Context(), stream, fixtures.History(stream, fixtures.OrderCreated{OrderID: "9"})))
	assert.Equal(t, 1, handled)

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, stream.String(), lines[0]["stream-id"])
	assert.Equal(t, "OrderCreated", lines[0]["event-type"])
	assert.EqualValues(t, 1, lines[0]["sequence"])
}

func TestErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	stream := fixtures.OrderStream("3")
	spy := fixtures.NewProcessorSpy("failing").FailWith(&cqrs.ViewStoreError{Err: errors.New("locked")})
	dispatcher := cqrs.NewSyncDispatcher(logging.ErrorHandler(logger), spy)

	dispatcher.Dispatch(cqrs.WithStreamID(t.Context(), stream), stream, fixtures.History(stream, fixtures.OrderCreated{OrderID: "3"}))

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "processor failed", lines[0]["msg"])
	assert.Equal(t, "failing", lines[0]["processor"])
	assert.Equal(t, stream.String(), lines[0]["stream-id"])
	assert.Equal(t, "storage", lines[0]["kind"])
}
