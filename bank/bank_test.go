package bank_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/bank"
	"github.com/terraskye/cqrs/eventstore/memory"
	"github.com/terraskye/cqrs/fixtures"
	viewmemory "github.com/terraskye/cqrs/viewstore/memory"
)

type app struct {
	store    cqrs.EventStore
	views    *cqrs.ViewProcessor[bank.AccountView]
	executor *cqrs.CommandExecutor[bank.Account]
	queries  *cqrs.QueryBus
	audit    *bytes.Buffer
}

func newApp(t *testing.T, store cqrs.EventStore, opts ...cqrs.ExecutorOption) *app {
	t.Helper()

	aggregate, err := bank.NewAggregate(bank.HappyPathServices())
	require.NoError(t, err)

	a := &app{store: store, audit: &bytes.Buffer{}, queries: cqrs.NewQueryBus()}
	a.views = bank.NewAccountViewProcessor(viewmemory.NewRepository[bank.AccountView](), store)
	opts = append([]cqrs.ExecutorOption{cqrs.WithProcessors(a.views, bank.NewAuditLog(a.audit))}, opts...)
	a.executor = cqrs.NewCommandExecutor(store, aggregate, opts...)
	bank.RegisterQueries(a.queries, a.views)
	return a
}

func (a *app) events(t *testing.T, id string) []*cqrs.Envelope {
	t.Helper()
	iter, err := a.store.LoadStream(t.Context(), cqrs.NewStreamID(bank.AggregateType, id))
	require.NoError(t, err)
	events, err := iter.All(t.Context())
	require.NoError(t, err)
	return events
}

func (a *app) account(t *testing.T, id string) (bank.AccountView, error) {
	t.Helper()
	return cqrs.NewQueryGateway[bank.GetAccount, bank.AccountView](a.queries).
		HandleQuery(t.Context(), bank.GetAccount{AccountID: id})
}

func TestDepositThenQuery(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore())

	require.NoError(t, a.executor.Execute(t.Context(), "A", bank.DepositMoney{Amount: 200}, nil))

	events := a.events(t, "A")
	require.Len(t, events, 1)
	assert.Equal(t, bank.CustomerDepositedMoney{Amount: 200, Balance: 200}, events[0].Event)

	view, err := a.account(t, "A")
	require.NoError(t, err)
	assert.Equal(t, 200.0, view.Balance)
	assert.Equal(t, []string{}, view.WrittenChecks)
}

func TestSequentialDepositsAccumulate(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore())

	require.NoError(t, a.executor.Execute(t.Context(), "A", bank.DepositMoney{Amount: 200}, nil))
	require.NoError(t, a.executor.Execute(t.Context(), "A", bank.DepositMoney{Amount: 200}, nil))

	view, err := a.account(t, "A")
	require.NoError(t, err)
	assert.Equal(t, 400.0, view.Balance)

	events := a.events(t, "A")
	require.Len(t, events, 2)
	assert.Equal(t, []uint64{1, 2}, []uint64{events[0].Sequence, events[1].Sequence})
}

func TestOverdraftRejected(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore())

	result, err := a.executor.ExecuteWithResult(t.Context(), "B", bank.WithdrawMoney{Amount: 200}, nil)

	var domainErr *cqrs.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, bank.ReasonFundsNotAvailable, domainErr.Reason)
	assert.Equal(t, cqrs.PhaseRejected, result.Phase)
	assert.Empty(t, a.events(t, "B"))

	_, err = a.account(t, "B")
	assert.ErrorIs(t, err, bank.ErrAccountNotFound)
}

func TestOverflowingDepositRejected(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore())

	require.NoError(t, a.executor.Execute(t.Context(), "M", bank.DepositMoney{Amount: math.MaxFloat64}, nil))
	err := a.executor.Execute(t.Context(), "M", bank.DepositMoney{Amount: math.MaxFloat64}, nil)

	var domainErr *cqrs.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, bank.ReasonAmountOutOfRange, domainErr.Reason)
	assert.Len(t, a.events(t, "M"), 1)

	view, err := a.account(t, "M")
	require.NoError(t, err)
	assert.Equal(t, math.MaxFloat64, view.Balance)
	_, err = json.Marshal(view)
	assert.NoError(t, err)
}

func TestAccountViewJSON(t *testing.T) {
	tests := []struct {
		name string
		view bank.AccountView
		want string
	}{
		{
			name: "never opened",
			view: bank.AccountView{Balance: 200, WrittenChecks: []string{}},
			want: `{"account_id":null,"balance":200,"written_checks":[]}`,
		},
		{
			name: "opened",
			view: bank.AccountView{AccountID: "A", Balance: 50, WrittenChecks: []string{"1170"}},
			want: `{"account_id":"A","balance":50,"written_checks":["1170"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.view)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var decoded bank.AccountView
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.view, decoded)
		})
	}
}

func TestCheckTracking(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore())
	md := cqrs.Metadata{"uri": "/account/A", "User-Agent": "test"}

	require.NoError(t, a.executor.Execute(t.Context(), "A", bank.OpenAccount{AccountID: "A"}, md))
	require.NoError(t, a.executor.Execute(t.Context(), "A", bank.DepositMoney{Amount: 200}, md))
	require.NoError(t, a.executor.Execute(t.Context(), "A", bank.WriteCheck{CheckNumber: "1170", Amount: 100}, md))

	view, err := a.account(t, "A")
	require.NoError(t, err)
	assert.Equal(t, bank.AccountView{AccountID: "A", Balance: 100, WrittenChecks: []string{"1170"}}, view)

	for _, env := range a.events(t, "A") {
		assert.Equal(t, md, env.Metadata)
	}
	assert.Contains(t, a.audit.String(), "A-3\n")
	assert.Contains(t, a.audit.String(), `"check_number": "1170"`)
}

func TestBalanceNeverNegative(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore())
	commands := []cqrs.Command{
		bank.DepositMoney{Amount: 50},
		bank.WithdrawMoney{Amount: 30},
		bank.WriteCheck{CheckNumber: "1", Amount: 30},
		bank.WithdrawMoney{Amount: 20},
		bank.DepositMoney{Amount: 5},
		bank.WriteCheck{CheckNumber: "2", Amount: 6},
	}
	for _, cmd := range commands {
		err := a.executor.Execute(t.Context(), "C", cmd, nil)
		if err != nil {
			require.ErrorIs(t, err, cqrs.ErrBusinessRuleViolation)
		}
	}

	state, err := a.executor.Aggregate().Fold(a.events(t, "C"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, state.Balance, 0.0)
	assert.Equal(t, 5.0, state.Balance)
}

func TestConcurrentExecutesCommitOnce(t *testing.T) {
	store := fixtures.ConcurrencyConflictStore(1, bank.CustomerDepositedMoney{Amount: 10, Balance: 10})
	a := newApp(t, store)

	err := a.executor.Execute(t.Context(), "D", bank.DepositMoney{Amount: 5}, nil)
	assert.ErrorIs(t, err, cqrs.ErrConcurrencyConflict)

	events := a.events(t, "D")
	require.Len(t, events, 1)
	assert.Equal(t, bank.CustomerDepositedMoney{Amount: 10, Balance: 10}, events[0].Event)
}

func TestConcurrentDepositsWithRetry(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore(), cqrs.WithMaxRetries(50))

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- a.executor.Execute(t.Context(), "E", bank.DepositMoney{Amount: 10}, cqrs.Metadata{"writer": fmt.Sprint(i)})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events := a.events(t, "E")
	require.Len(t, events, writers)
	for i, env := range events {
		assert.Equal(t, uint64(i+1), env.Sequence)
	}

	view, err := a.account(t, "E")
	require.NoError(t, err)
	assert.Equal(t, 100.0, view.Balance)
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    cqrs.Command
		wantErr bool
	}{
		{name: "open", body: `{"OpenAccount":{"account_id":"A"}}`, want: bank.OpenAccount{AccountID: "A"}},
		{name: "deposit", body: `{"DepositMoney":{"amount":200.0}}`, want: bank.DepositMoney{Amount: 200}},
		{name: "withdraw", body: `{"WithdrawMoney":{"amount":50,"atm_id":"ATM1"}}`, want: bank.WithdrawMoney{Amount: 50, AtmID: "ATM1"}},
		{name: "check", body: `{"WriteCheck":{"check_number":"1170","amount":100}}`, want: bank.WriteCheck{CheckNumber: "1170", Amount: 100}},
		{name: "unknown command", body: `{"CloseAccount":{}}`, wantErr: true},
		{name: "two commands", body: `{"DepositMoney":{"amount":1},"OpenAccount":{"account_id":"A"}}`, wantErr: true},
		{name: "not json", body: `deposit 200`, wantErr: true},
		{name: "wrong field type", body: `{"DepositMoney":{"amount":"lots"}}`, wantErr: true},
		{name: "fails validation", body: `{"WriteCheck":{"amount":100}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := bank.DecodeCommand([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, bank.ErrInvalidCommand))
				assert.Equal(t, cqrs.KindDeserialization, cqrs.Classify(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestAccountViewCatchUp(t *testing.T) {
	store := memory.NewMemoryStore()
	stream := cqrs.NewStreamID(bank.AggregateType, "F")
	_, err := store.Save(t.Context(), fixtures.Batch(stream, 0, nil,
		bank.AccountOpened{AccountID: "F"},
		bank.CustomerDepositedMoney{Amount: 70, Balance: 70},
	), cqrs.NoStream{})
	require.NoError(t, err)

	views := bank.NewAccountViewProcessor(viewmemory.NewRepository[bank.AccountView](), store)
	_, err = cqrs.Replay(t.Context(), store, 0, views)
	require.NoError(t, err)

	view, found, err := views.LoadView(t.Context(), stream)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, bank.AccountView{AccountID: "F", Balance: 70, WrittenChecks: []string{}}, view)
}

func TestRegisterCommandsOnBus(t *testing.T) {
	a := newApp(t, memory.NewMemoryStore())
	bus := cqrs.NewCommandBus(8, 4)
	t.Cleanup(bus.Stop)
	bank.RegisterCommands(bus, a.executor)

	require.NoError(t, bus.Execute(t.Context(), "G", bank.DepositMoney{Amount: 12}, nil))

	view, err := a.account(t, "G")
	require.NoError(t, err)
	assert.Equal(t, 12.0, view.Balance)
}
