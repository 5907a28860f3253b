package cqrs

import (
	"context"
	"errors"
	"testing"
)

type balanceQuery struct {
	Account string
}

func (balanceQuery) QueryType() string { return "Balance" }

type balance struct {
	Account string
	Amount  float64
}

func TestNewQueryHandlerFunc(t *testing.T) {
	errUnknown := errors.New("unknown account")
	balances := map[string]float64{"A": 200, "B": 0}

	handler := NewQueryHandlerFunc(func(ctx context.Context, q balanceQuery) (balance, error) {
		if err := ctx.Err(); err != nil {
			return balance{}, err
		}
		amount, ok := balances[q.Account]
		if !ok {
			return balance{}, errUnknown
		}
		return balance{Account: q.Account, Amount: amount}, nil
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		account string
		want    balance
		wantErr error
	}{
		{name: "funded account", ctx: context.Background(), account: "A", want: balance{Account: "A", Amount: 200}},
		{name: "empty account", ctx: context.Background(), account: "B", want: balance{Account: "B"}},
		{name: "unknown account", ctx: context.Background(), account: "C", wantErr: errUnknown},
		{name: "cancelled context", ctx: cancelled, account: "A", wantErr: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := handler.HandleQuery(tt.ctx, balanceQuery{Account: tt.account})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestQueryGateway(t *testing.T) {
	bus := NewQueryBus()
	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q balanceQuery) (balance, error) {
		return balance{Account: q.Account, Amount: 7}, nil
	}))

	got, err := NewQueryGateway[balanceQuery, balance](bus).HandleQuery(t.Context(), balanceQuery{Account: "A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Amount != 7 {
		t.Errorf("Amount = %v, want 7", got.Amount)
	}

	_, err = NewQueryGateway[balanceQuery, *balance](bus).HandleQuery(t.Context(), balanceQuery{Account: "A"})
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Fatalf("expected ErrHandlerNotFound for another result type, got %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterQueryHandler(bus, NewQueryHandlerFunc(func(ctx context.Context, q balanceQuery) (balance, error) {
		return balance{}, nil
	}))
}
