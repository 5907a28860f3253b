package bank

import (
	"context"
	"errors"

	"github.com/terraskye/cqrs"
)

// ErrAccountNotFound is returned by GetAccount for accounts without events.
var ErrAccountNotFound = errors.New("account not found")

// GetAccount asks for the AccountView of AccountID.
type GetAccount struct {
	AccountID string
}

func (GetAccount) QueryType() string { return "GetAccount" }

// NewGetAccountHandler answers GetAccount from the views of processor.
func NewGetAccountHandler(views *cqrs.ViewProcessor[AccountView]) cqrs.QueryHandler[GetAccount, AccountView] {
	return cqrs.NewQueryHandlerFunc(func(ctx context.Context, q GetAccount) (AccountView, error) {
		view, found, err := views.LoadView(ctx, cqrs.NewStreamID(AggregateType, q.AccountID))
		if err != nil {
			return AccountView{}, err
		}
		if !found {
			return AccountView{}, ErrAccountNotFound
		}
		return view, nil
	})
}

// RegisterQueries registers the account query handlers on bus.
func RegisterQueries(bus *cqrs.QueryBus, views *cqrs.ViewProcessor[AccountView]) {
	cqrs.RegisterQueryHandler(bus, NewGetAccountHandler(views))
}

// RegisterCommands routes every account command on bus to exec.
func RegisterCommands(bus *cqrs.CommandBus, exec cqrs.Executor) {
	cqrs.Register[OpenAccount](bus, exec)
	cqrs.Register[DepositMoney](bus, exec)
	cqrs.Register[WithdrawMoney](bus, exec)
	cqrs.Register[WriteCheck](bus, exec)
}
