// Package bank is the bank account domain: an Account aggregate deciding
// deposits, ATM withdrawals and checks, the AccountView read model and the
// GetAccount query.
package bank

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/terraskye/cqrs"
)

// AggregateType names the account streams, e.g. "account-A".
const AggregateType = "account"

// Domain rule violations.
const (
	ReasonFundsNotAvailable = "funds not available"
	ReasonAtmRuleViolation  = "atm rule violation"
	ReasonCheckInvalid      = "check invalid"
	ReasonAmountOutOfRange  = "amount out of range"
)

// Account is the state rebuilt from an account's events.
type Account struct {
	AccountID string
	Opened    bool
	Balance   float64
}

// NewAggregate returns the account aggregate calling services from its
// decider. It fails when an account event has no apply handler.
func NewAggregate(services Services) (*cqrs.Aggregate[Account], error) {
	if services.Atm == nil || services.Checking == nil {
		return nil, errors.New("bank: atm and checking services are required")
	}

	d := decider{services: services}
	aggregate := cqrs.NewAggregate(AggregateType, Account{}, d.decide,
		cqrs.OnApply(func(s Account, e AccountOpened) Account {
			s.AccountID = e.AccountID
			s.Opened = true
			return s
		}),
		cqrs.OnApply(func(s Account, e CustomerDepositedMoney) Account {
			s.Balance = e.Balance
			return s
		}),
		cqrs.OnApply(func(s Account, e CustomerWithdrewCash) Account {
			s.Balance = e.Balance
			return s
		}),
		cqrs.OnApply(func(s Account, e CustomerWroteCheck) Account {
			s.Balance = e.Balance
			return s
		}),
	)

	if err := aggregate.Covers(Events()...); err != nil {
		return nil, fmt.Errorf("bank: %w", err)
	}
	return aggregate, nil
}

type decider struct {
	services Services
}

func (d decider) decide(ctx context.Context, state Account, cmd cqrs.Command) ([]cqrs.Event, error) {
	if err := commandValidate.Struct(cmd); err != nil {
		return nil, cqrs.NewDomainError(err.Error())
	}

	switch c := cmd.(type) {
	case OpenAccount:
		return []cqrs.Event{AccountOpened{AccountID: c.AccountID}}, nil

	case DepositMoney:
		balance := state.Balance + c.Amount
		if !finite(balance) {
			return nil, cqrs.NewDomainError(ReasonAmountOutOfRange)
		}
		return []cqrs.Event{CustomerDepositedMoney{
			Amount:  c.Amount,
			Balance: balance,
		}}, nil

	case WithdrawMoney:
		balance := state.Balance - c.Amount
		if !finite(balance) {
			return nil, cqrs.NewDomainError(ReasonAmountOutOfRange)
		}
		if balance < 0 {
			return nil, cqrs.NewDomainError(ReasonFundsNotAvailable)
		}
		if err := d.services.Atm.AtmWithdrawal(ctx, c.AtmID, c.Amount); err != nil {
			return nil, cqrs.NewDomainError(ReasonAtmRuleViolation)
		}
		return []cqrs.Event{CustomerWithdrewCash{Amount: c.Amount, Balance: balance}}, nil

	case WriteCheck:
		balance := state.Balance - c.Amount
		if !finite(balance) {
			return nil, cqrs.NewDomainError(ReasonAmountOutOfRange)
		}
		if balance < 0 {
			return nil, cqrs.NewDomainError(ReasonFundsNotAvailable)
		}
		accountID := state.AccountID
		if accountID == "" {
			accountID = cqrs.AggregateIDFromContext(ctx)
		}
		if err := d.services.Checking.ValidateCheck(ctx, accountID, c.CheckNumber); err != nil {
			return nil, cqrs.NewDomainError(ReasonCheckInvalid)
		}
		return []cqrs.Event{CustomerWroteCheck{
			CheckNumber: c.CheckNumber,
			Amount:      c.Amount,
			Balance:     balance,
		}}, nil

	default:
		return nil, cqrs.NewDomainError(fmt.Sprintf("unsupported command %s", cmd.CommandType()))
	}
}

// finite reports whether a balance can be stored and encoded as JSON.
func finite(balance float64) bool {
	return !math.IsInf(balance, 0) && !math.IsNaN(balance)
}
