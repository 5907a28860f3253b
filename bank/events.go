package bank

import "github.com/terraskye/cqrs"

// AccountOpened records the opening of an account.
type AccountOpened struct {
	AccountID string `json:"account_id"`
}

func (AccountOpened) EventType() string    { return "AccountOpened" }
func (AccountOpened) EventVersion() string { return "1.0" }

// CustomerDepositedMoney records a deposit and the resulting balance.
type CustomerDepositedMoney struct {
	Amount  float64 `json:"amount"`
	Balance float64 `json:"balance"`
}

func (CustomerDepositedMoney) EventType() string    { return "CustomerDepositedMoney" }
func (CustomerDepositedMoney) EventVersion() string { return "1.0" }

// CustomerWithdrewCash records an ATM withdrawal and the resulting balance.
type CustomerWithdrewCash struct {
	Amount  float64 `json:"amount"`
	Balance float64 `json:"balance"`
}

func (CustomerWithdrewCash) EventType() string    { return "CustomerWithdrewCash" }
func (CustomerWithdrewCash) EventVersion() string { return "1.0" }

// CustomerWroteCheck records a check payment and the resulting balance.
type CustomerWroteCheck struct {
	CheckNumber string  `json:"check_number"`
	Amount      float64 `json:"amount"`
	Balance     float64 `json:"balance"`
}

func (CustomerWroteCheck) EventType() string    { return "CustomerWroteCheck" }
func (CustomerWroteCheck) EventVersion() string { return "1.0" }

// Events lists one value of every account event.
func Events() []cqrs.Event {
	return []cqrs.Event{
		AccountOpened{},
		CustomerDepositedMoney{},
		CustomerWithdrewCash{},
		CustomerWroteCheck{},
	}
}

// RegisterEvents registers the account events in r.
func RegisterEvents(r *cqrs.Registry) {
	cqrs.RegisterEvent[AccountOpened](r)
	cqrs.RegisterEvent[CustomerDepositedMoney](r)
	cqrs.RegisterEvent[CustomerWithdrewCash](r)
	cqrs.RegisterEvent[CustomerWroteCheck](r)
}

func init() {
	RegisterEvents(cqrs.DefaultRegistry)
}
