package bank

import "context"

// AtmService authorizes cash withdrawals at an ATM.
type AtmService interface {
	AtmWithdrawal(ctx context.Context, atmID string, amount float64) error
}

// CheckingService validates checks before they are paid.
type CheckingService interface {
	ValidateCheck(ctx context.Context, accountID, checkNumber string) error
}

// Services are the external collaborators the decider calls.
type Services struct {
	Atm      AtmService
	Checking CheckingService
}

type happyPath struct{}

func (happyPath) AtmWithdrawal(context.Context, string, float64) error { return nil }

func (happyPath) ValidateCheck(context.Context, string, string) error { return nil }

// HappyPathServices returns services that approve everything.
func HappyPathServices() Services {
	return Services{Atm: happyPath{}, Checking: happyPath{}}
}
