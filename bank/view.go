package bank

import (
	"encoding/json"
	"slices"

	"github.com/terraskye/cqrs"
)

// AccountViewName names the account view processor and its stored views.
const AccountViewName = "account_query"

// AccountView is the queryable state of one account.
type AccountView struct {
	AccountID     string   `json:"account_id"`
	Balance       float64  `json:"balance"`
	WrittenChecks []string `json:"written_checks"`
}

// MarshalJSON encodes the account id of an account that was never opened as
// null.
func (v AccountView) MarshalJSON() ([]byte, error) {
	type plain AccountView
	var id *string
	if v.AccountID != "" {
		id = &v.AccountID
	}
	return json.Marshal(struct {
		AccountID *string `json:"account_id"`
		plain
	}{AccountID: id, plain: plain(v)})
}

// ProjectAccount applies an account event to view. It never modifies the
// WrittenChecks slice it was given.
func ProjectAccount(view AccountView, envelope *cqrs.Envelope) AccountView {
	if view.WrittenChecks == nil {
		view.WrittenChecks = []string{}
	}

	switch e := envelope.Event.(type) {
	case AccountOpened:
		view.AccountID = e.AccountID
	case CustomerDepositedMoney:
		view.Balance = e.Balance
	case CustomerWithdrewCash:
		view.Balance = e.Balance
	case CustomerWroteCheck:
		view.Balance = e.Balance
		view.WrittenChecks = append(slices.Clone(view.WrittenChecks), e.CheckNumber)
	}
	return view
}

// NewAccountViewProcessor returns the processor keeping AccountViews in repo.
// store is used to fill gaps and may be nil.
func NewAccountViewProcessor(repo cqrs.ViewRepository[AccountView], store cqrs.EventStore) *cqrs.ViewProcessor[AccountView] {
	return cqrs.NewViewProcessor(AccountViewName, repo, ProjectAccount, store)
}
