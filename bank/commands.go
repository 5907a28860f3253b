package bank

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/terraskye/cqrs"
)

// commandValidate checks command payloads at the boundary and again in the
// decider.
var commandValidate = validator.New()

// OpenAccount opens the account under the given id.
type OpenAccount struct {
	AccountID string `json:"account_id" validate:"required"`
}

func (OpenAccount) CommandType() string { return "OpenAccount" }

// DepositMoney adds Amount to the balance.
type DepositMoney struct {
	Amount float64 `json:"amount" validate:"gt=0"`
}

func (DepositMoney) CommandType() string { return "DepositMoney" }

// WithdrawMoney takes Amount in cash from the ATM identified by AtmID.
type WithdrawMoney struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	AtmID  string  `json:"atm_id"`
}

func (WithdrawMoney) CommandType() string { return "WithdrawMoney" }

// WriteCheck pays Amount by check CheckNumber.
type WriteCheck struct {
	CheckNumber string  `json:"check_number" validate:"required"`
	Amount      float64 `json:"amount" validate:"gt=0"`
}

func (WriteCheck) CommandType() string { return "WriteCheck" }

var commandDecoders = map[string]func(json.RawMessage) (cqrs.Command, error){
	OpenAccount{}.CommandType():   decodeAs[OpenAccount],
	DepositMoney{}.CommandType():  decodeAs[DepositMoney],
	WithdrawMoney{}.CommandType(): decodeAs[WithdrawMoney],
	WriteCheck{}.CommandType():    decodeAs[WriteCheck],
}

func decodeAs[C cqrs.Command](data json.RawMessage) (cqrs.Command, error) {
	var cmd C
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ErrInvalidCommand is matched by every error of DecodeCommand.
var ErrInvalidCommand = errors.New("not a valid command")

// DecodeCommand decodes an externally tagged command such as
//
//	{"DepositMoney": {"amount": 200.0}}
//
// and validates its fields. Errors are *cqrs.DeserializationError matching
// ErrInvalidCommand.
func DecodeCommand(data []byte) (cqrs.Command, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, invalidCommand(err)
	}
	if len(tagged) != 1 {
		return nil, invalidCommand(fmt.Errorf("expected exactly one command, got %d", len(tagged)))
	}

	for name, payload := range tagged {
		decode, ok := commandDecoders[name]
		if !ok {
			return nil, invalidCommand(fmt.Errorf("unknown command %q", name))
		}
		cmd, err := decode(payload)
		if err != nil {
			return nil, invalidCommand(fmt.Errorf("%s: %w", name, err))
		}
		if err := commandValidate.Struct(cmd); err != nil {
			return nil, invalidCommand(fmt.Errorf("%s: %w", name, err))
		}
		return cmd, nil
	}
	return nil, invalidCommand(errors.New("empty command"))
}

func invalidCommand(err error) error {
	return &cqrs.DeserializationError{Err: fmt.Errorf("%w: %w", ErrInvalidCommand, err)}
}
