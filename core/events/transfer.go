package events

import (
	"math/big"

	"sorosusu/core/types"
	"sorosusu/crypto"
)

const (
	// TypeTransfer is emitted for every committed ledger balance movement.
	TypeTransfer = "bank.transfer"
)

type Transfer struct {
	Token  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if token := normalizeAsset(e.Token); token != "" {
		attrs["token"] = token
	}
	attrs["from"] = crypto.AddressFromArray(e.From).String()
	attrs["to"] = crypto.AddressFromArray(e.To).String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
