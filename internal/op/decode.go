package op

import (
	"encoding/json"
	"fmt"
)

// Decode reconstructs a typed operation from a logged envelope payload.
// Payloads are the json.Marshal form of the concrete op structs, so this is
// the replay-side inverse of the core's envelope encoding.
func Decode(t OpType, data []byte) (Op, error) {
	var o Op
	switch t {
	case OpTypeDeposit:
		o = &Deposit{}
	case OpTypeWithdraw:
		o = &Withdraw{}
	case OpTypeSetCurrency:
		o = &SetCurrency{}
	case OpTypeBorrow:
		o = &Borrow{}
	case OpTypeRepay:
		o = &Repay{}
	case OpTypeLiquidate:
		o = &Liquidate{}
	case OpTypeDebtTransfer:
		o = &DebtTransfer{}
	case OpTypeDebtApprove:
		o = &DebtApprove{}
	case OpTypeDebtTransferFrom:
		o = &DebtTransferFrom{}
	case OpTypeRateUpdate:
		o = &RateUpdate{}
	case OpTypeRateUpdateAll:
		o = &RateUpdateAll{}
	case OpTypePauseSet:
		o = &PauseSet{}
	default:
		return nil, fmt.Errorf("decode: unknown op type %d", t)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return o, nil
}

// ParseOpType maps an op type name back to its discriminator.
func ParseOpType(s string) OpType {
	switch s {
	case "Deposit":
		return OpTypeDeposit
	case "Withdraw":
		return OpTypeWithdraw
	case "SetCurrency":
		return OpTypeSetCurrency
	case "Borrow":
		return OpTypeBorrow
	case "Repay":
		return OpTypeRepay
	case "Liquidate":
		return OpTypeLiquidate
	case "DebtTransfer":
		return OpTypeDebtTransfer
	case "DebtApprove":
		return OpTypeDebtApprove
	case "DebtTransferFrom":
		return OpTypeDebtTransferFrom
	case "RateUpdate":
		return OpTypeRateUpdate
	case "RateUpdateAll":
		return OpTypeRateUpdateAll
	case "PauseSet":
		return OpTypePauseSet
	default:
		return OpTypeUnknown
	}
}
