package domain

import "math/bits"

// CapitalAccount is the reserve's aggregate liquid balance. It only moves
// through explicit credits and debits; nothing accrues over time.
type CapitalAccount struct {
	balance uint64
}

// Balance reports the current liquid capital.
func (a CapitalAccount) Balance() uint64 {
	return a.balance
}

// Credit adds amount to the balance.
func (a *CapitalAccount) Credit(amount uint64) error {
	sum, carry := bits.Add64(a.balance, amount, 0)
	if carry != 0 {
		return ErrMathOverflow.withDetail("credit of %d overflows balance %d", amount, a.balance)
	}
	a.balance = sum
	return nil
}

// Debit removes amount from the balance, failing with ErrInsufficientLiquidity
// when the balance cannot cover it.
func (a *CapitalAccount) Debit(amount uint64) error {
	if amount > a.balance {
		return ErrInsufficientLiquidity.withDetail("debit of %d exceeds balance %d", amount, a.balance)
	}
	a.balance -= amount
	return nil
}

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// mulDiv computes floor(a*b/d) without intermediate overflow. Callers
// guarantee a <= d so the quotient fits in 64 bits.
func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, d)
	return q
}
