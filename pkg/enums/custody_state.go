package enums

import "fmt"

// CustodyState tracks where a physical asset is.
type CustodyState string

const (
	CustodyAvailable CustodyState = "available"
	CustodyOnLoan    CustodyState = "on_loan"
	CustodyLost      CustodyState = "lost"
)

var validCustodyStates = []CustodyState{
	CustodyAvailable,
	CustodyOnLoan,
	CustodyLost,
}

var custodyTransitions = map[CustodyState][]CustodyState{
	CustodyAvailable: {CustodyOnLoan},
	CustodyOnLoan:    {CustodyAvailable, CustodyLost},
	CustodyLost:      {CustodyAvailable},
}

// String implements fmt.Stringer.
func (c CustodyState) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CustodyState.
func (c CustodyState) IsValid() bool {
	for _, candidate := range validCustodyStates {
		if candidate == c {
			return true
		}
	}
	return false
}

// CanTransition reports whether custody may move from c to next.
func (c CustodyState) CanTransition(next CustodyState) bool {
	for _, candidate := range custodyTransitions[c] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseCustodyState converts raw input into a CustodyState.
func ParseCustodyState(value string) (CustodyState, error) {
	for _, candidate := range validCustodyStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid custody state %q", value)
}
