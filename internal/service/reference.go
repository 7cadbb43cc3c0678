package service

import (
	"time"

	"github.com/pegazzo/fleetledger/internal/database/repository"
)

var typeDigits = map[string]string{
	repository.TypeDebit:  "1",
	repository.TypeCredit: "2",
}

var methodDigits = map[string]string{
	repository.MethodCash:             "01",
	repository.MethodPersonalTransfer: "02",
	repository.MethodPegazzoTransfer:  "03",
}

// generateReference builds a payment reference with the pattern
// [HHMMSS][TYPE][PAYMENT][DV], DV being a Mod11 check digit.
func generateReference(now time.Time, txType, paymentMethod string) string {
	base := now.UTC().Format("150405") + typeDigits[txType] + methodDigits[paymentMethod]
	return base + mod11(base)
}

// mod11 computes a Mod11 check digit with repeating weights 2..7,
// returning "X" when the result equals 10.
func mod11(digits string) string {
	weights := []int{2, 3, 4, 5, 6, 7}
	total := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		total += d * weights[i%len(weights)]
	}
	check := (11 - total%11) % 11
	if check == 10 {
		return "X"
	}
	return string(rune('0' + check))
}
