package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pegazzo/fleetledger/internal/database/repository"
)

func TestGenerateReference(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 3, 12, 34, 56, 0, time.UTC)

	// 123456 + 2 (credit) + 01 (cash) + mod11 check digit
	ref := generateReference(now, repository.TypeCredit, repository.MethodCash)
	require.Equal(t, "1234562017", ref)
	require.Len(t, ref, 10)

	// same instant, different type and method change both the body and
	// the check digit
	other := generateReference(now, repository.TypeDebit, repository.MethodPegazzoTransfer)
	require.NotEqual(t, ref, other)
	require.Equal(t, "123456", other[:6])
}

func TestMod11(t *testing.T) {
	t.Parallel()

	require.Equal(t, "7", mod11("123456201"))
	require.Equal(t, "0", mod11("0"))
	// remainder 1 maps to the X sentinel
	require.Equal(t, "X", mod11("6"))
}
