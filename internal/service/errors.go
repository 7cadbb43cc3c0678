package service

import "errors"

var (
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrInvalidAmount          = errors.New("amount must be positive with at most 2 decimal places")
	ErrDescriptionTooLong     = errors.New("description exceeds 255 characters")
	ErrTransactionNotFound    = errors.New("transaction not found")
)
