package batch

import "errors"

var (
	ErrNoOrderIDs    = errors.New("no order ids provided")
	ErrBatchTooLarge = errors.New("batch too large")
	ErrBatchNotFound = errors.New("batch not found")
	ErrBusy          = errors.New("all batch processing slots busy")
)

func NewErrInvalidOrderID(id string) error { return errors.New("invalid order id: " + id) }
