package service

import (
	"context"

	"freyr/domain/orderbook"
)

// BalanceService is the settlement-side collaborator. The matching core only
// decides; holds and transfers live outside this repo. Calls never run under
// a book lock.
type BalanceService interface {
	// CheckBalance verifies the user can afford the order before admission.
	CheckBalance(ctx context.Context, req *orderbook.OrderRequest) error
	// ReserveBalance places a hold for an accepted order.
	ReserveBalance(ctx context.Context, o *orderbook.Order) error
	// ReleaseBalance drops the hold for a cancelled order.
	ReleaseBalance(ctx context.Context, o *orderbook.Order) error
}

// NoopBalance accepts everything. It is the default collaborator until a real
// settlement service is wired in.
type NoopBalance struct{}

func (NoopBalance) CheckBalance(context.Context, *orderbook.OrderRequest) error { return nil }
func (NoopBalance) ReserveBalance(context.Context, *orderbook.Order) error      { return nil }
func (NoopBalance) ReleaseBalance(context.Context, *orderbook.Order) error      { return nil }
