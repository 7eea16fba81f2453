/*
Package payroll computes monthly staff pay records.

Unlike the points ledger there is no append-only log here: one record per
(staff, month) is mutated in place and the net figure is recomputed from
its components whenever anything changes. Commission derives from the
staff member's completed orders in the month, floored to whole currency
units.

  net = base + allowance + bonus + commission - deduction
*/
package payroll

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record is one staff member's pay for one month.
type Record struct {
	ID         string
	StaffID    string
	Month      string // YYYY-MM
	Base       decimal.Decimal
	Allowance  decimal.Decimal
	Deduction  decimal.Decimal
	Bonus      decimal.Decimal
	Commission decimal.Decimal
	Net        decimal.Decimal
	UpdatedAt  time.Time
}

// RecomputeNet derives Net from the component fields.
func (r *Record) RecomputeNet() {
	r.Net = r.Base.Add(r.Allowance).Add(r.Bonus).Add(r.Commission).Sub(r.Deduction)
}

// Store persists payroll records. GetRecord returns (nil, nil) when no
// record exists yet for the pair.
type Store interface {
	GetRecord(ctx context.Context, staffID, month string) (*Record, error)
	SaveRecord(ctx context.Context, r Record) error
}

// OrderTotals supplies the commission basis: the net amounts of a staff
// member's completed orders within a month.
type OrderTotals interface {
	CompletedOrderNets(ctx context.Context, staffID, month string) ([]decimal.Decimal, error)
}

// Service recomputes payroll records.
type Service struct {
	Records        Store
	Orders         OrderTotals
	CommissionRate decimal.Decimal // fraction of completed-order net, e.g. 0.1
}

func NewService(records Store, orders OrderTotals, rate decimal.Decimal) *Service {
	return &Service{Records: records, Orders: orders, CommissionRate: rate}
}

// Recompute refreshes the commission from matched orders and rederives the
// net figure, creating the record if it does not exist yet.
func (s *Service) Recompute(ctx context.Context, staffID, month string) (Record, error) {
	rec, err := s.Records.GetRecord(ctx, staffID, month)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		rec = &Record{ID: uuid.NewString(), StaffID: staffID, Month: month}
	}

	nets, err := s.Orders.CompletedOrderNets(ctx, staffID, month)
	if err != nil {
		return Record{}, err
	}
	basis := decimal.Zero
	for _, n := range nets {
		basis = basis.Add(n)
	}
	rec.Commission = basis.Mul(s.CommissionRate).RoundDown(0)
	rec.RecomputeNet()
	rec.UpdatedAt = time.Now().UTC()

	if err := s.Records.SaveRecord(ctx, *rec); err != nil {
		return Record{}, err
	}
	return *rec, nil
}
