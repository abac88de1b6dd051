// Package dashboard serves read-only aggregates over boxes, sessions,
// payments and safes, cached in Redis when available.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/logging"
	"olive-backend/internal/models"
	"olive-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const cacheTTL = 10 * time.Minute

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

type Service struct {
	run    *txn.Runner
	cache  Cache
	prefix string
	log    *logrus.Entry
}

// NewService builds the dashboard service. cache may be nil.
func NewService(run *txn.Runner, cache Cache, prefix string) *Service {
	return &Service{run: run, cache: cache, prefix: prefix, log: logging.Component("dashboard")}
}

type BoxUsage struct {
	FactoryTotal   int64 `json:"factory_total"`
	FactoryInUse   int64 `json:"factory_in_use"`
	AuxiliaryTotal int64 `json:"auxiliary_total"`
	AuxiliaryInUse int64 `json:"auxiliary_in_use"`
}

type SessionCounts struct {
	Pending   int64 `json:"pending"`
	Processed int64 `json:"processed"`
	Unpaid    int64 `json:"unpaid"`
	Partial   int64 `json:"partial"`
	Paid      int64 `json:"paid"`
}

type Overview struct {
	Boxes        BoxUsage        `json:"boxes"`
	Sessions     SessionCounts   `json:"sessions"`
	Receivable   decimal.Decimal `json:"receivable"`
	SafeCapacity decimal.Decimal `json:"safe_capacity"`
	SafeStock    decimal.Decimal `json:"safe_stock"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

type ChartPoint struct {
	Label     string          `json:"label"`
	Olives    decimal.Decimal `json:"olives"`
	Oil       decimal.Decimal `json:"oil"`
	Collected decimal.Decimal `json:"collected"`
}

type Chart struct {
	Period Period       `json:"period"`
	From   string       `json:"from"`
	To     string       `json:"to"`
	Points []ChartPoint `json:"points"`
	Totals ChartPoint   `json:"totals"`
}

// cached serves key from the cache or computes it with fn and stores it.
func (s *Service) cached(ctx context.Context, key string, out any, fn func() (any, error)) error {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, s.prefix+key)
		if err == nil {
			if json.Unmarshal(raw, out) == nil {
				return nil
			}
		} else if !errors.Is(err, ErrCacheMiss) {
			s.log.WithField("key", key).Warnf("cache read failed: %v", err)
		}
	}

	v, err := fn()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, s.prefix+key, raw, cacheTTL); err != nil {
			s.log.WithField("key", key).Warnf("cache write failed: %v", err)
		}
	}
	return json.Unmarshal(raw, out)
}

func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	err := s.cached(ctx, "overview", &out, func() (any, error) {
		return s.computeOverview(ctx)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) computeOverview(ctx context.Context) (*Overview, error) {
	db := s.run.DB(ctx)
	ov := &Overview{GeneratedAt: s.run.Now()}

	type poolRow struct {
		Pool   models.BoxPool
		Status models.BoxStatus
		N      int64
	}
	var pools []poolRow
	if err := db.Model(&models.Box{}).Select("pool, status, COUNT(*) AS n").Group("pool, status").Scan(&pools).Error; err != nil {
		return nil, err
	}
	for _, r := range pools {
		switch r.Pool {
		case models.BoxPoolFactory:
			ov.Boxes.FactoryTotal += r.N
			if r.Status == models.BoxStatusInUse {
				ov.Boxes.FactoryInUse += r.N
			}
		case models.BoxPoolAuxiliary:
			ov.Boxes.AuxiliaryTotal += r.N
			if r.Status == models.BoxStatusInUse {
				ov.Boxes.AuxiliaryInUse += r.N
			}
		}
	}

	type statusRow struct {
		Status string
		N      int64
	}
	var processing, payment []statusRow
	if err := db.Model(&models.ProcessingSession{}).Select("processing_status AS status, COUNT(*) AS n").Group("processing_status").Scan(&processing).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.ProcessingSession{}).Select("payment_status AS status, COUNT(*) AS n").Group("payment_status").Scan(&payment).Error; err != nil {
		return nil, err
	}
	for _, r := range processing {
		switch models.ProcessingStatus(r.Status) {
		case models.ProcessingPending:
			ov.Sessions.Pending = r.N
		case models.ProcessingProcessed:
			ov.Sessions.Processed = r.N
		}
	}
	for _, r := range payment {
		switch models.PaymentStatus(r.Status) {
		case models.PaymentUnpaid:
			ov.Sessions.Unpaid = r.N
		case models.PaymentPartial:
			ov.Sessions.Partial = r.N
		case models.PaymentPaid:
			ov.Sessions.Paid = r.N
		}
	}

	var farmers []models.Farmer
	if err := db.Select("id, total_amount_due, total_amount_paid").Find(&farmers).Error; err != nil {
		return nil, err
	}
	ov.Receivable = decimal.Zero
	for _, f := range farmers {
		if open := f.TotalAmountDue.Sub(f.TotalAmountPaid); open.IsPositive() {
			ov.Receivable = ov.Receivable.Add(open)
		}
	}

	var safes []models.OilSafe
	if err := db.Select("id, capacity, current_stock").Find(&safes).Error; err != nil {
		return nil, err
	}
	ov.SafeCapacity, ov.SafeStock = decimal.Zero, decimal.Zero
	for _, sf := range safes {
		ov.SafeCapacity = ov.SafeCapacity.Add(sf.Capacity)
		ov.SafeStock = ov.SafeStock.Add(sf.CurrentStock)
	}
	return ov, nil
}

// DefaultCount is the number of buckets shown when the caller gives none.
func DefaultCount(p Period) int {
	switch p {
	case PeriodWeekly:
		return 8
	case PeriodMonthly:
		return 12
	default:
		return 7
	}
}

// Window returns the [start, end) range covering count buckets up to now.
func Window(p Period, count int, now time.Time) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch p {
	case PeriodWeekly:
		monday := bucketStart(PeriodWeekly, today)
		return monday.AddDate(0, 0, -7*(count-1)), monday.AddDate(0, 0, 7)
	case PeriodMonthly:
		first := bucketStart(PeriodMonthly, today)
		return first.AddDate(0, -(count - 1), 0), first.AddDate(0, 1, 0)
	default:
		return today.AddDate(0, 0, -(count - 1)), today.AddDate(0, 0, 1)
	}
}

func bucketStart(p Period, t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch p {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7 // Monday first
		return day.AddDate(0, 0, -offset)
	case PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

func nextBucket(p Period, t time.Time) time.Time {
	switch p {
	case PeriodWeekly:
		return t.AddDate(0, 0, 7)
	case PeriodMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Chart returns processed olive and oil weights with collected payments per bucket.
func (s *Service) Chart(ctx context.Context, p Period, count int) (*Chart, error) {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
	case "":
		p = PeriodDaily
	default:
		return nil, apperr.Validation("period must be daily, weekly or monthly")
	}
	if count == 0 {
		count = DefaultCount(p)
	}
	if count < 0 || count > 366 {
		return nil, apperr.Validation("count must be between 1 and 366")
	}

	var out Chart
	key := fmt.Sprintf("chart:%s:%d:%s", p, count, s.run.Now().Format("2006-01-02"))
	err := s.cached(ctx, key, &out, func() (any, error) {
		return s.computeChart(ctx, p, count)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) computeChart(ctx context.Context, p Period, count int) (*Chart, error) {
	db := s.run.DB(ctx)
	start, end := Window(p, count, s.run.Now())

	points := make([]ChartPoint, 0, count)
	index := make(map[time.Time]int, count)
	for b := start; b.Before(end); b = nextBucket(p, b) {
		index[b] = len(points)
		points = append(points, ChartPoint{Label: b.Format("2006-01-02"), Olives: decimal.Zero, Oil: decimal.Zero, Collected: decimal.Zero})
	}
	at := func(t time.Time) *ChartPoint {
		i, ok := index[bucketStart(p, t.In(start.Location()))]
		if !ok {
			return nil
		}
		return &points[i]
	}

	var sessions []models.ProcessingSession
	if err := db.Select("id, total_box_weight, oil_weight, processing_date").
		Where("processing_date >= ? AND processing_date < ?", start, end).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		pt := at(*sess.ProcessingDate)
		if pt == nil {
			continue
		}
		pt.Olives = pt.Olives.Add(sess.TotalBoxWeight)
		if sess.OilWeight != nil {
			pt.Oil = pt.Oil.Add(*sess.OilWeight)
		}
	}

	var payments []models.PaymentTransaction
	if err := db.Select("id, amount, payment_date").
		Where("payment_date >= ? AND payment_date < ?", start, end).
		Find(&payments).Error; err != nil {
		return nil, err
	}
	for _, pay := range payments {
		if pt := at(pay.PaymentDate); pt != nil {
			pt.Collected = pt.Collected.Add(pay.Amount)
		}
	}

	totals := ChartPoint{Label: "total", Olives: decimal.Zero, Oil: decimal.Zero, Collected: decimal.Zero}
	for _, pt := range points {
		totals.Olives = totals.Olives.Add(pt.Olives)
		totals.Oil = totals.Oil.Add(pt.Oil)
		totals.Collected = totals.Collected.Add(pt.Collected)
	}

	return &Chart{
		Period: p,
		From:   start.Format("2006-01-02"),
		To:     end.AddDate(0, 0, -1).Format("2006-01-02"),
		Points: points,
		Totals: totals,
	}, nil
}
