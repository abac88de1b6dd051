package sessions

import (
	"olive-backend/internal/apperr"
	"olive-backend/internal/models"

	"github.com/shopspring/decimal"
)

// State is the product of the two orthogonal session statuses.
type State struct {
	Processing models.ProcessingStatus
	Payment    models.PaymentStatus
}

func StateOf(s *models.ProcessingSession) State {
	return State{Processing: s.ProcessingStatus, Payment: s.PaymentStatus}
}

func (st State) String() string {
	return string(st.Processing) + "/" + string(st.Payment)
}

type Action string

const (
	ActionComplete   Action = "complete"
	ActionMarkPaid   Action = "mark_paid"
	ActionMarkUnpaid Action = "mark_unpaid"
	ActionSettle     Action = "settle"
	ActionUnpay      Action = "unpay"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionMerge      Action = "merge"
	ActionReset      Action = "reset"
	ActionStock      Action = "stock"
)

type guard func(s *models.ProcessingSession) error

// transitions lists, per action, the guards a session must pass. Guards that
// need the store (payment rows, stock links) are checked by the service.
var transitions = map[Action][]guard{
	ActionComplete:   {notPaid},
	ActionMarkPaid:   {notPaid, settleable},
	ActionMarkUnpaid: {noPartialPayment},
	ActionSettle:     {notPaid, settleable},
	ActionUnpay:      {hasPaymentStatus},
	ActionUpdate:     {notPaid},
	ActionDelete:     {notPaid},
	ActionMerge:      {notPaid},
	ActionReset:      {notPaid},
	ActionStock:      {processedWithOil},
}

// Check runs the guards of action against s.
func Check(action Action, s *models.ProcessingSession) error {
	guards, ok := transitions[action]
	if !ok {
		return apperr.Invariant(nil, "no transition rule for action %q", action)
	}
	for _, g := range guards {
		if err := g(s); err != nil {
			return err
		}
	}
	return nil
}

func notPaid(s *models.ProcessingSession) error {
	if s.PaymentStatus == models.PaymentPaid {
		return apperr.Conflict(apperr.CodeSessionPaid, "session %s is paid, unpay it first", s.SessionNumber)
	}
	return nil
}

// settleable accepts processed sessions and pending ones that already carry an
// oil weight; existing settlement flows rely on the latter.
func settleable(s *models.ProcessingSession) error {
	if s.ProcessingStatus == models.ProcessingProcessed {
		return nil
	}
	if s.OilWeight != nil && s.OilWeight.IsPositive() {
		return nil
	}
	return apperr.Conflict(apperr.CodeInvalidState, "session %s is %s, process it before recording payment", s.SessionNumber, StateOf(s))
}

func noPartialPayment(s *models.ProcessingSession) error {
	if s.PaymentStatus == models.PaymentPartial {
		return apperr.Conflict(apperr.CodeInvalidState, "session %s has a partial payment, unpay it instead", s.SessionNumber)
	}
	return nil
}

func hasPaymentStatus(s *models.ProcessingSession) error {
	if s.PaymentStatus == models.PaymentUnpaid {
		return apperr.Conflict(apperr.CodeInvalidState, "session %s is not paid", s.SessionNumber)
	}
	return nil
}

func processedWithOil(s *models.ProcessingSession) error {
	if s.ProcessingStatus != models.ProcessingProcessed || s.OilWeight == nil || !s.OilWeight.IsPositive() {
		return apperr.Conflict(apperr.CodeInvalidState, "session %s has no processed oil weight", s.SessionNumber)
	}
	return nil
}

// paymentStatusFor derives the payment status of a priced session.
func paymentStatusFor(total, paid decimal.Decimal) models.PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return models.PaymentPaid
	case paid.IsPositive():
		return models.PaymentPartial
	}
	return models.PaymentUnpaid
}
