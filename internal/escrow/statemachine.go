package escrow

import "github.com/davigut/pactum/internal/payment"

// accepts maps each event kind to the payment statuses it applies to.
// An event arriving in any other status is a harmless race between
// concurrent schedulers: it is logged as ignored, never an error.
//
// deposit_confirmed accepts funded as well as pending so an
// interrupted custody setup resumes on the next tick instead of
// stalling.
var accepts = map[payment.EventKind][]payment.Status{
	payment.EventDepositConfirmed: {payment.StatusPending, payment.StatusFunded},
	payment.EventCustodyExpired:   {payment.StatusCustodyActive},
	payment.EventDualApproval:     {payment.StatusCustodyActive},
	payment.EventDisputeOpened:    {payment.StatusFunded, payment.StatusCustodyActive, payment.StatusReleasePending},
	payment.EventDisputeResolved:  {payment.StatusDisputed},
	payment.EventReleaseExecuted:  {payment.StatusReleasePending},
	payment.EventPayoutConfirmed:  {payment.StatusPayoutPending},
}

// eventApplies reports whether the event is valid for the status.
func eventApplies(kind payment.EventKind, status payment.Status) bool {
	for _, s := range accepts[kind] {
		if s == status {
			return true
		}
	}
	return false
}
