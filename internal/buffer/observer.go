package buffer

import (
	"time"

	"github.com/jittakal/kafsource/pkg/buffer"
)

// Rejection reasons reported to buffer.Observer.
const (
	RejectCapacityTimeout = "capacity_timeout"
	RejectBatchTooLarge   = "batch_too_large"
	RejectRateLimit       = "rate_limit"
	RejectCanceled        = "canceled"
)

var _ buffer.Observer = nopObserver{}

type nopObserver struct{}

func (nopObserver) ObserveAdmitted(int, time.Duration) {}
func (nopObserver) ObserveRejected(int, string)        {}
func (nopObserver) ObserveDrained(int)                 {}
func (nopObserver) ObserveEmptyPoll()                  {}
func (nopObserver) SetBuffered(int)                    {}
