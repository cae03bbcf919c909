package jobs

import "policypulse/internal/types"

// NextReminderState computes the reminder state following a failed delivery
// attempt. It is a pure function of the attempt count and the failure
// classification, so the retry ladder can be tested without a database.
//
// retryCount is the number of failed attempts BEFORE this one. The returned
// count includes this attempt. A reminder stays pending while attempts
// remain under maxRetries and the failure was retryable; otherwise it is
// permanently failed.
func NextReminderState(retryCount int, retryable bool, maxRetries int) (types.ReminderStatus, int) {
	next := retryCount + 1
	if !retryable || next >= maxRetries {
		return types.ReminderStatusFailed, next
	}
	return types.ReminderStatusPending, next
}
