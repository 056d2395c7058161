package models

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []TransactionStatus{
	TransactionStatusCreated,
	TransactionStatusPending,
	TransactionStatusSucceeded,
	TransactionStatusFailed,
	TransactionStatusExpired,
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TransactionStatusCreated, TransactionStatusPending, true},
		{TransactionStatusCreated, TransactionStatusFailed, true},
		{TransactionStatusCreated, TransactionStatusSucceeded, false},
		{TransactionStatusCreated, TransactionStatusExpired, false},
		{TransactionStatusPending, TransactionStatusSucceeded, true},
		{TransactionStatusPending, TransactionStatusFailed, true},
		{TransactionStatusPending, TransactionStatusExpired, true},
		{TransactionStatusPending, TransactionStatusCreated, false},
		{TransactionStatusSucceeded, TransactionStatusFailed, false},
		{TransactionStatusFailed, TransactionStatusPending, false},
		{TransactionStatusExpired, TransactionStatusSucceeded, false},
		{TransactionStatusPending, TransactionStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, from := range allStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range allStatuses {
			assert.False(t, from.CanTransitionTo(to), "%s must not reach %s", from, to)
		}
	}
}

// Applying random transition requests, only allowed ones taking effect, never
// visits more than one terminal state and never moves backwards.
func TestRandomTransitionSequencesAreForwardOnly(t *testing.T) {
	rank := map[TransactionStatus]int{
		TransactionStatusCreated:   0,
		TransactionStatusPending:   1,
		TransactionStatusSucceeded: 2,
		TransactionStatusFailed:    2,
		TransactionStatusExpired:   2,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for run := 0; run < 500; run++ {
		current := TransactionStatusCreated
		terminalsVisited := 0
		for step := 0; step < 20; step++ {
			next := allStatuses[rng.Intn(len(allStatuses))]
			if !current.CanTransitionTo(next) {
				continue
			}
			assert.Greater(t, rank[next], rank[current])
			current = next
			if current.IsTerminal() {
				terminalsVisited++
			}
		}
		assert.LessOrEqual(t, terminalsVisited, 1)
	}
}

func TestProductKindIsValid(t *testing.T) {
	assert.True(t, ProductPremiumBoost.IsValid())
	assert.True(t, ProductSubscriptionGold.IsValid())
	assert.False(t, ProductKind("lifetime").IsValid())
}

func TestServerMetaKey(t *testing.T) {
	for _, k := range []string{MetaRedirectURL, MetaSessionToken, MetaUserEmail} {
		assert.True(t, ServerMetaKey(k), k)
	}
	for _, k := range []string{MetaPostID, MetaSessionID, MetaReturnURL, "note"} {
		assert.False(t, ServerMetaKey(k), k)
	}
}

func TestScheduledTaskNextDue(t *testing.T) {
	rule := "FREQ=MINUTELY;INTERVAL=5"
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	task := ScheduledTask{TaskType: ScheduledTaskTypeRecurring, RecurringInterval: &rule, Due: start}

	next := task.NextDue(start.Add(7 * time.Minute))
	assert.True(t, start.Add(10*time.Minute).Equal(next), "got %s", next)

	oneTime := ScheduledTask{TaskType: ScheduledTaskTypeOneTime, Due: start}
	assert.True(t, oneTime.NextDue(start).IsZero())
}
