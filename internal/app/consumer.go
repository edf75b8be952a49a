/**
 * @description
 * This file implements the settlement consumer. International transfers leave
 * the ledger in a pending state; an external settlement network reports the
 * outcome on the event bus, and this consumer applies the terminal
 * pending -> completed/failed transition.
 *
 * Acking strategy: malformed payloads and messages for unknown or already
 * settled transactions are acked so they never poison the queue. Only storage
 * failures requeue the message for another attempt.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/vaultbank/ledger-service/internal/domain"
	"github.com/vaultbank/ledger-service/internal/store"
)

// Settlement event routing keys consumed from the event exchange.
const (
	RoutingKeySettlementCompleted = "settlement.international.completed"
	RoutingKeySettlementFailed    = "settlement.international.failed"
)

// settlementEvent is the payload published by the settlement network.
type settlementEvent struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// SettlementConsumer applies settlement outcomes to pending international
// debits.
type SettlementConsumer struct {
	repo store.Repository
}

// NewSettlementConsumer creates a consumer bound to the given repository.
func NewSettlementConsumer(repo store.Repository) *SettlementConsumer {
	return &SettlementConsumer{repo: repo}
}

// normalizeStatus maps the settlement network's vocabulary onto the ledger's
// two terminal statuses. Unknown values return "".
func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "settled", "success", "successful":
		return domain.TxStatusCompleted
	case "failed", "rejected", "returned":
		return domain.TxStatusFailed
	default:
		return ""
	}
}

// HandleMessage processes one settlement event. It returns true when the
// message should be acked and false when it should be requeued.
func (c *SettlementConsumer) HandleMessage(body []byte) bool {
	var event settlementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"discarding malformed settlement event\" err=%v", err)
		return true
	}

	transactionID, err := uuid.Parse(event.TransactionID)
	if err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"discarding event with invalid transaction id\" transaction_id=%q", event.TransactionID)
		return true
	}

	status := normalizeStatus(event.Status)
	if status == "" {
		log.Printf("level=error component=settlement_consumer msg=\"discarding event with unknown status\" transaction_id=%s status=%q", transactionID, event.Status)
		return true
	}

	tx, err := c.repo.SettleInternational(context.Background(), transactionID, status)
	switch {
	case err == nil:
		log.Printf("level=info component=settlement_consumer msg=\"settled international transfer\" transaction_id=%s status=%s", tx.ID, tx.Status)
		return true
	case errors.Is(err, store.ErrTransactionNotFound):
		log.Printf("level=warn component=settlement_consumer msg=\"settlement event for unknown transaction\" transaction_id=%s", transactionID)
		return true
	case errors.Is(err, store.ErrTransactionNotPending):
		// Already terminal; the event is a duplicate.
		return true
	default:
		log.Printf("level=error component=settlement_consumer msg=\"failed to apply settlement; requeueing\" transaction_id=%s err=%v", transactionID, err)
		return false
	}
}
