package workers

import (
	"context"
	"fmt"

	"github.com/cbodonnell/flywheel-exchange/pkg/clients"
	"github.com/cbodonnell/flywheel-exchange/pkg/exchange"
	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/cbodonnell/flywheel-exchange/pkg/messages"
)

// ReceiptWorker forwards committed receipts to feed subscribers of the
// receipt's account.
type ReceiptWorker struct {
	clientManager *clients.ClientManager
	receiptChan   <-chan *exchange.Receipt
}

type NewReceiptWorkerOptions struct {
	ClientManager *clients.ClientManager
	ReceiptChan   <-chan *exchange.Receipt
}

func NewReceiptWorker(opts NewReceiptWorkerOptions) *ReceiptWorker {
	return &ReceiptWorker{
		clientManager: opts.ClientManager,
		receiptChan:   opts.ReceiptChan,
	}
}

// Start blocks until ctx is done or the receipt channel is closed.
func (w *ReceiptWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-w.receiptChan:
			if !ok {
				return
			}
			if err := w.handleReceipt(receipt); err != nil {
				log.Error("Failed to handle receipt %s: %v", receipt.ID, err)
			}
		}
	}
}

func (w *ReceiptWorker) handleReceipt(receipt *exchange.Receipt) error {
	msg, err := messages.NewReceiptMessage(receipt)
	if err != nil {
		return err
	}

	frame, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize receipt message: %v", err)
	}

	sent := w.clientManager.SendToAccount(receipt.AccountID, frame)
	log.Trace("Sent receipt %s to %d subscribers of account %s", receipt.ID, sent, receipt.AccountID)
	return nil
}
