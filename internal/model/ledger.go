package model

// Ledger maps a processor-assigned transaction id to the id of the payer.
// Keys are unique; a payer may own any number of transactions.
type Ledger map[string]int64

func NewLedger() Ledger {
	return make(Ledger)
}

// Lookup returns the payer of transactionID.
func (l Ledger) Lookup(transactionID string) (int64, bool) {
	payerID, ok := l[transactionID]
	return payerID, ok
}

// Put inserts or overwrites the entry and reports the payer it replaced, if any.
func (l Ledger) Put(transactionID string, payerID int64) (previous int64, existed bool) {
	previous, existed = l[transactionID]
	l[transactionID] = payerID
	return previous, existed
}
