package realm

import (
	"fmt"
	"time"

	"github.com/nfowler/go-realm/internal/types"
)

type TransactionState int

const (
	TransactionWaiting TransactionState = iota
	TransactionAccepted
	TransactionDeclined
	TransactionInterrupted
	TransactionIntercepted
)

var transactionStateNames = map[TransactionState]string{
	TransactionWaiting:     "waiting",
	TransactionAccepted:    "accepted",
	TransactionDeclined:    "declined",
	TransactionInterrupted: "interrupted",
	TransactionIntercepted: "intercepted",
}

func (s TransactionState) String() string {
	if name, ok := transactionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further transition is allowed from s.
func (s TransactionState) Terminal() bool {
	return s != TransactionWaiting
}

func ParseTransactionState(name string) (TransactionState, error) {
	for s, n := range transactionStateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction state %q", name)
}

type TransactionKind int

const (
	TransactionItems TransactionKind = iota
	TransactionColonist
	TransactionAnimal
)

var transactionKindNames = map[TransactionKind]string{
	TransactionItems:    "items",
	TransactionColonist: "colonist",
	TransactionAnimal:   "animal",
}

func (k TransactionKind) String() string {
	if name, ok := transactionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

func ParseTransactionKind(name string) (TransactionKind, error) {
	for k, n := range transactionKindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction kind %q", name)
}

// Transaction is a two-party negotiated transfer. Ids are assigned
// client-side by the sender's own counter, so the ledger key is the
// compound (ID, Sender.ID) pair.
type Transaction struct {
	ID       int
	Sender   *User
	Receiver *User
	Kind     TransactionKind

	Things []types.ThingStack
	Pawn   *types.PawnPayload
	Animal *types.AnimalPayload

	State      TransactionState
	ResolvedAt time.Time
}

func (t *Transaction) GetID() int {
	return t.ID
}

func (t *Transaction) Finished() bool {
	return t.State.Terminal()
}

// Resolve moves t into a terminal state. Once terminal, further calls are
// no-ops and report false.
func (t *Transaction) Resolve(state TransactionState, now time.Time) bool {
	if t.State.Terminal() {
		return false
	}

	t.State = state
	t.ResolvedAt = now
	return true
}

func (rs *RealmState) AddTransaction(t *Transaction) {
	rs.Transactions = append(rs.Transactions, t)
}

// RegisterTransaction appends t to the authoritative ledger and stamps the
// sender's disambiguation counter and rate-limit clock.
func (rs *RealmState) RegisterTransaction(t *Transaction) {
	rs.AddTransaction(t)
	t.Sender.LastTransactionID = t.ID
	t.Sender.LastTransactionTime = rs.Now()
}

func (rs *RealmState) FindTransaction(id, senderID int) (*Transaction, error) {
	if t, ok := rs.TryFindTransaction(id, senderID); ok {
		return t, nil
	}
	return nil, &NotFoundError{Kind: fmt.Sprintf("transaction from sender %d", senderID), ID: id}
}

func (rs *RealmState) TryFindTransaction(id, senderID int) (*Transaction, bool) {
	for _, t := range rs.Transactions {
		if t.ID == id && t.Sender.ID == senderID {
			return t, true
		}
	}
	return nil, false
}

// CanStartTransaction enforces the anti-spam cooldown window.
func (rs *RealmState) CanStartTransaction(u *User) bool {
	cooldown := rs.Cooldown
	if cooldown <= 0 {
		return true
	}
	return rs.Now().Sub(u.LastTransactionTime) >= cooldown
}

// AcceptsPayload checks the receiver's preferences for the given payload
// kind.
func (rs *RealmState) AcceptsPayload(u *User, kind TransactionKind) bool {
	switch kind {
	case TransactionItems:
		return u.Preferences.ReceiveItems
	case TransactionColonist:
		return u.Preferences.ReceiveColonists
	case TransactionAnimal:
		return u.Preferences.ReceiveAnimals
	}
	return false
}

// PruneTransactions drops resolved transactions older than keep from the
// ledger and returns how many were removed. WAITING transactions are never
// pruned; they stay visible until resolved or interrupted by an operator.
func (rs *RealmState) PruneTransactions(keep time.Duration) int {
	cutoff := rs.Now().Add(-keep)

	kept := rs.Transactions[:0]
	pruned := 0
	for _, t := range rs.Transactions {
		if t.Finished() && t.ResolvedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, t)
	}
	rs.Transactions = kept

	return pruned
}
