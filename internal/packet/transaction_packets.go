package packet

import (
	"encoding/json"
	"fmt"

	"github.com/nfowler/go-realm/internal/realm"
)

const (
	TypeStartTransaction         = "start-transaction"
	TypeReceiveTransaction       = "receive-transaction"
	TypeConfirmServerTransaction = "confirm-server-transaction"
	TypeConfirmTransaction       = "confirm-transaction"
)

func init() {
	register(TypeStartTransaction, decodeStartTransaction)
	register(TypeReceiveTransaction, decodeReceiveTransaction)
	register(TypeConfirmServerTransaction, decodeConfirmServerTransaction)
	register(TypeConfirmTransaction, decodeConfirmTransaction)
}

// StartTransactionPacket is received by the server. The sender has already
// appended the transaction to its own replica optimistically.
type StartTransactionPacket struct {
	Transaction *realm.Transaction
}

func (p *StartTransactionPacket) Type() string { return TypeStartTransaction }

func (p *StartTransactionPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	t := p.Transaction

	if t.Sender != u {
		return fmt.Errorf("start-transaction sender %d does not match acting user %d", t.Sender.ID, u.ID)
	}

	// Whatever state the client claims, a new transaction starts waiting.
	t.State = realm.TransactionWaiting

	if !rs.CanStartTransaction(u) {
		// Rate limited: stamp it intercepted and reply to the sender
		// only. The receiver never learns the transaction existed.
		t.Resolve(realm.TransactionIntercepted, rs.Now())
		rs.NotifyPacket(u, &ConfirmTransactionPacket{
			Transaction: t,
			Response:    realm.TransactionIntercepted,
			ToSender:    true,
		})
		return nil
	}

	if !rs.AcceptsPayload(t.Receiver, t.Kind) {
		// Receiver opted out of this payload kind: resolved declined
		// without ever disturbing the receiver.
		t.Resolve(realm.TransactionDeclined, rs.Now())
		rs.NotifyPacket(u, &ConfirmTransactionPacket{
			Transaction: t,
			Response:    realm.TransactionDeclined,
			ToSender:    true,
		})
		return nil
	}

	rs.RegisterTransaction(t)

	rs.NotifyPacket(t.Sender, &ReceiveTransactionPacket{Transaction: t})
	if t.Receiver != t.Sender {
		rs.NotifyPacket(t.Receiver, &ReceiveTransactionPacket{Transaction: t})
	}

	return nil
}

type startTransactionWire struct {
	Transaction transactionWire `json:"transaction"`
}

func (p *StartTransactionPacket) encode(ctx *Context) (any, error) {
	return startTransactionWire{Transaction: encodeTransaction(p.Transaction)}, nil
}

func decodeStartTransaction(ctx *Context, data json.RawMessage) (Packet, error) {
	var w startTransactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	t, err := w.Transaction.toTransaction(ctx.Realm)
	if err != nil {
		return nil, err
	}

	return &StartTransactionPacket{Transaction: t}, nil
}

// ReceiveTransactionPacket is received by clients. Appending is idempotent
// on (transaction id, sender id): when sender and receiver are the same
// user the transaction is already in the replica.
type ReceiveTransactionPacket struct {
	Transaction *realm.Transaction
}

func (p *ReceiveTransactionPacket) Type() string { return TypeReceiveTransaction }

func (p *ReceiveTransactionPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	t := p.Transaction

	existing, ok := rs.TryFindTransaction(t.ID, t.Sender.ID)
	if !ok {
		rs.AddTransaction(t)
		existing = t
	}

	if u == existing.Receiver && rs.Hooks != nil {
		rs.Hooks.TransactionProposed(existing)
	}

	return nil
}

type receiveTransactionWire struct {
	Transaction transactionWire `json:"transaction"`
}

func (p *ReceiveTransactionPacket) encode(ctx *Context) (any, error) {
	return receiveTransactionWire{Transaction: encodeTransaction(p.Transaction)}, nil
}

func decodeReceiveTransaction(ctx *Context, data json.RawMessage) (Packet, error) {
	var w receiveTransactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	t, err := w.Transaction.toTransaction(ctx.Realm)
	if err != nil {
		return nil, err
	}

	return &ReceiveTransactionPacket{Transaction: t}, nil
}

// ConfirmServerTransactionPacket is received by the server from the
// transaction's receiver. The reference must resolve against the
// authoritative ledger; a confirmation for an unknown transaction means a
// stale replica or tampering and fails loudly at decode time.
type ConfirmServerTransactionPacket struct {
	Transaction *realm.Transaction
	Response    realm.TransactionState
}

func (p *ConfirmServerTransactionPacket) Type() string { return TypeConfirmServerTransaction }

func (p *ConfirmServerTransactionPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	t := p.Transaction

	// Confirmations from anyone but the registered receiver, and
	// duplicate or late confirmations, are silently dropped.
	if t.Receiver != u {
		return nil
	}
	if t.State != realm.TransactionWaiting {
		return nil
	}

	t.Resolve(p.Response, rs.Now())

	rs.NotifyPacket(t.Sender, &ConfirmTransactionPacket{Transaction: t, Response: p.Response, ToSender: true})
	rs.NotifyPacket(t.Receiver, &ConfirmTransactionPacket{Transaction: t, Response: p.Response, ToSender: false})

	return nil
}

type confirmServerTransactionWire struct {
	TransactionID int    `json:"transactionId"`
	SenderID      int    `json:"senderId"`
	Response      string `json:"response"`
}

func (p *ConfirmServerTransactionPacket) encode(ctx *Context) (any, error) {
	return confirmServerTransactionWire{
		TransactionID: p.Transaction.ID,
		SenderID:      p.Transaction.Sender.GetID(),
		Response:      p.Response.String(),
	}, nil
}

func decodeConfirmServerTransaction(ctx *Context, data json.RawMessage) (Packet, error) {
	var w confirmServerTransactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	t, err := ctx.Realm.FindTransaction(w.TransactionID, w.SenderID)
	if err != nil {
		return nil, err
	}
	response, err := realm.ParseTransactionState(w.Response)
	if err != nil {
		return nil, err
	}

	return &ConfirmServerTransactionPacket{Transaction: t, Response: response}, nil
}

// ConfirmTransactionPacket is received by clients. ToSender exists so
// that, when sender and receiver are the same user, the single connection
// runs exactly one side's end handler per packet, never both.
type ConfirmTransactionPacket struct {
	Transaction *realm.Transaction
	Response    realm.TransactionState
	ToSender    bool
}

func (p *ConfirmTransactionPacket) Type() string { return TypeConfirmTransaction }

func (p *ConfirmTransactionPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	t := p.Transaction
	t.Resolve(p.Response, rs.Now())

	if rs.Hooks == nil {
		return nil
	}

	if p.ToSender && u == t.Sender {
		rs.Hooks.TransactionEndedSender(t)
	} else if !p.ToSender && u == t.Receiver {
		rs.Hooks.TransactionEndedReceiver(t)
	}

	return nil
}

type confirmTransactionWire struct {
	TransactionID int    `json:"transactionId"`
	SenderID      int    `json:"senderId"`
	Response      string `json:"response"`
	ToSender      bool   `json:"toSender"`
}

func (p *ConfirmTransactionPacket) encode(ctx *Context) (any, error) {
	return confirmTransactionWire{
		TransactionID: p.Transaction.ID,
		SenderID:      p.Transaction.Sender.GetID(),
		Response:      p.Response.String(),
		ToSender:      p.ToSender,
	}, nil
}

func decodeConfirmTransaction(ctx *Context, data json.RawMessage) (Packet, error) {
	var w confirmTransactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	t, err := ctx.Realm.FindTransaction(w.TransactionID, w.SenderID)
	if err != nil {
		return nil, err
	}
	response, err := realm.ParseTransactionState(w.Response)
	if err != nil {
		return nil, err
	}

	return &ConfirmTransactionPacket{Transaction: t, Response: response, ToSender: w.ToSender}, nil
}
