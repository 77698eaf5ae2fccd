package packet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/types"
)

func newItemTransaction(id int, sender, receiver *realm.User) *realm.Transaction {
	return &realm.Transaction{
		ID:       id,
		Sender:   sender,
		Receiver: receiver,
		Kind:     realm.TransactionItems,
		Things:   []types.ThingStack{{Thing: types.ThingPayload{ThingDefName: "Steel", StackCount: 10}, Count: 1}},
	}
}

func TestStartTransactionApply(t *testing.T) {
	t.Run("registers and forwards to both parties", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)

		tr := newItemTransaction(1, alice, bob)
		p := &StartTransactionPacket{Transaction: tr}
		require.NoError(t, p.Apply(alice, rs), "expected apply to succeed")

		registered, ok := rs.TryFindTransaction(1, alice.ID)
		require.True(t, ok, "expected transaction registered in the ledger")
		assert.Equal(t, realm.TransactionWaiting, registered.State, "expected a fresh transaction to wait")
		assert.Equal(t, 1, alice.LastTransactionID, "expected sender counter stamped")

		require.Len(t, notifier.to(alice), 1, "expected the sender to get a copy")
		require.Len(t, notifier.to(bob), 1, "expected the receiver to get a copy")
		assert.IsType(t, &ReceiveTransactionPacket{}, notifier.to(bob)[0], "expected receive-transaction forwarded")
	})

	t.Run("self transaction forwarded once", func(t *testing.T) {
		rs, notifier, alice, _ := newTestRealm(t)

		tr := newItemTransaction(1, alice, alice)
		p := &StartTransactionPacket{Transaction: tr}
		require.NoError(t, p.Apply(alice, rs), "expected apply to succeed")

		assert.Len(t, notifier.to(alice), 1, "expected exactly one copy when sender and receiver coincide")
	})

	t.Run("ignores client-claimed state", func(t *testing.T) {
		rs, _, alice, bob := newTestRealm(t)

		tr := newItemTransaction(1, alice, bob)
		tr.State = realm.TransactionAccepted
		p := &StartTransactionPacket{Transaction: tr}
		require.NoError(t, p.Apply(alice, rs), "expected apply to succeed")

		assert.Equal(t, realm.TransactionWaiting, tr.State, "expected the server to force waiting")
	})

	t.Run("rejects tampered sender", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)

		tr := newItemTransaction(1, bob, alice)
		p := &StartTransactionPacket{Transaction: tr}
		assert.Error(t, p.Apply(alice, rs), "expected a transaction claiming another sender to fail")
		assert.Empty(t, notifier.Sent, "expected nothing forwarded")
	})

	t.Run("rate limited start intercepted", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)

		require.NoError(t, (&StartTransactionPacket{Transaction: newItemTransaction(1, alice, bob)}).Apply(alice, rs),
			"expected first start to succeed")
		notifier.Sent = nil

		second := newItemTransaction(2, alice, bob)
		require.NoError(t, (&StartTransactionPacket{Transaction: second}).Apply(alice, rs),
			"expected rate-limited start to be handled, not fatal")

		assert.Equal(t, realm.TransactionIntercepted, second.State, "expected the transaction intercepted")
		_, ok := rs.TryFindTransaction(2, alice.ID)
		assert.False(t, ok, "expected intercepted transaction kept out of the ledger")

		require.Len(t, notifier.Sent, 1, "expected a single reply")
		assert.Same(t, alice, notifier.Sent[0].To, "expected only the sender informed")
		confirm, isConfirm := notifier.Sent[0].Packet.(*ConfirmTransactionPacket)
		require.True(t, isConfirm, "expected confirm-transaction reply, got %T", notifier.Sent[0].Packet)
		assert.Equal(t, realm.TransactionIntercepted, confirm.Response, "expected intercepted response")
		assert.True(t, confirm.ToSender, "expected the reply addressed to the sender role")
		assert.Empty(t, notifier.to(bob), "expected the receiver never disturbed")
	})

	t.Run("declined when receiver opted out", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)
		bob.Preferences.ReceiveItems = false

		tr := newItemTransaction(1, alice, bob)
		require.NoError(t, (&StartTransactionPacket{Transaction: tr}).Apply(alice, rs),
			"expected opted-out start to be handled, not fatal")

		assert.Equal(t, realm.TransactionDeclined, tr.State, "expected the transaction declined")
		_, ok := rs.TryFindTransaction(1, alice.ID)
		assert.False(t, ok, "expected declined transaction kept out of the ledger")

		require.Len(t, notifier.Sent, 1, "expected a single reply")
		assert.Same(t, alice, notifier.Sent[0].To, "expected only the sender informed")
		confirm, isConfirm := notifier.Sent[0].Packet.(*ConfirmTransactionPacket)
		require.True(t, isConfirm, "expected confirm-transaction reply, got %T", notifier.Sent[0].Packet)
		assert.Equal(t, realm.TransactionDeclined, confirm.Response, "expected declined response")
		assert.Empty(t, notifier.to(bob), "expected the receiver never disturbed")
	})
}

func TestReceiveTransactionApply(t *testing.T) {
	t.Run("adds and proposes to the receiver", func(t *testing.T) {
		rs, _, alice, bob := newTestRealm(t)
		hooks := &recordingHooks{}
		rs.Hooks = hooks

		tr := newItemTransaction(1, alice, bob)
		require.NoError(t, (&ReceiveTransactionPacket{Transaction: tr}).Apply(bob, rs),
			"expected apply to succeed")

		_, ok := rs.TryFindTransaction(1, alice.ID)
		assert.True(t, ok, "expected transaction added to the replica")
		assert.Equal(t, []*realm.Transaction{tr}, hooks.Proposed, "expected the receiver's dialog hook fired")
	})

	t.Run("idempotent on the sender's replica", func(t *testing.T) {
		rs, _, alice, bob := newTestRealm(t)
		hooks := &recordingHooks{}
		rs.Hooks = hooks

		// The sender already appended optimistically before the server
		// echoed the packet back.
		existing := newItemTransaction(1, alice, bob)
		rs.AddTransaction(existing)

		echo := newItemTransaction(1, alice, bob)
		require.NoError(t, (&ReceiveTransactionPacket{Transaction: echo}).Apply(alice, rs),
			"expected apply to succeed")

		assert.Len(t, rs.Transactions, 1, "expected no duplicate entry")
		assert.Empty(t, hooks.Proposed, "expected no proposal dialog for the sender")
	})
}

func TestConfirmServerTransactionApply(t *testing.T) {
	setup := func(t *testing.T) (*realm.RealmState, *recordingNotifier, *realm.User, *realm.User, *realm.Transaction) {
		rs, notifier, alice, bob := newTestRealm(t)
		tr := newItemTransaction(1, alice, bob)
		rs.RegisterTransaction(tr)
		notifier.Sent = nil
		return rs, notifier, alice, bob, tr
	}

	t.Run("resolves and confirms both parties", func(t *testing.T) {
		rs, notifier, alice, bob, tr := setup(t)

		p := &ConfirmServerTransactionPacket{Transaction: tr, Response: realm.TransactionAccepted}
		require.NoError(t, p.Apply(bob, rs), "expected apply to succeed")

		assert.Equal(t, realm.TransactionAccepted, tr.State, "expected the transaction resolved")

		senderSide := notifier.to(alice)
		receiverSide := notifier.to(bob)
		require.Len(t, senderSide, 1, "expected a confirm for the sender")
		require.Len(t, receiverSide, 1, "expected a confirm for the receiver")

		sc := senderSide[0].(*ConfirmTransactionPacket)
		rc := receiverSide[0].(*ConfirmTransactionPacket)
		assert.True(t, sc.ToSender, "expected the sender's copy flagged to-sender")
		assert.False(t, rc.ToSender, "expected the receiver's copy not flagged to-sender")
	})

	t.Run("drops confirmation from the wrong user", func(t *testing.T) {
		rs, notifier, alice, _, tr := setup(t)

		p := &ConfirmServerTransactionPacket{Transaction: tr, Response: realm.TransactionAccepted}
		require.NoError(t, p.Apply(alice, rs), "expected apply to succeed")

		assert.Equal(t, realm.TransactionWaiting, tr.State, "expected the transaction untouched")
		assert.Empty(t, notifier.Sent, "expected no confirms for a non-receiver")
	})

	t.Run("drops duplicate confirmation", func(t *testing.T) {
		rs, notifier, _, bob, tr := setup(t)

		require.NoError(t, (&ConfirmServerTransactionPacket{Transaction: tr, Response: realm.TransactionAccepted}).Apply(bob, rs),
			"expected first confirm to succeed")
		notifier.Sent = nil

		require.NoError(t, (&ConfirmServerTransactionPacket{Transaction: tr, Response: realm.TransactionDeclined}).Apply(bob, rs),
			"expected duplicate confirm to be handled, not fatal")

		assert.Equal(t, realm.TransactionAccepted, tr.State, "expected the first outcome to stand")
		assert.Empty(t, notifier.Sent, "expected no further confirms")
	})

	t.Run("decode fails for unknown transaction", func(t *testing.T) {
		rs, _, alice, _ := newTestRealm(t)

		_, err := Unmarshal(
			[]byte(`{"type":"confirm-server-transaction","payload":{"transactionId":42,"senderId":1,"response":"accepted"}}`),
			&Context{Realm: rs, User: alice},
		)
		assert.Error(t, err, "expected a confirmation for an unknown transaction to fail decoding")
	})
}

func TestConfirmTransactionApply(t *testing.T) {
	t.Run("runs exactly one end hook per packet", func(t *testing.T) {
		rs, _, alice, bob := newTestRealm(t)
		hooks := &recordingHooks{}
		rs.Hooks = hooks

		tr := newItemTransaction(1, alice, bob)
		rs.AddTransaction(tr)

		senderCopy := &ConfirmTransactionPacket{Transaction: tr, Response: realm.TransactionAccepted, ToSender: true}
		require.NoError(t, senderCopy.Apply(alice, rs), "expected apply to succeed")

		assert.Equal(t, realm.TransactionAccepted, tr.State, "expected the replica resolved")
		assert.Len(t, hooks.EndedSender, 1, "expected the sender hook fired")
		assert.Empty(t, hooks.EndedReceiver, "expected the receiver hook untouched")
	})

	t.Run("self transaction runs each side once", func(t *testing.T) {
		rs, _, alice, _ := newTestRealm(t)
		hooks := &recordingHooks{}
		rs.Hooks = hooks

		tr := newItemTransaction(1, alice, alice)
		rs.AddTransaction(tr)

		// The server sends two confirms to the single connection; the
		// flag decides which side's handler runs for each.
		require.NoError(t, (&ConfirmTransactionPacket{Transaction: tr, Response: realm.TransactionAccepted, ToSender: true}).Apply(alice, rs),
			"expected sender-side confirm to succeed")
		require.NoError(t, (&ConfirmTransactionPacket{Transaction: tr, Response: realm.TransactionAccepted, ToSender: false}).Apply(alice, rs),
			"expected receiver-side confirm to succeed")

		assert.Len(t, hooks.EndedSender, 1, "expected exactly one sender-side completion")
		assert.Len(t, hooks.EndedReceiver, 1, "expected exactly one receiver-side completion")
	})

	t.Run("tolerates already resolved replica state", func(t *testing.T) {
		rs, _, alice, bob := newTestRealm(t)
		hooks := &recordingHooks{}
		rs.Hooks = hooks

		tr := newItemTransaction(1, alice, bob)
		tr.Resolve(realm.TransactionIntercepted, time.Now())
		rs.AddTransaction(tr)

		require.NoError(t, (&ConfirmTransactionPacket{Transaction: tr, Response: realm.TransactionIntercepted, ToSender: true}).Apply(alice, rs),
			"expected confirm on a resolved replica entry to succeed")

		assert.Len(t, hooks.EndedSender, 1, "expected the hook to still fire")
	})
}

func TestTransactionWireRoundTrip(t *testing.T) {
	rs, _, alice, bob := newTestRealm(t)
	ctx := &Context{Realm: rs, User: alice}

	tr := &realm.Transaction{
		ID:       3,
		Sender:   alice,
		Receiver: bob,
		Kind:     realm.TransactionColonist,
		Pawn:     &types.PawnPayload{Name: "Dill", Data: []byte{0x1, 0x2}},
	}

	data, err := Marshal(&ReceiveTransactionPacket{Transaction: tr}, ctx)
	require.NoError(t, err, "expected marshal to succeed")

	p, err := Unmarshal(data, ctx)
	require.NoError(t, err, "expected unmarshal to succeed")

	decoded := p.(*ReceiveTransactionPacket).Transaction
	assert.Same(t, alice, decoded.Sender, "expected sender resolved by id")
	assert.Same(t, bob, decoded.Receiver, "expected receiver resolved by id")
	assert.Equal(t, realm.TransactionColonist, decoded.Kind, "expected kind to survive")
	require.NotNil(t, decoded.Pawn, "expected pawn payload to survive")
	assert.Equal(t, "Dill", decoded.Pawn.Name, "expected pawn name to survive")
	assert.Equal(t, []byte{0x1, 0x2}, decoded.Pawn.Data, "expected opaque pawn data to survive")
}
