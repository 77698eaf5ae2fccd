package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/types"
)

var silver = types.ThingPayload{ThingDefName: "Silver", StackCount: 1}

func TestCreateOfferApply(t *testing.T) {
	t.Run("creates an open offer", func(t *testing.T) {
		rs, notifier, alice, _ := newTestRealm(t)

		p := &CreateOfferPacket{Thing: silver, Price: 10, Quantity: 5}
		require.NoError(t, p.Apply(alice, rs), "expected apply to succeed")

		require.Len(t, rs.Offers, 1, "expected offer in the ledger")
		assert.Equal(t, realm.OfferOpen, rs.Offers[0].State, "expected the offer open")
		assert.Same(t, alice, rs.Offers[0].Sender, "expected the acting user as seller")
		assert.Empty(t, notifier.Sent, "expected no broadcast on creation")
	})

	t.Run("rejects non-positive price or quantity", func(t *testing.T) {
		rs, notifier, alice, _ := newTestRealm(t)

		require.NoError(t, (&CreateOfferPacket{Thing: silver, Price: 0, Quantity: 5}).Apply(alice, rs),
			"expected bad price to be handled, not fatal")
		require.NoError(t, (&CreateOfferPacket{Thing: silver, Price: 5, Quantity: -1}).Apply(alice, rs),
			"expected bad quantity to be handled, not fatal")

		assert.Empty(t, rs.Offers, "expected nothing created")
		require.Len(t, notifier.Sent, 2, "expected an error reply per attempt")
		for _, s := range notifier.Sent {
			assert.Same(t, alice, s.To, "expected replies targeted at the requester")
			assert.IsType(t, &ErrorPacket{}, s.Packet, "expected error replies")
		}
	})
}

func TestRequestOffersApply(t *testing.T) {
	rs, notifier, alice, bob := newTestRealm(t)

	open := rs.ServerCreateOffer(bob, silver, 1, 1)
	hidden := rs.ServerCreateOffer(bob, silver, 1, 1)
	hidden.State = realm.OfferSoldToBeClaimed

	require.NoError(t, (&RequestOffersPacket{}).Apply(alice, rs), "expected apply to succeed")

	require.Len(t, notifier.Sent, 1, "expected one reply")
	assert.Same(t, alice, notifier.Sent[0].To, "expected the reply targeted at the requester")
	offers, ok := notifier.Sent[0].Packet.(*OffersPacket)
	require.True(t, ok, "expected an offers reply, got %T", notifier.Sent[0].Packet)
	assert.Equal(t, []*realm.Offer{open}, offers.Offers, "expected only offers visible to the requester")
}

func TestBuyOfferApply(t *testing.T) {
	t.Run("marks sold and notifies both parties", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)

		require.NoError(t, (&BuyOfferPacket{Offer: offer}).Apply(alice, rs), "expected apply to succeed")

		assert.Equal(t, realm.OfferSoldToBeClaimed, offer.State, "expected the offer sold")
		assert.Same(t, alice, offer.Buyer, "expected the buyer recorded")

		buyerSide := notifier.to(alice)
		sellerSide := notifier.to(bob)
		require.Len(t, buyerSide, 1, "expected a confirm for the buyer")
		assert.IsType(t, &ConfirmBuyPacket{}, buyerSide[0], "expected confirm-buy for the buyer")
		require.Len(t, sellerSide, 1, "expected a notification for the seller")
		assert.IsType(t, &OfferSoldPacket{}, sellerSide[0], "expected offer-sold for the seller")
	})

	t.Run("skips seller notification while disconnected", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)
		bob.Connected = false

		require.NoError(t, (&BuyOfferPacket{Offer: offer}).Apply(alice, rs), "expected apply to succeed")

		assert.Equal(t, realm.OfferSoldToBeClaimed, offer.State, "expected the sale to go through")
		assert.Empty(t, notifier.to(bob), "expected no send attempt to the offline seller")
	})

	t.Run("rejects buying a non-open offer", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)
		offer.State = realm.OfferRemoved

		require.NoError(t, (&BuyOfferPacket{Offer: offer}).Apply(alice, rs),
			"expected stale buy to be handled, not fatal")

		assert.Equal(t, realm.OfferRemoved, offer.State, "expected the offer untouched")
		assert.Nil(t, offer.Buyer, "expected no buyer recorded")
		require.Len(t, notifier.Sent, 1, "expected one reply")
		assert.Same(t, alice, notifier.Sent[0].To, "expected the reply targeted at the would-be buyer")
		assert.IsType(t, &ErrorPacket{}, notifier.Sent[0].Packet, "expected an error reply")
	})
}

func TestConfirmBuyApply(t *testing.T) {
	rs, _, alice, bob := newTestRealm(t)
	hooks := &recordingHooks{}
	rs.Hooks = hooks

	offer := rs.ServerCreateOffer(bob, silver, 10, 2)

	require.NoError(t, (&ConfirmBuyPacket{Offer: offer}).Apply(alice, rs), "expected apply to succeed")

	assert.Equal(t, realm.OfferSoldToBeClaimed, offer.State, "expected the replica updated")
	assert.Equal(t, []*realm.Offer{offer}, hooks.Bought, "expected the purchase hook fired")
}

func TestOfferSoldApply(t *testing.T) {
	t.Run("with resolved offer", func(t *testing.T) {
		rs, _, _, bob := newTestRealm(t)
		hooks := &recordingHooks{}
		rs.Hooks = hooks

		offer := rs.ServerCreateOffer(bob, silver, 10, 2)
		require.NoError(t, (&OfferSoldPacket{Offer: offer}).Apply(bob, rs), "expected apply to succeed")

		assert.Equal(t, realm.OfferSoldToBeClaimed, offer.State, "expected the replica updated")
		assert.Equal(t, []*realm.Offer{offer}, hooks.Sold, "expected the sold hook fired")
	})

	t.Run("with dangling reference", func(t *testing.T) {
		rs, _, _, bob := newTestRealm(t)
		hooks := &recordingHooks{}
		rs.Hooks = hooks

		// The seller never downloaded the offer list; absence is valid.
		p, err := Unmarshal([]byte(`{"type":"offer-sold","payload":{"offer":99}}`), &Context{Realm: rs, User: bob})
		require.NoError(t, err, "expected a dangling offer reference to decode")

		sold := p.(*OfferSoldPacket)
		assert.Nil(t, sold.Offer, "expected a nil offer for an unknown id")

		require.NoError(t, sold.Apply(bob, rs), "expected apply to succeed")
		assert.Empty(t, hooks.Sold, "expected no offer hook without a resolved offer")
		assert.Len(t, hooks.Notices, 1, "expected a generic notice instead")
	})
}

func TestClaimOfferApply(t *testing.T) {
	t.Run("pays out the seller", func(t *testing.T) {
		rs, notifier, _, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)
		offer.State = realm.OfferSoldToBeClaimed

		require.NoError(t, (&ClaimOfferPacket{Offer: offer}).Apply(bob, rs), "expected apply to succeed")

		assert.Equal(t, realm.OfferClaimed, offer.State, "expected the offer claimed")
		require.Len(t, notifier.to(bob), 1, "expected a payout notification")
		claimed := notifier.to(bob)[0].(*OfferClaimedPacket)
		assert.Equal(t, 20, claimed.Proceeds, "expected proceeds of price times quantity")
	})

	t.Run("rejects claims by non-sellers", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)
		offer.State = realm.OfferSoldToBeClaimed

		require.NoError(t, (&ClaimOfferPacket{Offer: offer}).Apply(alice, rs),
			"expected foreign claim to be handled, not fatal")

		assert.Equal(t, realm.OfferSoldToBeClaimed, offer.State, "expected the offer untouched")
		assert.IsType(t, &ErrorPacket{}, notifier.to(alice)[0], "expected an error reply")
	})

	t.Run("rejects claims on unsold offers", func(t *testing.T) {
		rs, notifier, _, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)

		require.NoError(t, (&ClaimOfferPacket{Offer: offer}).Apply(bob, rs),
			"expected premature claim to be handled, not fatal")

		assert.Equal(t, realm.OfferOpen, offer.State, "expected the offer untouched")
		assert.IsType(t, &ErrorPacket{}, notifier.to(bob)[0], "expected an error reply")
	})
}

func TestOfferClaimedApply(t *testing.T) {
	rs, _, _, bob := newTestRealm(t)
	hooks := &recordingHooks{}
	rs.Hooks = hooks

	offer := rs.ServerCreateOffer(bob, silver, 10, 2)
	offer.State = realm.OfferSoldToBeClaimed

	require.NoError(t, (&OfferClaimedPacket{Offer: offer, Proceeds: 20}).Apply(bob, rs), "expected apply to succeed")

	assert.Equal(t, realm.OfferClaimed, offer.State, "expected the replica updated")
	assert.Equal(t, []int{20}, hooks.ClaimProceeds, "expected the proceeds handed to the game")
}

func TestRemoveOfferApply(t *testing.T) {
	t.Run("withdraws an open offer", func(t *testing.T) {
		rs, notifier, _, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)

		require.NoError(t, (&RemoveOfferPacket{Offer: offer}).Apply(bob, rs), "expected apply to succeed")

		assert.Equal(t, realm.OfferRemoved, offer.State, "expected the offer withdrawn")
		assert.Empty(t, notifier.Sent, "expected silent success")
	})

	t.Run("rejects removal by non-sellers", func(t *testing.T) {
		rs, notifier, alice, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)

		require.NoError(t, (&RemoveOfferPacket{Offer: offer}).Apply(alice, rs),
			"expected foreign removal to be handled, not fatal")

		assert.Equal(t, realm.OfferOpen, offer.State, "expected the offer untouched")
		assert.IsType(t, &ErrorPacket{}, notifier.to(alice)[0], "expected an error reply")
	})

	t.Run("rejects removal of sold offers", func(t *testing.T) {
		rs, notifier, _, bob := newTestRealm(t)
		offer := rs.ServerCreateOffer(bob, silver, 10, 2)
		offer.State = realm.OfferSoldToBeClaimed

		require.NoError(t, (&RemoveOfferPacket{Offer: offer}).Apply(bob, rs),
			"expected sold removal to be handled, not fatal")

		assert.Equal(t, realm.OfferSoldToBeClaimed, offer.State, "expected the offer untouched")
		assert.IsType(t, &ErrorPacket{}, notifier.to(bob)[0], "expected an error reply")
	})
}

func TestOffersWireRoundTrip(t *testing.T) {
	rs, _, alice, bob := newTestRealm(t)

	offer := rs.ServerCreateOffer(bob, silver, 10, 2)
	offer.Buyer = alice

	data, err := Marshal(&OffersPacket{Offers: []*realm.Offer{offer}}, &Context{Realm: rs, User: alice})
	require.NoError(t, err, "expected marshal to succeed")

	assert.NotContains(t, string(data), `"buyer"`, "expected the buyer to stay server-side")

	p, err := Unmarshal(data, &Context{Realm: rs, User: alice})
	require.NoError(t, err, "expected unmarshal to succeed")

	decoded := p.(*OffersPacket).Offers
	require.Len(t, decoded, 1, "expected one offer")
	assert.Same(t, bob, decoded[0].Sender, "expected seller resolved by id")
	assert.Nil(t, decoded[0].Buyer, "expected no buyer on the client side")
	assert.Equal(t, realm.OfferOpen, decoded[0].State, "expected state to survive")
}
