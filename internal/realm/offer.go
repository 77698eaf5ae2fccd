package realm

import (
	"fmt"

	"github.com/nfowler/go-realm/internal/types"
)

type OfferState int

const (
	OfferOpen OfferState = iota
	OfferRemoved
	OfferSoldToBeClaimed
	OfferClaimed
)

var offerStateNames = map[OfferState]string{
	OfferOpen:            "open",
	OfferRemoved:         "removed",
	OfferSoldToBeClaimed: "sold-to-be-claimed",
	OfferClaimed:         "claimed",
}

func (s OfferState) String() string {
	if name, ok := offerStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

func ParseOfferState(name string) (OfferState, error) {
	for s, n := range offerStateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown offer state %q", name)
}

// Offer is a unilaterally posted sale entry. Offers are never deleted,
// only state-transitioned, so stale client references stay resolvable.
type Offer struct {
	ID       int
	Sender   *User
	Buyer    *User // server-side only, set when sold
	Price    int
	Quantity int
	Thing    types.ThingPayload
	State    OfferState
}

func (o *Offer) GetID() int {
	return o.ID
}

// Proceeds is what the seller collects when claiming a sold offer.
func (o *Offer) Proceeds() int {
	return o.Price * o.Quantity
}

// ServerCreateOffer appends a new open offer with a fresh server-scoped
// id. Offers are pulled via request-offers, not pushed, so there is no
// broadcast here.
func (rs *RealmState) ServerCreateOffer(sender *User, thing types.ThingPayload, price, quantity int) *Offer {
	rs.lastOfferID++

	offer := &Offer{
		ID:       rs.lastOfferID,
		Sender:   sender,
		Price:    price,
		Quantity: quantity,
		Thing:    thing,
		State:    OfferOpen,
	}
	rs.Offers = append(rs.Offers, offer)

	return offer
}

func (rs *RealmState) FindOffer(id int) (*Offer, error) {
	return Find(rs.Offers, "offer", id)
}

func (rs *RealmState) TryFindOffer(id int) (*Offer, bool) {
	return TryFind(rs.Offers, id)
}

// VisibleOffers returns every open offer plus the requester's own sold
// offers awaiting claim. Visibility is role-dependent, not global.
func (rs *RealmState) VisibleOffers(u *User) []*Offer {
	var visible []*Offer
	for _, o := range rs.Offers {
		if o.State == OfferOpen || (o.Sender == u && o.State == OfferSoldToBeClaimed) {
			visible = append(visible, o)
		}
	}
	return visible
}
