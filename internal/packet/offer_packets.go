package packet

import (
	"encoding/json"
	"fmt"

	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/types"
)

const (
	TypeCreateOffer   = "create-offer"
	TypeRequestOffers = "request-offers"
	TypeOffers        = "offers"
	TypeBuyOffer      = "buy-offer"
	TypeConfirmBuy    = "confirm-buy"
	TypeOfferSold     = "offer-sold"
	TypeClaimOffer    = "claim-offer"
	TypeOfferClaimed  = "offer-claimed"
	TypeRemoveOffer   = "remove-offer"
)

func init() {
	register(TypeCreateOffer, decodeCreateOffer)
	register(TypeRequestOffers, decodeRequestOffers)
	register(TypeOffers, decodeOffers)
	register(TypeBuyOffer, decodeBuyOffer)
	register(TypeConfirmBuy, decodeConfirmBuy)
	register(TypeOfferSold, decodeOfferSold)
	register(TypeClaimOffer, decodeClaimOffer)
	register(TypeOfferClaimed, decodeOfferClaimed)
	register(TypeRemoveOffer, decodeRemoveOffer)
}

// CreateOfferPacket is received by the server. Offers are pulled via
// request-offers, so creation does not broadcast.
type CreateOfferPacket struct {
	Thing    types.ThingPayload
	Price    int
	Quantity int
}

func (p *CreateOfferPacket) Type() string { return TypeCreateOffer }

func (p *CreateOfferPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	if p.Price <= 0 || p.Quantity <= 0 {
		rs.NotifyPacket(u, &ErrorPacket{Message: "offer price and quantity must be positive"})
		return nil
	}

	rs.ServerCreateOffer(u, p.Thing, p.Price, p.Quantity)

	return nil
}

type createOfferWire struct {
	Thing    types.ThingPayload `json:"thing"`
	Price    int                `json:"price"`
	Quantity int                `json:"quantity"`
}

func (p *CreateOfferPacket) encode(ctx *Context) (any, error) {
	return createOfferWire{Thing: p.Thing, Price: p.Price, Quantity: p.Quantity}, nil
}

func decodeCreateOffer(ctx *Context, data json.RawMessage) (Packet, error) {
	var w createOfferWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &CreateOfferPacket{Thing: w.Thing, Price: w.Price, Quantity: w.Quantity}, nil
}

// RequestOffersPacket is received by the server and answered with an
// OffersPacket filtered to what the requester may see.
type RequestOffersPacket struct{}

func (p *RequestOffersPacket) Type() string { return TypeRequestOffers }

func (p *RequestOffersPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	rs.NotifyPacket(u, &OffersPacket{Offers: rs.VisibleOffers(u)})
	return nil
}

func (p *RequestOffersPacket) encode(ctx *Context) (any, error) {
	return nil, nil
}

func decodeRequestOffers(ctx *Context, data json.RawMessage) (Packet, error) {
	return &RequestOffersPacket{}, nil
}

// OffersPacket is received by clients and replaces the replica's offer
// list wholesale.
type OffersPacket struct {
	Offers []*realm.Offer
}

func (p *OffersPacket) Type() string { return TypeOffers }

func (p *OffersPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	rs.Offers = p.Offers
	return nil
}

type offersWire struct {
	Offers []offerWire `json:"offers"`
}

func (p *OffersPacket) encode(ctx *Context) (any, error) {
	w := offersWire{}
	for _, o := range p.Offers {
		w.Offers = append(w.Offers, encodeOffer(o))
	}
	return w, nil
}

func decodeOffers(ctx *Context, data json.RawMessage) (Packet, error) {
	var w offersWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	p := &OffersPacket{}
	for _, ow := range w.Offers {
		offer, err := ow.toOffer(ctx.Realm)
		if err != nil {
			return nil, err
		}
		p.Offers = append(p.Offers, offer)
	}

	return p, nil
}

// BuyOfferPacket is received by the server. Buying a non-open offer is
// rejected with a targeted error reply instead of being silently dropped.
type BuyOfferPacket struct {
	Offer *realm.Offer
}

func (p *BuyOfferPacket) Type() string { return TypeBuyOffer }

func (p *BuyOfferPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	o := p.Offer

	if o.State != realm.OfferOpen {
		rs.NotifyPacket(u, &ErrorPacket{Message: fmt.Sprintf("offer #%d is no longer open", o.ID)})
		return nil
	}

	o.State = realm.OfferSoldToBeClaimed
	o.Buyer = u

	rs.NotifyPacket(u, &ConfirmBuyPacket{Offer: o})
	if o.Sender.Connected {
		rs.NotifyPacket(o.Sender, &OfferSoldPacket{Offer: o})
	}

	return nil
}

type offerRefWire struct {
	Offer int `json:"offer"`
}

func (p *BuyOfferPacket) encode(ctx *Context) (any, error) {
	return offerRefWire{Offer: p.Offer.GetID()}, nil
}

func decodeBuyOffer(ctx *Context, data json.RawMessage) (Packet, error) {
	var w offerRefWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	offer, err := ctx.Realm.FindOffer(w.Offer)
	if err != nil {
		return nil, err
	}

	return &BuyOfferPacket{Offer: offer}, nil
}

// ConfirmBuyPacket is received by the buying client, which materializes
// the purchased thing.
type ConfirmBuyPacket struct {
	Offer *realm.Offer
}

func (p *ConfirmBuyPacket) Type() string { return TypeConfirmBuy }

func (p *ConfirmBuyPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	p.Offer.State = realm.OfferSoldToBeClaimed
	if rs.Hooks != nil {
		rs.Hooks.OfferBought(p.Offer)
	}
	return nil
}

func (p *ConfirmBuyPacket) encode(ctx *Context) (any, error) {
	return offerRefWire{Offer: p.Offer.GetID()}, nil
}

func decodeConfirmBuy(ctx *Context, data json.RawMessage) (Packet, error) {
	var w offerRefWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	offer, err := ctx.Realm.FindOffer(w.Offer)
	if err != nil {
		return nil, err
	}

	return &ConfirmBuyPacket{Offer: offer}, nil
}

// OfferSoldPacket is received by the selling client. The seller may never
// have downloaded the offer list, so the reference is allowed to dangle;
// absence is a valid, handled case.
type OfferSoldPacket struct {
	Offer *realm.Offer // nil when the recipient's replica has no such offer
	id    int
}

func (p *OfferSoldPacket) Type() string { return TypeOfferSold }

func (p *OfferSoldPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	if p.Offer == nil {
		if rs.Hooks != nil {
			rs.Hooks.Notice("one of your market offers was sold")
		}
		return nil
	}

	p.Offer.State = realm.OfferSoldToBeClaimed
	if rs.Hooks != nil {
		rs.Hooks.OfferSold(p.Offer)
	}

	return nil
}

func (p *OfferSoldPacket) encode(ctx *Context) (any, error) {
	id := p.id
	if p.Offer != nil {
		id = p.Offer.GetID()
	}
	return offerRefWire{Offer: id}, nil
}

func decodeOfferSold(ctx *Context, data json.RawMessage) (Packet, error) {
	var w offerRefWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	offer, _ := ctx.Realm.TryFindOffer(w.Offer)
	return &OfferSoldPacket{Offer: offer, id: w.Offer}, nil
}

// ClaimOfferPacket is received by the server: the seller collects the
// proceeds of a completed sale.
type ClaimOfferPacket struct {
	Offer *realm.Offer
}

func (p *ClaimOfferPacket) Type() string { return TypeClaimOffer }

func (p *ClaimOfferPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	o := p.Offer

	if o.Sender != u {
		rs.NotifyPacket(u, &ErrorPacket{Message: fmt.Sprintf("offer #%d is not yours to claim", o.ID)})
		return nil
	}
	if o.State != realm.OfferSoldToBeClaimed {
		rs.NotifyPacket(u, &ErrorPacket{Message: fmt.Sprintf("offer #%d has nothing to claim", o.ID)})
		return nil
	}

	o.State = realm.OfferClaimed
	rs.NotifyPacket(u, &OfferClaimedPacket{Offer: o, Proceeds: o.Proceeds()})

	return nil
}

func (p *ClaimOfferPacket) encode(ctx *Context) (any, error) {
	return offerRefWire{Offer: p.Offer.GetID()}, nil
}

func decodeClaimOffer(ctx *Context, data json.RawMessage) (Packet, error) {
	var w offerRefWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	offer, err := ctx.Realm.FindOffer(w.Offer)
	if err != nil {
		return nil, err
	}

	return &ClaimOfferPacket{Offer: offer}, nil
}

// OfferClaimedPacket is received by the selling client, which materializes
// the proceeds.
type OfferClaimedPacket struct {
	Offer    *realm.Offer // may be nil, like offer-sold
	Proceeds int
	id       int
}

func (p *OfferClaimedPacket) Type() string { return TypeOfferClaimed }

func (p *OfferClaimedPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	if p.Offer != nil {
		p.Offer.State = realm.OfferClaimed
	}
	if rs.Hooks != nil {
		rs.Hooks.OfferClaimed(p.Offer, p.Proceeds)
	}
	return nil
}

type offerClaimedWire struct {
	Offer    int `json:"offer"`
	Proceeds int `json:"proceeds"`
}

func (p *OfferClaimedPacket) encode(ctx *Context) (any, error) {
	id := p.id
	if p.Offer != nil {
		id = p.Offer.GetID()
	}
	return offerClaimedWire{Offer: id, Proceeds: p.Proceeds}, nil
}

func decodeOfferClaimed(ctx *Context, data json.RawMessage) (Packet, error) {
	var w offerClaimedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	offer, _ := ctx.Realm.TryFindOffer(w.Offer)
	return &OfferClaimedPacket{Offer: offer, Proceeds: w.Proceeds, id: w.Offer}, nil
}

// RemoveOfferPacket is received by the server: the seller withdraws an
// open offer.
type RemoveOfferPacket struct {
	Offer *realm.Offer
}

func (p *RemoveOfferPacket) Type() string { return TypeRemoveOffer }

func (p *RemoveOfferPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	o := p.Offer

	if o.Sender != u {
		rs.NotifyPacket(u, &ErrorPacket{Message: fmt.Sprintf("offer #%d is not yours to remove", o.ID)})
		return nil
	}
	if o.State != realm.OfferOpen {
		rs.NotifyPacket(u, &ErrorPacket{Message: fmt.Sprintf("offer #%d is not open", o.ID)})
		return nil
	}

	o.State = realm.OfferRemoved

	return nil
}

func (p *RemoveOfferPacket) encode(ctx *Context) (any, error) {
	return offerRefWire{Offer: p.Offer.GetID()}, nil
}

func decodeRemoveOffer(ctx *Context, data json.RawMessage) (Packet, error) {
	var w offerRefWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	offer, err := ctx.Realm.FindOffer(w.Offer)
	if err != nil {
		return nil, err
	}

	return &RemoveOfferPacket{Offer: offer}, nil
}
