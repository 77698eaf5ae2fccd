package packet

import (
	"fmt"

	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/types"
)

// Wire forms. Entities embedded by reference travel as integer ids and are
// re-resolved against the realm snapshot present at deserialization time.

type userWire struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Connected   bool              `json:"connected"`
	InGame      bool              `json:"inGame"`
	Preferences types.Preferences `json:"preferences"`
}

func encodeUser(u *realm.User) userWire {
	return userWire{
		ID:          u.ID,
		Name:        u.Name,
		Connected:   u.Connected,
		InGame:      u.InGame,
		Preferences: u.Preferences,
	}
}

// toUser never carries the hashed key; it is not disclosed to other users.
func (w userWire) toUser() *realm.User {
	return &realm.User{
		ID:          w.ID,
		Name:        w.Name,
		Connected:   w.Connected,
		InGame:      w.InGame,
		Preferences: w.Preferences,
	}
}

type chatMessageWire struct {
	User    int    `json:"user"`
	Message string `json:"message"`
}

func encodeChatMessage(m *realm.ChatMessage) chatMessageWire {
	return chatMessageWire{User: m.User.GetID(), Message: m.Message}
}

func (w chatMessageWire) toChatMessage(rs *realm.RealmState) (*realm.ChatMessage, error) {
	user, err := rs.FindUser(w.User)
	if err != nil {
		return nil, err
	}
	return &realm.ChatMessage{User: user, Message: w.Message}, nil
}

type transactionWire struct {
	ID       int    `json:"id"`
	Sender   int    `json:"sender"`
	Receiver int    `json:"receiver"`
	Kind     string `json:"kind"`
	State    string `json:"state"`

	Things []types.ThingStack   `json:"things,omitempty"`
	Pawn   *types.PawnPayload   `json:"pawn,omitempty"`
	Animal *types.AnimalPayload `json:"animal,omitempty"`
}

func encodeTransaction(t *realm.Transaction) transactionWire {
	return transactionWire{
		ID:       t.ID,
		Sender:   t.Sender.GetID(),
		Receiver: t.Receiver.GetID(),
		Kind:     t.Kind.String(),
		State:    t.State.String(),
		Things:   t.Things,
		Pawn:     t.Pawn,
		Animal:   t.Animal,
	}
}

func (w transactionWire) toTransaction(rs *realm.RealmState) (*realm.Transaction, error) {
	sender, err := rs.FindUser(w.Sender)
	if err != nil {
		return nil, fmt.Errorf("transaction sender: %w", err)
	}
	receiver, err := rs.FindUser(w.Receiver)
	if err != nil {
		return nil, fmt.Errorf("transaction receiver: %w", err)
	}
	kind, err := realm.ParseTransactionKind(w.Kind)
	if err != nil {
		return nil, err
	}
	state, err := realm.ParseTransactionState(w.State)
	if err != nil {
		return nil, err
	}

	return &realm.Transaction{
		ID:       w.ID,
		Sender:   sender,
		Receiver: receiver,
		Kind:     kind,
		State:    state,
		Things:   w.Things,
		Pawn:     w.Pawn,
		Animal:   w.Animal,
	}, nil
}

type offerWire struct {
	ID       int                `json:"id"`
	Sender   int                `json:"sender"`
	Price    int                `json:"price"`
	Quantity int                `json:"quantity"`
	Thing    types.ThingPayload `json:"thing"`
	State    string             `json:"state"`
}

func encodeOffer(o *realm.Offer) offerWire {
	return offerWire{
		ID:       o.ID,
		Sender:   o.Sender.GetID(),
		Price:    o.Price,
		Quantity: o.Quantity,
		Thing:    o.Thing,
		State:    o.State.String(),
	}
}

func (w offerWire) toOffer(rs *realm.RealmState) (*realm.Offer, error) {
	sender, err := rs.FindUser(w.Sender)
	if err != nil {
		return nil, fmt.Errorf("offer sender: %w", err)
	}
	state, err := realm.ParseOfferState(w.State)
	if err != nil {
		return nil, err
	}

	return &realm.Offer{
		ID:       w.ID,
		Sender:   sender,
		Price:    w.Price,
		Quantity: w.Quantity,
		Thing:    w.Thing,
		State:    state,
	}, nil
}
