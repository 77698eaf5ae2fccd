package client

import (
	"fmt"
	"log"
	"sync"

	"github.com/nfowler/go-realm/internal/packet"
	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/types"
)

// Sender is the outbound half of the transport connection.
type Sender interface {
	Send(data []byte) error
}

// RealmClient is the game-side endpoint of the protocol. The transport
// delivers raw messages on its own thread; they are queued and drained by
// the game once per tick via Drain, because replica mutation and game
// hooks are only safe on the game's thread.
type RealmClient struct {
	log  *log.Logger
	send Sender
	game realm.Hooks

	name      string
	hashedKey string

	mu      sync.Mutex
	inbound [][]byte

	// Realm and User are nil until the first sync arrives. They are only
	// touched from the drain loop.
	Realm *realm.RealmState
	User  *realm.User
}

func NewRealmClient(logger *log.Logger, send Sender, game realm.Hooks, name, hashedKey string) *RealmClient {
	return &RealmClient{
		log:       logger,
		send:      send,
		game:      game,
		name:      name,
		hashedKey: hashedKey,
	}
}

// IsUsable reports whether the initial sync has been applied.
func (c *RealmClient) IsUsable() bool {
	return c.Realm != nil && c.User != nil
}

// Authenticate sends the first packet of a fresh connection.
func (c *RealmClient) Authenticate() error {
	return c.SendPacket(&packet.AuthenticatePacket{
		Name:      c.name,
		HashedKey: c.hashedKey,
		Version:   realm.ProtocolVersion,
	})
}

// OnMessage queues raw bytes from the transport thread. Safe to call
// concurrently with Drain.
func (c *RealmClient) OnMessage(raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, raw)
}

// Drain processes the entire backlog available at this instant. It must be
// called from the game's own thread, once per tick.
func (c *RealmClient) Drain() {
	c.mu.Lock()
	backlog := c.inbound
	c.inbound = nil
	c.mu.Unlock()

	for _, raw := range backlog {
		c.handle(raw)
	}
}

// handle deserializes and applies one inbound message. A malformed packet
// is logged and discarded, never fatal.
func (c *RealmClient) handle(raw []byte) {
	if !c.IsUsable() {
		// Until the replica exists, only sync and authentication errors
		// can be decoded; any other packet may reference entities the
		// client does not hold yet.
		tag, err := packet.Tag(raw)
		if err != nil {
			c.log.Printf("discarding inbound packet: %v", err)
			return
		}
		if tag != packet.TypeSync && tag != packet.TypeAuthenticationError {
			c.log.Printf("discarding %q before sync", tag)
			return
		}
	}

	p, err := packet.Unmarshal(raw, &packet.Context{Realm: c.Realm, User: c.User})
	if err != nil {
		c.log.Printf("discarding inbound packet: %v", err)
		return
	}

	switch p := p.(type) {
	case *packet.SyncPacket:
		// First packet after authentication: replace the replica
		// wholesale.
		c.Realm = p.Realm
		c.Realm.Hooks = c.game
		c.User = p.User
		c.log.Printf("synchronized as %q (id %d), %d users known", c.User.Name, c.User.ID, len(c.Realm.Users))
		return
	case *packet.AuthenticationErrorPacket:
		c.log.Printf("authentication rejected: %s", p.Error)
		if c.game != nil {
			c.game.Notice(p.Error)
		}
		return
	}

	if err := p.Apply(c.User, c.Realm); err != nil {
		c.log.Printf("apply %q: %v", p.Type(), err)
	}
}

// SendPacket serializes p against the local replica and writes it out.
func (c *RealmClient) SendPacket(p packet.Packet) error {
	data, err := packet.Marshal(p, &packet.Context{Realm: c.Realm, User: c.User})
	if err != nil {
		return fmt.Errorf("serialize %q: %w", p.Type(), err)
	}
	return c.send.Send(data)
}

func (c *RealmClient) PostMessage(text string) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.PostMessagePacket{Message: text})
}

func (c *RealmClient) ChangeNickname(name string) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.ChangeNicknamePacket{Name: name})
}

func (c *RealmClient) UpdatePreferences(prefs types.Preferences) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	c.User.Preferences = prefs
	return c.SendPacket(&packet.UpdatePreferencesPacket{Preferences: prefs})
}

// startTransaction builds a transfer with the next client-assigned id,
// appends it optimistically to the local ledger and proposes it to the
// server.
func (c *RealmClient) startTransaction(t *realm.Transaction) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}

	t.ID = c.User.LastTransactionID + 1
	t.Sender = c.User
	t.State = realm.TransactionWaiting

	c.User.LastTransactionID = t.ID
	c.Realm.AddTransaction(t)

	return c.SendPacket(&packet.StartTransactionPacket{Transaction: t})
}

func (c *RealmClient) SendItems(to *realm.User, stacks []types.ThingStack) error {
	return c.startTransaction(&realm.Transaction{
		Receiver: to,
		Kind:     realm.TransactionItems,
		Things:   stacks,
	})
}

func (c *RealmClient) SendColonist(to *realm.User, pawn *types.PawnPayload) error {
	return c.startTransaction(&realm.Transaction{
		Receiver: to,
		Kind:     realm.TransactionColonist,
		Pawn:     pawn,
	})
}

func (c *RealmClient) SendAnimal(to *realm.User, animal *types.AnimalPayload) error {
	return c.startTransaction(&realm.Transaction{
		Receiver: to,
		Kind:     realm.TransactionAnimal,
		Animal:   animal,
	})
}

// RespondTransaction answers a proposed transfer. Called by the game
// integration from its accept/decline dialog.
func (c *RealmClient) RespondTransaction(t *realm.Transaction, response realm.TransactionState) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.ConfirmServerTransactionPacket{Transaction: t, Response: response})
}

func (c *RealmClient) CreateOffer(thing types.ThingPayload, price, quantity int) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.CreateOfferPacket{Thing: thing, Price: price, Quantity: quantity})
}

func (c *RealmClient) RequestOffers() error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.RequestOffersPacket{})
}

func (c *RealmClient) BuyOffer(o *realm.Offer) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.BuyOfferPacket{Offer: o})
}

func (c *RealmClient) ClaimOffer(o *realm.Offer) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.ClaimOfferPacket{Offer: o})
}

func (c *RealmClient) RemoveOffer(o *realm.Offer) error {
	if !c.IsUsable() {
		return fmt.Errorf("not synchronized")
	}
	return c.SendPacket(&packet.RemoveOfferPacket{Offer: o})
}
