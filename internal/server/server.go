package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nfowler/go-realm/internal/database"
	"github.com/nfowler/go-realm/internal/packet"
	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/stats"
)

const pruneInterval = 10 * time.Minute

// DefaultTransactionRetention is how long resolved transactions stay in
// the ledger before the sweep removes them.
const DefaultTransactionRetention = time.Hour

// RealmServer routes live connections to resolved identities and applies
// inbound packets against the authoritative ledger. All packet processing
// is serialized behind mu: the ledger is not designed for concurrent
// mutation and every packet is a short, non-blocking critical section.
type RealmServer struct {
	log       *log.Logger
	realm     *realm.RealmState
	repo      database.UserRepository
	stats     stats.StatsProvider
	version   string
	retention time.Duration

	mu         sync.Mutex
	conns      map[*Client]*realm.User // nil value = connected but unauthenticated
	byUserConn map[int]*Client

	stop chan struct{}
	done chan struct{}
}

func NewRealmServer(logger *log.Logger, rs *realm.RealmState, repo database.UserRepository, st stats.StatsProvider, version string, retention time.Duration) (*RealmServer, error) {
	if version == "" {
		version = realm.ProtocolVersion
	}
	if retention <= 0 {
		retention = DefaultTransactionRetention
	}

	s := &RealmServer{
		log:        logger,
		realm:      rs,
		repo:       repo,
		stats:      st,
		version:    version,
		retention:  retention,
		conns:      make(map[*Client]*realm.User),
		byUserConn: make(map[int]*Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, name := range []string{
		"NumConnectedUsers",
		"PacketsReceived",
		"PacketsSent",
		"AuthFailures",
		"TransactionsPruned",
	} {
		st.RegisterMetric(name)
	}

	// The ledger talks back to remote parties through us.
	rs.Notifier = s

	return s, nil
}

// Run owns the transaction retention sweep. It returns when Shutdown is
// called.
func (s *RealmServer) Run() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if n := s.realm.PruneTransactions(s.retention); n > 0 {
				s.log.Printf("pruned %d resolved transactions", n)
				for i := 0; i < n; i++ {
					s.stats.Incr("TransactionsPruned")
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			close(s.done)
			return
		}
	}
}

func (s *RealmServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.conns {
		c.stopClient()
	}
	s.mu.Unlock()

	close(s.stop)

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient tracks a freshly upgraded connection. The connection has
// no identity until its auth packet is processed.
func (s *RealmServer) RegisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[c] = nil
	s.log.Printf("[%s] connection registered", c.id)
}

// HandleMessage is the whole per-message handling path: deserialize,
// authenticate or route, apply. Called from the connection's read pump.
func (s *RealmServer) HandleMessage(c *Client, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Incr("PacketsReceived")

	user := s.conns[c]

	p, err := packet.Unmarshal(raw, &packet.Context{Realm: s.realm, User: user})
	if err != nil {
		s.log.Printf("[%s] dropping malformed packet: %v", c.id, err)
		s.sendTo(c, user, &packet.ErrorPacket{Message: "malformed packet"})
		return
	}

	if auth, ok := p.(*packet.AuthenticatePacket); ok {
		s.handleAuth(c, auth)
		return
	}

	if user == nil {
		s.log.Printf("[%s] ignoring %q from unauthenticated connection", c.id, p.Type())
		return
	}

	if err := p.Apply(user, s.realm); err != nil {
		s.log.Printf("ERROR: [%s] apply %q from %q: %v", c.id, p.Type(), user.Name, err)
		return
	}

	s.persistAfter(p, user)
}

// persistAfter writes back user-record mutations that certain packets
// make, so identities survive a restart. Best effort: a storage error is
// logged, never fatal for the message.
func (s *RealmServer) persistAfter(p packet.Packet, user *realm.User) {
	switch p.(type) {
	case *packet.ChangeNicknamePacket, *packet.UpdatePreferencesPacket:
		if err := s.repo.UpdateUser(database.UserRecord{
			ID:          user.ID,
			Name:        user.Name,
			HashedKey:   user.HashedKey,
			Preferences: user.Preferences,
		}); err != nil {
			s.log.Printf("persist user %d: %v", user.ID, err)
		}
	}
}

func (s *RealmServer) handleAuth(c *Client, auth *packet.AuthenticatePacket) {
	if auth.Version != s.version {
		s.stats.Incr("AuthFailures")
		s.sendTo(c, nil, &packet.AuthenticationErrorPacket{
			Error: fmt.Sprintf("server is version %s but client is version %s", s.version, auth.Version),
		})
		return
	}

	name := strings.TrimSpace(realm.StripRichText(auth.Name))
	if err := realm.ValidateName(name); err != nil {
		s.stats.Incr("AuthFailures")
		s.sendTo(c, nil, &packet.AuthenticationErrorPacket{Error: err.Error()})
		return
	}
	if auth.HashedKey == "" {
		s.stats.Incr("AuthFailures")
		s.sendTo(c, nil, &packet.AuthenticationErrorPacket{Error: "missing credential"})
		return
	}

	// Identity is keyed by credential hash. A claimed name with an
	// unknown hash mints a brand-new identity rather than trusting the
	// claim.
	user, known := s.realm.UserByKey(auth.HashedKey)
	// A user absent from the realm is new to every connected replica,
	// whether restored from the store or minted fresh.
	announce := !known
	if !known {
		// The store may hold an identity the in-memory realm does not,
		// e.g. one written after startup rehydration.
		if rec, err := s.repo.GetUserByKey(auth.HashedKey); err == nil {
			user = &realm.User{
				ID:          rec.ID,
				Name:        rec.Name,
				HashedKey:   rec.HashedKey,
				Connected:   true,
				Preferences: rec.Preferences,
			}
			s.realm.AddUser(user)
			known = true
			s.log.Printf("[%s] restored user %q with id %d from store", c.id, user.Name, user.ID)
		}
	}
	if !known {
		user = s.realm.ServerAddUser(s.realm.UniqueName(name), auth.HashedKey)
		s.log.Printf("[%s] provisioned user %q with id %d", c.id, user.Name, user.ID)

		if _, err := s.repo.CreateUser(database.UserRecord{
			ID:          user.ID,
			Name:        user.Name,
			HashedKey:   user.HashedKey,
			Preferences: user.Preferences,
		}); err != nil {
			s.log.Printf("persist new user %d: %v", user.ID, err)
		}
	}

	// A later login supersedes the old socket entirely.
	if old, ok := s.byUserConn[user.ID]; ok && old != c {
		s.log.Printf("[%s] superseding connection [%s] for %q", c.id, old.id, user.Name)
		s.conns[old] = nil
		old.stopClient()
	}

	s.conns[c] = user
	s.byUserConn[user.ID] = c
	user.Connected = true
	s.stats.Incr("NumConnectedUsers")

	if announce {
		s.BroadcastExcept(&packet.NewUserPacket{User: user}, user)
	}
	s.BroadcastExcept(&packet.UserConnectedPacket{User: user, Connected: true}, user)

	// Full user list plus a bounded chat window; transactions and offers
	// are fetched lazily after sync.
	s.sendTo(c, user, &packet.SyncPacket{Realm: s.realm, User: user})

	s.log.Printf("[%s] authenticated as %q (id %d)", c.id, user.Name, user.ID)
}

func (s *RealmServer) HandleDisconnect(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.conns[c]
	delete(s.conns, c)

	if user == nil {
		return
	}
	if s.byUserConn[user.ID] != c {
		// Superseded connection; the identity lives on elsewhere.
		return
	}

	delete(s.byUserConn, user.ID)
	user.Connected = false
	s.stats.Decr("NumConnectedUsers")
	s.log.Printf("[%s] disconnection of %q", c.id, user.Name)

	s.BroadcastExcept(&packet.UserConnectedPacket{User: user, Connected: false}, user)
}

// Notify implements realm.Notifier. It is invoked from inside the
// per-message critical section (Apply handlers), so it must not take mu.
// Packets to identities without a live connection are dropped here.
func (s *RealmServer) Notify(u *realm.User, p realm.Packet) {
	c, ok := s.byUserConn[u.ID]
	if !ok {
		return
	}
	s.sendTo(c, u, p)
}

// Broadcast implements realm.Notifier.
func (s *RealmServer) Broadcast(p realm.Packet) {
	for _, u := range s.realm.Users {
		s.Notify(u, p)
	}
}

// BroadcastExcept implements realm.Notifier.
func (s *RealmServer) BroadcastExcept(p realm.Packet, except *realm.User) {
	for _, u := range s.realm.Users {
		if u == except {
			continue
		}
		s.Notify(u, p)
	}
}

// sendTo serializes p for one recipient and enqueues it. Serialization is
// per-recipient because reference resolution is context-sensitive.
func (s *RealmServer) sendTo(c *Client, u *realm.User, p realm.Packet) {
	pkt, ok := p.(packet.Packet)
	if !ok {
		s.log.Printf("ERROR: cannot serialize %q: not a wire packet", p.Type())
		return
	}

	data, err := packet.Marshal(pkt, &packet.Context{Realm: s.realm, User: u})
	if err != nil {
		s.log.Printf("ERROR: serialize %q: %v", p.Type(), err)
		return
	}

	if c.queueMessage(data) {
		s.stats.Incr("PacketsSent")
	}
}

// UserSummary is a copy-out view for the operator API.
type UserSummary struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

func (s *RealmServer) UserSummaries() []UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]UserSummary, 0, len(s.realm.Users))
	for _, u := range s.realm.Users {
		summaries = append(summaries, UserSummary{ID: u.ID, Name: u.Name, Connected: u.Connected})
	}
	return summaries
}

type TransactionSummary struct {
	ID         int    `json:"id"`
	SenderID   int    `json:"sender_id"`
	ReceiverID int    `json:"receiver_id"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
}

func (s *RealmServer) TransactionSummaries() []TransactionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]TransactionSummary, 0, len(s.realm.Transactions))
	for _, t := range s.realm.Transactions {
		summaries = append(summaries, TransactionSummary{
			ID:         t.ID,
			SenderID:   t.Sender.ID,
			ReceiverID: t.Receiver.ID,
			Kind:       t.Kind.String(),
			State:      t.State.String(),
		})
	}
	return summaries
}

type OfferSummary struct {
	ID       int    `json:"id"`
	SenderID int    `json:"sender_id"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
	State    string `json:"state"`
}

func (s *RealmServer) OfferSummaries() []OfferSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]OfferSummary, 0, len(s.realm.Offers))
	for _, o := range s.realm.Offers {
		summaries = append(summaries, OfferSummary{
			ID:       o.ID,
			SenderID: o.Sender.ID,
			Price:    o.Price,
			Quantity: o.Quantity,
			State:    o.State.String(),
		})
	}
	return summaries
}

// InterruptTransaction is the operator escape hatch for a negotiation
// whose receiver never responds: it resolves the transaction INTERRUPTED
// and tells both parties.
func (s *RealmServer) InterruptTransaction(id, senderID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.realm.FindTransaction(id, senderID)
	if err != nil {
		return err
	}
	if !t.Resolve(realm.TransactionInterrupted, s.realm.Now()) {
		return fmt.Errorf("transaction %d from sender %d is already %s", id, senderID, t.State)
	}

	s.Notify(t.Sender, &packet.ConfirmTransactionPacket{Transaction: t, Response: realm.TransactionInterrupted, ToSender: true})
	s.Notify(t.Receiver, &packet.ConfirmTransactionPacket{Transaction: t, Response: realm.TransactionInterrupted, ToSender: false})

	return nil
}

// PostNotice broadcasts an informational message to every connected user.
func (s *RealmServer) PostNotice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Broadcast(&packet.ErrorPacket{Message: text})
}
