package realm

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nfowler/go-realm/internal/types"
)

// ProtocolVersion gates whole-connection compatibility. Exact string
// equality is required during authentication.
const ProtocolVersion = "0.11"

const (
	MinNameLength = 3
	MaxNameLength = 32
)

// DefaultTransactionCooldown is the minimum delay between two
// start-transaction packets from the same user.
const DefaultTransactionCooldown = 3 * time.Second

// Packet is the minimal view of a wire packet the ledger needs in order
// to hand outbound messages to the routing layer.
type Packet interface {
	Type() string
}

// Notifier is the routing layer's send surface. The server implements it;
// client-side replicas leave it nil.
type Notifier interface {
	Notify(u *User, p Packet)
	Broadcast(p Packet)
	BroadcastExcept(p Packet, except *User)
}

// Hooks receives the game-facing side effects of applied packets. The game
// integration implements it on the client; the server leaves it nil.
type Hooks interface {
	TransactionProposed(t *Transaction)
	TransactionEndedSender(t *Transaction)
	TransactionEndedReceiver(t *Transaction)
	OfferBought(o *Offer)
	OfferSold(o *Offer)
	OfferClaimed(o *Offer, proceeds int)
	Notice(text string)
}

// User identifies a participant. The record is created on first successful
// authentication and never deleted; Connected toggles with the socket.
type User struct {
	ID          int
	Name        string
	HashedKey   string // never serialized
	Connected   bool
	InGame      bool
	Preferences types.Preferences

	// LastTransactionID is a per-user monotonic counter assigned
	// client-side; LastTransactionTime drives the rate limiter.
	LastTransactionID   int
	LastTransactionTime time.Time
}

func (u *User) GetID() int {
	return u.ID
}

// ValidateName checks nickname length bounds.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinNameLength || n > MaxNameLength {
		return fmt.Errorf("name must be between %d and %d characters", MinNameLength, MaxNameLength)
	}
	return nil
}

// ChatMessage is immutable once created. The user reference travels as an
// id on the wire.
type ChatMessage struct {
	User    *User
	Message string
}

// RealmState is the shared ledger: authoritative on the server, a
// read-mostly replica on clients. Cross-entity references are held as
// pointers in memory but always serialized as ids and re-resolved against
// this ledger on deserialization.
type RealmState struct {
	Users        []*User
	Chat         []*ChatMessage
	Offers       []*Offer
	Transactions []*Transaction

	// Notifier and Hooks are injected by the owning process; either may
	// be nil depending on which side of the wire this state lives on.
	Notifier Notifier
	Hooks    Hooks

	Clock    func() time.Time
	Cooldown time.Duration

	lastUserID  int
	lastOfferID int
}

func NewRealmState() *RealmState {
	return &RealmState{
		Clock:    time.Now,
		Cooldown: DefaultTransactionCooldown,
	}
}

func (rs *RealmState) Now() time.Time {
	if rs.Clock == nil {
		return time.Now()
	}
	return rs.Clock()
}

func (rs *RealmState) AddUser(u *User) {
	if _, ok := rs.TryFindUser(u.ID); ok {
		return
	}

	rs.Users = append(rs.Users, u)
	if u.ID > rs.lastUserID {
		rs.lastUserID = u.ID
	}
}

// ServerAddUser provisions a new identity with a fresh id. Ids are
// assigned once and never reused.
func (rs *RealmState) ServerAddUser(name, hashedKey string) *User {
	rs.lastUserID++

	user := &User{
		ID:          rs.lastUserID,
		Name:        name,
		HashedKey:   hashedKey,
		Connected:   true,
		Preferences: types.DefaultPreferences(),
	}
	rs.Users = append(rs.Users, user)

	return user
}

func (rs *RealmState) FindUser(id int) (*User, error) {
	return Find(rs.Users, "user", id)
}

func (rs *RealmState) TryFindUser(id int) (*User, bool) {
	return TryFind(rs.Users, id)
}

func (rs *RealmState) UserByName(name string) (*User, bool) {
	for _, u := range rs.Users {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}

func (rs *RealmState) UserByKey(hashedKey string) (*User, bool) {
	if hashedKey == "" {
		return nil, false
	}
	for _, u := range rs.Users {
		if u.HashedKey == hashedKey {
			return u, true
		}
	}
	return nil, false
}

// UniqueName returns name if free, else name with the smallest numeric
// suffix that makes it unique among known users.
func (rs *RealmState) UniqueName(name string) string {
	if _, ok := rs.UserByName(name); !ok {
		return name
	}

	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s (%d)", name, i)
		if _, ok := rs.UserByName(candidate); !ok {
			return candidate
		}
	}
}

func (rs *RealmState) AddChatMessage(m *ChatMessage) {
	rs.Chat = append(rs.Chat, m)
}

// RecentChat returns the last n chat messages, oldest first.
func (rs *RealmState) RecentChat(n int) []*ChatMessage {
	if n <= 0 || len(rs.Chat) <= n {
		return rs.Chat
	}
	return rs.Chat[len(rs.Chat)-n:]
}

// NotifyPacket asks the routing layer to deliver p to exactly one
// identity. A nil notifier or a disconnected user makes this a no-op.
func (rs *RealmState) NotifyPacket(u *User, p Packet) {
	if rs.Notifier == nil {
		return
	}
	rs.Notifier.Notify(u, p)
}

func (rs *RealmState) BroadcastPacket(p Packet) {
	if rs.Notifier == nil {
		return
	}
	rs.Notifier.Broadcast(p)
}

func (rs *RealmState) BroadcastPacketExcept(p Packet, except *User) {
	if rs.Notifier == nil {
		return
	}
	rs.Notifier.BroadcastExcept(p, except)
}
