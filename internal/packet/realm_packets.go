package packet

import (
	"encoding/json"
	"fmt"

	"github.com/nfowler/go-realm/internal/realm"
	"github.com/nfowler/go-realm/internal/types"
)

const (
	TypeAuthenticate        = "auth"
	TypeAuthenticationError = "authentication-error"
	TypeSync                = "sync"
	TypePostMessage         = "post-message"
	TypeChatMessage         = "chat-message"
	TypeNewUser             = "new-user"
	TypeUserConnected       = "user-connected"
	TypeChangeNickname      = "change-nickname"
	TypeUserRenamed         = "user-renamed"
	TypeUpdatePreferences   = "update-preferences"
	TypePreferencesChanged  = "preferences-changed"
	TypeError               = "error"
)

// SyncChatWindow bounds how much chat history an initial sync carries.
const SyncChatWindow = 30

func init() {
	register(TypeAuthenticate, decodeAuthenticate)
	register(TypeAuthenticationError, decodeAuthenticationError)
	register(TypeSync, decodeSync)
	register(TypePostMessage, decodePostMessage)
	register(TypeChatMessage, decodeChatMessage)
	register(TypeNewUser, decodeNewUser)
	register(TypeUserConnected, decodeUserConnected)
	register(TypeChangeNickname, decodeChangeNickname)
	register(TypeUserRenamed, decodeUserRenamed)
	register(TypeUpdatePreferences, decodeUpdatePreferences)
	register(TypePreferencesChanged, decodePreferencesChanged)
	register(TypeError, decodeError)
}

// AuthenticatePacket is the first message a client sends. It is
// special-cased by the server's connection handler and never dispatched
// through Apply.
type AuthenticatePacket struct {
	Name      string
	HashedKey string
	Version   string
}

func (p *AuthenticatePacket) Type() string { return TypeAuthenticate }

func (p *AuthenticatePacket) Apply(u *realm.User, rs *realm.RealmState) error {
	return nil
}

type authenticateWire struct {
	Name      string `json:"name"`
	HashedKey string `json:"hashedKey"`
	Version   string `json:"version"`
}

func (p *AuthenticatePacket) encode(ctx *Context) (any, error) {
	return authenticateWire{Name: p.Name, HashedKey: p.HashedKey, Version: p.Version}, nil
}

func decodeAuthenticate(ctx *Context, data json.RawMessage) (Packet, error) {
	var w authenticateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &AuthenticatePacket{Name: w.Name, HashedKey: w.HashedKey, Version: w.Version}, nil
}

// AuthenticationErrorPacket rejects a connection before it is associated
// with an identity.
type AuthenticationErrorPacket struct {
	Error string
}

func (p *AuthenticationErrorPacket) Type() string { return TypeAuthenticationError }

func (p *AuthenticationErrorPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	if rs.Hooks != nil {
		rs.Hooks.Notice(p.Error)
	}
	return nil
}

type authenticationErrorWire struct {
	Error string `json:"error"`
}

func (p *AuthenticationErrorPacket) encode(ctx *Context) (any, error) {
	return authenticationErrorWire{Error: p.Error}, nil
}

func decodeAuthenticationError(ctx *Context, data json.RawMessage) (Packet, error) {
	var w authenticationErrorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &AuthenticationErrorPacket{Error: w.Error}, nil
}

// SyncPacket replaces the client's local replica wholesale. It carries the
// full user list and a bounded recent chat window; in-flight transactions
// and market offers are fetched lazily by explicit request packets. Like
// auth, it is special-cased by the client, not routed through Apply.
type SyncPacket struct {
	Realm *realm.RealmState
	User  *realm.User
}

func (p *SyncPacket) Type() string { return TypeSync }

func (p *SyncPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	return nil
}

type syncRealmWire struct {
	Users []userWire        `json:"users"`
	Chat  []chatMessageWire `json:"chat"`
}

type syncWire struct {
	Realm syncRealmWire `json:"realmData"`
	User  int           `json:"user"`
}

func (p *SyncPacket) encode(ctx *Context) (any, error) {
	w := syncWire{User: p.User.GetID()}

	for _, u := range p.Realm.Users {
		w.Realm.Users = append(w.Realm.Users, encodeUser(u))
	}
	for _, m := range p.Realm.RecentChat(SyncChatWindow) {
		w.Realm.Chat = append(w.Realm.Chat, encodeChatMessage(m))
	}

	return w, nil
}

func decodeSync(ctx *Context, data json.RawMessage) (Packet, error) {
	var w syncWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	rs := realm.NewRealmState()
	for _, uw := range w.Realm.Users {
		rs.AddUser(uw.toUser())
	}
	for _, mw := range w.Realm.Chat {
		msg, err := mw.toChatMessage(rs)
		if err != nil {
			return nil, err
		}
		rs.AddChatMessage(msg)
	}

	user, err := rs.FindUser(w.User)
	if err != nil {
		return nil, fmt.Errorf("sync acting user: %w", err)
	}

	return &SyncPacket{Realm: rs, User: user}, nil
}

// PostMessagePacket is received by the server.
type PostMessagePacket struct {
	Message string
}

func (p *PostMessagePacket) Type() string { return TypePostMessage }

func (p *PostMessagePacket) Apply(u *realm.User, rs *realm.RealmState) error {
	text := realm.SanitizeMessage(p.Message)
	if text == "" {
		return nil
	}

	msg := &realm.ChatMessage{User: u, Message: text}
	rs.AddChatMessage(msg)
	rs.BroadcastPacket(&ChatMessagePacket{Message: msg})

	return nil
}

type postMessageWire struct {
	Message string `json:"message"`
}

func (p *PostMessagePacket) encode(ctx *Context) (any, error) {
	return postMessageWire{Message: p.Message}, nil
}

func decodePostMessage(ctx *Context, data json.RawMessage) (Packet, error) {
	var w postMessageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &PostMessagePacket{Message: w.Message}, nil
}

// ChatMessagePacket is received by clients.
type ChatMessagePacket struct {
	Message *realm.ChatMessage
}

func (p *ChatMessagePacket) Type() string { return TypeChatMessage }

func (p *ChatMessagePacket) Apply(u *realm.User, rs *realm.RealmState) error {
	rs.AddChatMessage(p.Message)
	return nil
}

func (p *ChatMessagePacket) encode(ctx *Context) (any, error) {
	return encodeChatMessage(p.Message), nil
}

func decodeChatMessage(ctx *Context, data json.RawMessage) (Packet, error) {
	var w chatMessageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	msg, err := w.toChatMessage(ctx.Realm)
	if err != nil {
		return nil, err
	}

	return &ChatMessagePacket{Message: msg}, nil
}

// NewUserPacket tells existing clients that a new identity was
// provisioned. It carries the full user record, not a reference, because
// the recipient cannot resolve an id it has never seen.
type NewUserPacket struct {
	User *realm.User
}

func (p *NewUserPacket) Type() string { return TypeNewUser }

func (p *NewUserPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	rs.AddUser(p.User)
	return nil
}

type newUserWire struct {
	User userWire `json:"user"`
}

func (p *NewUserPacket) encode(ctx *Context) (any, error) {
	return newUserWire{User: encodeUser(p.User)}, nil
}

func decodeNewUser(ctx *Context, data json.RawMessage) (Packet, error) {
	var w newUserWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &NewUserPacket{User: w.User.toUser()}, nil
}

// UserConnectedPacket toggles a user's connected flag in client replicas.
type UserConnectedPacket struct {
	User      *realm.User
	Connected bool
}

func (p *UserConnectedPacket) Type() string { return TypeUserConnected }

func (p *UserConnectedPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	p.User.Connected = p.Connected
	return nil
}

type userConnectedWire struct {
	User      int  `json:"user"`
	Connected bool `json:"connected"`
}

func (p *UserConnectedPacket) encode(ctx *Context) (any, error) {
	return userConnectedWire{User: p.User.GetID(), Connected: p.Connected}, nil
}

func decodeUserConnected(ctx *Context, data json.RawMessage) (Packet, error) {
	var w userConnectedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	user, err := ctx.Realm.FindUser(w.User)
	if err != nil {
		return nil, err
	}

	return &UserConnectedPacket{User: user, Connected: w.Connected}, nil
}

// ChangeNicknamePacket is received by the server. Conflicts produce a
// targeted error reply, never a broadcast.
type ChangeNicknamePacket struct {
	Name string
}

func (p *ChangeNicknamePacket) Type() string { return TypeChangeNickname }

func (p *ChangeNicknamePacket) Apply(u *realm.User, rs *realm.RealmState) error {
	if err := realm.ValidateName(p.Name); err != nil {
		rs.NotifyPacket(u, &ErrorPacket{Message: err.Error()})
		return nil
	}
	if other, ok := rs.UserByName(p.Name); ok && other != u {
		rs.NotifyPacket(u, &ErrorPacket{Message: fmt.Sprintf("name %q is already taken", p.Name)})
		return nil
	}

	u.Name = p.Name
	rs.BroadcastPacket(&UserRenamedPacket{User: u, Name: p.Name})

	return nil
}

type changeNicknameWire struct {
	Name string `json:"name"`
}

func (p *ChangeNicknamePacket) encode(ctx *Context) (any, error) {
	return changeNicknameWire{Name: p.Name}, nil
}

func decodeChangeNickname(ctx *Context, data json.RawMessage) (Packet, error) {
	var w changeNicknameWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &ChangeNicknamePacket{Name: w.Name}, nil
}

// UserRenamedPacket is received by clients.
type UserRenamedPacket struct {
	User *realm.User
	Name string
}

func (p *UserRenamedPacket) Type() string { return TypeUserRenamed }

func (p *UserRenamedPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	p.User.Name = p.Name
	return nil
}

type userRenamedWire struct {
	User int    `json:"user"`
	Name string `json:"name"`
}

func (p *UserRenamedPacket) encode(ctx *Context) (any, error) {
	return userRenamedWire{User: p.User.GetID(), Name: p.Name}, nil
}

func decodeUserRenamed(ctx *Context, data json.RawMessage) (Packet, error) {
	var w userRenamedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	user, err := ctx.Realm.FindUser(w.User)
	if err != nil {
		return nil, err
	}

	return &UserRenamedPacket{User: user, Name: w.Name}, nil
}

// UpdatePreferencesPacket is received by the server and fanned out to
// every other user, never back to the sender.
type UpdatePreferencesPacket struct {
	Preferences types.Preferences
}

func (p *UpdatePreferencesPacket) Type() string { return TypeUpdatePreferences }

func (p *UpdatePreferencesPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	u.Preferences = p.Preferences
	rs.BroadcastPacketExcept(&PreferencesChangedPacket{User: u, Preferences: p.Preferences}, u)
	return nil
}

type updatePreferencesWire struct {
	Preferences types.Preferences `json:"preferences"`
}

func (p *UpdatePreferencesPacket) encode(ctx *Context) (any, error) {
	return updatePreferencesWire{Preferences: p.Preferences}, nil
}

func decodeUpdatePreferences(ctx *Context, data json.RawMessage) (Packet, error) {
	var w updatePreferencesWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &UpdatePreferencesPacket{Preferences: w.Preferences}, nil
}

// PreferencesChangedPacket is received by clients.
type PreferencesChangedPacket struct {
	User        *realm.User
	Preferences types.Preferences
}

func (p *PreferencesChangedPacket) Type() string { return TypePreferencesChanged }

func (p *PreferencesChangedPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	p.User.Preferences = p.Preferences
	return nil
}

type preferencesChangedWire struct {
	User        int               `json:"user"`
	Preferences types.Preferences `json:"preferences"`
}

func (p *PreferencesChangedPacket) encode(ctx *Context) (any, error) {
	return preferencesChangedWire{User: p.User.GetID(), Preferences: p.Preferences}, nil
}

func decodePreferencesChanged(ctx *Context, data json.RawMessage) (Packet, error) {
	var w preferencesChangedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	user, err := ctx.Realm.FindUser(w.User)
	if err != nil {
		return nil, err
	}

	return &PreferencesChangedPacket{User: user, Preferences: w.Preferences}, nil
}

// ErrorPacket is informational: rendered and discarded, no state mutation.
type ErrorPacket struct {
	Message string
}

func (p *ErrorPacket) Type() string { return TypeError }

func (p *ErrorPacket) Apply(u *realm.User, rs *realm.RealmState) error {
	if rs.Hooks != nil {
		rs.Hooks.Notice(p.Message)
	}
	return nil
}

type errorWire struct {
	Message string `json:"message"`
}

func (p *ErrorPacket) encode(ctx *Context) (any, error) {
	return errorWire{Message: p.Message}, nil
}

func decodeError(ctx *Context, data json.RawMessage) (Packet, error) {
	var w errorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &ErrorPacket{Message: w.Message}, nil
}
