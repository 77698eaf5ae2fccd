package types

// Preferences gates which unsolicited transfers a user is willing to
// receive. The server enforces these on start-transaction.
type Preferences struct {
	ReceiveItems     bool `json:"receiveItems"`
	ReceiveColonists bool `json:"receiveColonists"`
	ReceiveAnimals   bool `json:"receiveAnimals"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		ReceiveItems:     true,
		ReceiveColonists: true,
		ReceiveAnimals:   true,
	}
}

// ThingPayload is the wire form of a single game item. Translation to and
// from the host game's live objects happens in the game integration,
// outside this module.
type ThingPayload struct {
	ThingDefName string `json:"thingDefName"`
	StuffDefName string `json:"stuffDefName,omitempty"`
	Quality      int    `json:"quality"`
	HitPoints    int    `json:"hitPoints"`
	StackCount   int    `json:"stackCount"`
}

// ThingStack pairs a thing with the total count being transferred, which
// may exceed a single stack's limit in game.
type ThingStack struct {
	Thing ThingPayload `json:"thing"`
	Count int          `json:"count"`
}

// PawnPayload is the wire form of a colonist. Data is an opaque blob
// produced and consumed by the game integration.
type PawnPayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// AnimalPayload is the wire form of an animal.
type AnimalPayload struct {
	KindDefName string `json:"kindDefName"`
	Name        string `json:"name,omitempty"`
	Data        []byte `json:"data"`
}
