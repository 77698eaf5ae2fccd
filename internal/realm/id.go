package realm

import "fmt"

// IDable is implemented by every long-lived realm entity. IDs are unique
// within a collection, enforced at creation time.
type IDable interface {
	GetID() int
}

type NotFoundError struct {
	Kind string
	ID   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id %d not found", e.Kind, e.ID)
}

// Find returns the element of list whose id equals id, or a NotFoundError
// naming the collection. Collections are small, a linear scan is fine.
func Find[E IDable](list []E, kind string, id int) (E, error) {
	if e, ok := TryFind(list, id); ok {
		return e, nil
	}

	var zero E
	return zero, &NotFoundError{Kind: kind, ID: id}
}

// TryFind is the fallible variant of Find for references that may
// legitimately be absent.
func TryFind[E IDable](list []E, id int) (E, bool) {
	for _, e := range list {
		if e.GetID() == id {
			return e, true
		}
	}

	var zero E
	return zero, false
}
