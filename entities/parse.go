package entities

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/concrnt/ccworld-migration/types"
)

var ErrUnknownEntityType = errors.New("unknown entity type")

// Object is the wire envelope of an entity inside an archive.
// The subscribed_* fields are only present on archived posts.
type Object struct {
	EntityType         string          `json:"entity_type"`
	EntityData         json.RawMessage `json:"entity_data"`
	PropertyOrder      []string        `json:"property_order,omitempty"`
	SubscribedUsersIDs []string        `json:"subscribed_users_ids,omitempty"`
	SubscribedPodsURIs []string        `json:"subscribed_pods_uris,omitempty"`
}

func (o Object) Kind() Kind {
	return Kind(o.EntityType)
}

// Raw decodes entity_data as a walkable document.
func (o Object) Raw() (*types.RawObject, error) {
	if len(o.EntityData) == 0 {
		return types.NewRawObject(nil), nil
	}
	return types.LoadAsRawObject(o.EntityData)
}

type parser func(o Object) (Entity, error)

var parsers = map[Kind]parser{
	KindProfile:           parseInto[Profile],
	KindStatusMessage:     parseInto[StatusMessage],
	KindReshare:           parseInto[Reshare],
	KindAccountMigration:  parseInto[AccountMigration],
	KindContact:           parseInto[Contact],
	KindComment:           parseRelayable[Comment],
	KindLike:              parseRelayable[Like],
	KindPollParticipation: parseRelayable[PollParticipation],
}

// Parse turns an archived object into its typed entity.
func Parse(o Object) (Entity, error) {
	p, ok := parsers[o.Kind()]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEntityType, "%q", o.EntityType)
	}
	return p(o)
}

// ParseRelayable is Parse restricted to relayable kinds.
func ParseRelayable(o Object) (Relayable, error) {
	e, err := Parse(o)
	if err != nil {
		return nil, err
	}
	r, ok := e.(Relayable)
	if !ok {
		return nil, errors.Errorf("%s is not a relayable", o.EntityType)
	}
	return r, nil
}

type entityPtr[T any] interface {
	*T
	Entity
}

func parseInto[T any, P entityPtr[T]](o Object) (Entity, error) {
	var v T
	if err := json.Unmarshal(o.EntityData, &v); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", o.EntityType)
	}
	return P(&v), nil
}

type relayablePtr[T any] interface {
	*T
	Relayable
	base() *RelayableBase
}

func (r *RelayableBase) base() *RelayableBase { return r }

func parseRelayable[T any, P relayablePtr[T]](o Object) (Entity, error) {
	var v T
	if err := json.Unmarshal(o.EntityData, &v); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", o.EntityType)
	}
	raw, err := o.Raw()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", o.EntityType)
	}

	p := P(&v)
	b := p.base()
	b.raw = raw
	b.order = o.PropertyOrder
	if len(b.order) == 0 {
		b.order = defaultPropertyOrder[o.Kind()]
	}
	return p, nil
}

// ToObject wraps an entity back into its wire envelope.
func ToObject(e Entity) (Object, error) {
	var (
		data  []byte
		err   error
		order []string
	)
	if r, ok := e.(Relayable); ok && r.Data() != nil {
		data, err = json.Marshal(r.Data().GetData())
		order = r.PropertyOrder()
	} else {
		data, err = json.Marshal(e)
	}
	if err != nil {
		return Object{}, errors.Wrap(err, "failed to marshal entity")
	}
	return Object{
		EntityType:    string(e.Kind()),
		EntityData:    data,
		PropertyOrder: order,
	}, nil
}

// NewRelayableData builds a relayable from scratch, the way an entity created
// on this pod would be.
func NewRelayableData[T any, P relayablePtr[T]](kind Kind, data map[string]any) (P, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	e, err := Parse(Object{EntityType: string(kind), EntityData: body})
	if err != nil {
		return nil, err
	}
	p, ok := e.(P)
	if !ok {
		return nil, errors.Errorf("%s does not match requested type", kind)
	}
	return p, nil
}
