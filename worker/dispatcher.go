package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/types"
)

// DeliveryJob is one serialized entity bound for the public inbox of Host.
type DeliveryJob struct {
	Host     string          `json:"host"`
	Sender   string          `json:"sender"`
	Body     json.RawMessage `json:"body"`
	Attempts int             `json:"attempts"`
}

// ContactJob asks for the contact of a user with a person to be sent again.
type ContactJob struct {
	UserID   uint `json:"userID"`
	PersonID uint `json:"personID"`
}

// ImportJob is an archive waiting to be imported into a new user.
type ImportJob struct {
	Archive  []byte `json:"archive"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Dispatcher queues outgoing federation traffic for the Worker.
type Dispatcher struct {
	queue  Queue
	logger *slog.Logger
}

func NewDispatcher(queue Queue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		logger: logger.With("component", "dispatcher"),
	}
}

// Dispatch queues one delivery of entity per pod hosting a remote recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, sender string, entity entities.Entity, recipients []types.Person) error {
	ctx, span := tracer.Start(ctx, "Worker.Dispatcher.Dispatch")
	defer span.End()

	object, err := entities.ToObject(entity)
	if err != nil {
		span.RecordError(err)
		return err
	}
	body, err := json.Marshal(object)
	if err != nil {
		span.RecordError(err)
		return err
	}

	hosts := map[string]bool{}
	for _, recipient := range recipients {
		if !recipient.Remote() {
			continue
		}
		_, host, err := entities.SplitHandle(recipient.Handle)
		if err != nil {
			d.logger.Warn("skipping recipient with a bad handle", "handle", recipient.Handle, "err", err)
			continue
		}
		hosts[host] = true
	}

	for _, host := range slices.Sorted(maps.Keys(hosts)) {
		if err := d.push(ctx, DeliveryQueue, DeliveryJob{Host: host, Sender: sender, Body: body}); err != nil {
			span.RecordError(err)
			return err
		}
	}
	d.logger.Debug("dispatched", "kind", entity.Kind(), "sender", sender, "pods", len(hosts))
	return nil
}

// DeferDispatch queues the contact of user with contact.PersonID to be sent
// again once the worker gets to it.
func (d *Dispatcher) DeferDispatch(ctx context.Context, user types.User, contact types.Contact) error {
	return d.push(ctx, ContactQueue, ContactJob{UserID: user.ID, PersonID: contact.PersonID})
}

// EnqueueImport queues an archive import.
func (d *Dispatcher) EnqueueImport(ctx context.Context, archive []byte, username, email string) error {
	return d.push(ctx, ImportQueue, ImportJob{Archive: archive, Username: username, Email: email})
}

func (d *Dispatcher) push(ctx context.Context, queue string, job any) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return d.queue.Push(ctx, queue, payload)
}
