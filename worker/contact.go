package worker

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/types"
)

// sendContact tells the pod of a person how a local user relates to them.
// Following and sharing both mirror whether the user receives from the person.
func (w *Worker) sendContact(ctx context.Context, payload []byte) error {
	ctx, span := tracer.Start(ctx, "Worker.SendContact")
	defer span.End()

	var job ContactJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return errors.Wrap(err, "bad contact job")
	}

	contact, err := w.store.GetContact(ctx, job.UserID, job.PersonID)
	if err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "contact of user %d with person %d", job.UserID, job.PersonID)
	}
	own, err := w.store.GetPersonByOwner(ctx, job.UserID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	recipient, err := w.store.GetPersonByID(ctx, job.PersonID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	entity := &entities.Contact{
		Author:    own.Handle,
		Recipient: recipient.Handle,
		Following: contact.Receiving,
		Sharing:   contact.Receiving,
	}
	return w.dispatcher.Dispatch(ctx, own.Handle, entity, []types.Person{recipient})
}
