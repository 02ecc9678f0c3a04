package migration

import (
	"crypto/rsa"

	"github.com/pkg/errors"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/types"
)

// Migration is a stored account migration together with both identities.
type Migration struct {
	Record    types.AccountMigration
	OldPerson types.Person
	NewPerson types.Person
	OldUser   *types.User
	NewUser   *types.User

	// OldPrivateKey signs for an old identity that is not hosted here.
	OldPrivateKey *rsa.PrivateKey
}

// Performed reports whether the old identity is already tombstoned.
func (m *Migration) Performed() bool {
	return m.OldPerson.ClosedAccount
}

// RemotelyInitiated reports whether another pod hosts the new identity.
func (m *Migration) RemotelyInitiated() bool {
	return m.NewPerson.Remote()
}

func (m *Migration) LocallyInitiated() bool {
	return !m.RemotelyInitiated()
}

func (m *Migration) UserLeft() bool {
	return m.OldUser != nil && m.NewUser == nil
}

func (m *Migration) UserChangedIDLocally() bool {
	return m.OldUser != nil && m.NewUser != nil
}

func (m *Migration) UserArrived() bool {
	return m.OldUser == nil && m.NewUser != nil
}

// senderKey is the key of the old identity: the old user's own key, or the
// one supplied with the migration.
func (m *Migration) senderKey() (*rsa.PrivateKey, error) {
	if m.OldUser != nil && m.OldUser.SerializedPrivateKey != "" {
		return entities.ParsePrivateKey(m.OldUser.SerializedPrivateKey)
	}
	if m.OldPrivateKey == nil {
		return nil, ErrNoPrivateKeyProvided
	}

	pub, err := entities.ParsePublicKey(m.OldPerson.SerializedPublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "old person key")
	}
	if !entities.SamePublicKey(&m.OldPrivateKey.PublicKey, pub) {
		return nil, errors.Wrapf(entities.ErrSignatureVerificationFailed, "private key doesn't belong to %s", m.OldPerson.Handle)
	}
	return m.OldPrivateKey, nil
}

func (m *Migration) signatureData() []byte {
	return entities.MigrationSignatureData(m.OldPerson.Handle, m.NewPerson.Handle)
}

func (m *Migration) signWithOldKey() (string, error) {
	key, err := m.senderKey()
	if err != nil {
		return "", err
	}
	return entities.Sign(key, m.signatureData())
}
