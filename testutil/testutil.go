// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/concrnt/ccworld-migration/entities"
	"github.com/concrnt/ccworld-migration/store"
	"github.com/concrnt/ccworld-migration/types"
)

const PodHost = "pod.example"

func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// NewDB opens a migrated sqlite database inside the test's temp dir.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite")), &gorm.Config{
		TranslateError: true,
		Logger:         slogGorm.New(slogGorm.WithLogger(Logger())),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(types.AllModels()...); err != nil {
		t.Fatal(err)
	}
	return db
}

func NewStore(t *testing.T) *store.Store {
	t.Helper()
	return store.NewStore(NewDB(t))
}

var (
	keyMu sync.Mutex
	keys  []*rsa.PrivateKey
)

// Key returns the n-th test key. Keys are generated once per test binary.
func Key(t *testing.T, n int) *rsa.PrivateKey {
	t.Helper()

	keyMu.Lock()
	defer keyMu.Unlock()
	for len(keys) <= n {
		key, err := entities.GenerateKey(1024)
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, key)
	}
	return keys[n]
}

func PublicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()

	pub, err := entities.ExportPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

// RemotePerson stores a remote person owning key.
func RemotePerson(t *testing.T, s *store.Store, handle string, key *rsa.PrivateKey) types.Person {
	t.Helper()

	person, err := s.CreatePerson(context.Background(), types.Person{
		GUID:                entities.NewGUID(),
		Handle:              handle,
		SerializedPublicKey: PublicPEM(t, key),
	}, types.Profile{FirstName: handle})
	if err != nil {
		t.Fatal(err)
	}
	return person
}

// LocalUser stores a local user hosted on PodHost.
func LocalUser(t *testing.T, s *store.Store, username string, key *rsa.PrivateKey) (types.User, types.Person) {
	t.Helper()

	user, person, err := s.CreateUser(context.Background(), types.User{
		Username:             username,
		Email:                username + "@mail.example",
		SerializedPrivateKey: entities.ExportPrivateKey(key),
	}, types.Person{
		GUID:                entities.NewGUID(),
		Handle:              username + "@" + PodHost,
		SerializedPublicKey: PublicPEM(t, key),
	}, types.Profile{FirstName: username})
	if err != nil {
		t.Fatal(err)
	}
	return user, person
}
