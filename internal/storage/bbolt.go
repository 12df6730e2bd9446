package storage

import (
	"fmt"
	"time"

	"roomchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketIdentity  = []byte("identity")
	keyLastIdentity = []byte("last")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdentity)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveIdentity remembers the identity for the next run.
func (s *BboltStorage) SaveIdentity(id models.Identity) error {
	return s.put(bucketIdentity, &DBIdentity{
		Username: id.Username,
		Room:     id.Room,
		SavedAt:  s.now().Unix(),
	})
}

// LoadIdentity returns the last saved identity or models.ErrNotFound.
func (s *BboltStorage) LoadIdentity() (models.Identity, error) {
	var dbIdentity DBIdentity
	found, err := s.get(bucketIdentity, keyLastIdentity, &dbIdentity)
	if err != nil {
		return models.Identity{}, err
	}
	if !found {
		return models.Identity{}, models.ErrNotFound
	}
	return models.Identity{Username: dbIdentity.Username, Room: dbIdentity.Room}, nil
}

// ForgetIdentity removes the saved identity.
func (s *BboltStorage) ForgetIdentity() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Delete(keyLastIdentity)
	})
}

func (s *BboltStorage) put(bucket []byte, item Storeable) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := item.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal %s record: %w", bucket, err)
		}
		return tx.Bucket(bucket).Put(item.Key(), data)
	})
}

func (s *BboltStorage) get(bucket, key []byte, item Storeable) (bool, error) {
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return item.UnmarshalBinary(data)
	})
	return found, err
}
