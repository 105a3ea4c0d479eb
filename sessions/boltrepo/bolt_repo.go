// Package boltrepo persists sessions in a BBolt database file.
package boltrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/cognito-guard/sessions"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("sessions")

type Repo struct {
	db *bbolt.DB
}

var _ sessions.Repo = (*Repo)(nil)

// New wraps an open database, creating the sessions bucket if needed.
func New(db *bbolt.DB) (*Repo, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating sessions bucket: %w", err)
	}
	return &Repo{db: db}, nil
}

// Open opens (or creates) the database at path.
func Open(path string) (*Repo, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	r, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) Save(ctx context.Context, s *sessions.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(s.ID), data)
	})
}

func (r *Repo) Load(ctx context.Context, id string) (*sessions.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s sessions.Session
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, sessions.ErrNotFound)
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(id))
	})
}

func (r *Repo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var s sessions.Session
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("decoding session %s: %w", k, err)
			}
			if s.Expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}
