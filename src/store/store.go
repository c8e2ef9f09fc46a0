package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/stake-plus/questdao/src/types"
	"gorm.io/gorm"
)

// Store is the persistence layer for quests, votes, bettings and rewards.
// Every mutation that guards a concurrent invariant is a single conditional
// statement; nothing here relies on a read followed by a write.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn against a store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, now: s.now})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

func notFound(err error, what string, key interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, key, types.ErrNotFound)
	}
	return err
}

// naturalKey hashes parts into a positive 63-bit identifier so it fits
// signed BIGINT columns on every driver.
func naturalKey(seed uint64, parts ...interface{}) uint64 {
	h := xxhash.NewS64(seed)
	var buf [8]byte
	for _, p := range parts {
		switch v := p.(type) {
		case uint64:
			binary.LittleEndian.PutUint64(buf[:], v)
			h.Write(buf[:])
		case string:
			h.Write([]byte(v))
		default:
			h.Write([]byte(fmt.Sprint(v)))
		}
		h.Write([]byte{0})
	}
	return h.Sum64() & math.MaxInt64
}
