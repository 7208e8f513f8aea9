package wallet

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"time"

	"filippo.io/age"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
)

const (
	walletKeyPrefix    = "relay:wallet:"
	tombstoneKeyPrefix = "relay:used:"
)

// Record is the durable copy of a wallet. Key is nil for records returned by
// ScanRecords.
type Record struct {
	Address   string
	Key       solana.PrivateKey
	CreatedAt int64
	Used      bool
	Stranded  bool
}

// Age returns how long ago the record was created.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(r.CreatedAt, 0))
}

// Store persists wallet records in Redis hashes. Key material is age-encrypted
// to the store identity before it is written.
type Store struct {
	rdb      *redis.Client
	identity *age.X25519Identity
}

func NewStore(rdb *redis.Client, identity *age.X25519Identity) *Store {
	return &Store{rdb: rdb, identity: identity}
}

func walletKey(addr string) string    { return walletKeyPrefix + addr }
func tombstoneKey(addr string) string { return tombstoneKeyPrefix + addr }

func (s *Store) Save(ctx context.Context, w *Wallet) error {
	sealed, err := s.seal(w.secret())
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	return s.rdb.HSet(ctx, walletKey(w.Address.String()),
		"address", w.Address.String(),
		"secret", sealed,
		"created_at", w.CreatedAt.Unix(),
		"used", 0,
		"stranded", 0,
	).Err()
}

// Get returns nil, nil when no record exists.
func (s *Store) Get(ctx context.Context, addr string) (*Record, error) {
	vals, err := s.rdb.HGetAll(ctx, walletKey(addr)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	rec := recordFromMap(vals)
	key, err := s.open(vals["secret"])
	if err != nil {
		return nil, fmt.Errorf("open key %s: %w", addr, err)
	}
	rec.Key = key
	return rec, nil
}

// setIfExists sets one hash field only when the hash already exists, so a
// flag written after Delete cannot recreate a partial record.
var setIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// MarkUsed returns ErrWalletNotFound when the record is gone.
func (s *Store) MarkUsed(ctx context.Context, addr string) error {
	return s.setFlag(ctx, addr, "used")
}

// MarkStranded returns ErrWalletNotFound when the record is gone.
func (s *Store) MarkStranded(ctx context.Context, addr string) error {
	return s.setFlag(ctx, addr, "stranded")
}

func (s *Store) setFlag(ctx context.Context, addr, field string) error {
	n, err := setIfExists.Run(ctx, s.rdb, []string{walletKey(addr)}, field, 1).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, addr string) error {
	return s.rdb.Del(ctx, walletKey(addr)).Err()
}

// Tombstone records that addr has been spent so a replayed token cannot
// re-adopt it before the token itself expires.
func (s *Store) Tombstone(ctx context.Context, addr string, ttl time.Duration) error {
	return s.rdb.Set(ctx, tombstoneKey(addr), time.Now().Unix(), ttl).Err()
}

func (s *Store) IsTombstoned(ctx context.Context, addr string) (bool, error) {
	n, err := s.rdb.Exists(ctx, tombstoneKey(addr)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScanRecords returns metadata for every persisted wallet without decrypting
// key material. Address is taken from the Redis key, so a damaged hash can
// still be deleted by it.
func (s *Store) ScanRecords(ctx context.Context) ([]Record, error) {
	var records []Record
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, walletKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan wallets: %w", err)
		}
		for _, key := range keys {
			vals, err := s.rdb.HGetAll(ctx, key).Result()
			if err != nil || len(vals) == 0 {
				continue
			}
			records = append(records, *recordFromMap(vals))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return records, nil
}

func recordFromMap(m map[string]string) *Record {
	createdAt, _ := strconv.ParseInt(m["created_at"], 10, 64)
	return &Record{
		Address:   m["address"],
		CreatedAt: createdAt,
		Used:      m["used"] == "1",
		Stranded:  m["stranded"] == "1",
	}
}

func (s *Store) seal(key []byte) (string, error) {
	if key == nil {
		return "", ErrWalletDestroyed
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return "", err
	}
	if _, err := w.Write(key); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *Store) open(sealed string) (solana.PrivateKey, error) {
	ct, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(ct), s.identity)
	if err != nil {
		return nil, err
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return solana.PrivateKey(key), nil
}
