package storage

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mr-tron/base58"
	bolt "go.etcd.io/bbolt"

	"github.com/illarion/credvault/internal/crypto"
)

// Bucket names
var (
	ConfigBucket = []byte("config") // format version, timestamps, vault ID - unencrypted
	UsersBucket  = []byte("users")  // one nested bucket per account
)

// Config keys
var (
	ConfigVersion  = []byte("version")
	ConfigCreated  = []byte("created")
	ConfigModified = []byte("modified")
	ConfigVaultID  = []byte("vault_id")
)

// Account keys, inside each account bucket
var (
	UserSalt     = []byte("salt")
	UserHash     = []byte("hash")
	UserCost     = []byte("cost")
	UserLogins   = []byte("logins") // sealed login table
	UserCreated  = []byte("created")
	UserModified = []byte("modified")
	UserFailures = []byte("failures") // recent failed logins, oldest first
)

// FormatVersion is written to new databases.
const FormatVersion = "2"

var (
	ErrNotInitialized = errors.New("database not initialized")
	ErrUserExists     = errors.New("user already exists")
	ErrUserNotFound   = errors.New("user not found")
)

// Account is the unencrypted part of a user record. Salt and Hash are needed before
// the password can be checked, so they are stored in the clear.
type Account struct {
	Name     string
	Salt     []byte
	Hash     []byte
	Cost     crypto.Cost
	Created  time.Time
	Modified time.Time
	// Failures holds the times of recent failed logins, oldest first.
	Failures []time.Time
}

// Storage provides BBolt-based storage for credvault
type Storage struct {
	db *bolt.DB
}

// Open opens or creates a vault database
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Initialize creates the bucket structure for a new vault
func (s *Storage) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, UsersBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if err := config.Put(ConfigVersion, []byte(FormatVersion)); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil && tx.Bucket(UsersBucket) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

func usersBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	users := tx.Bucket(UsersBucket)
	if users == nil {
		return nil, ErrNotInitialized
	}
	return users, nil
}

func userBucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	users, err := usersBucket(tx)
	if err != nil {
		return nil, err
	}
	user := users.Bucket([]byte(name))
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, name)
	}
	return user, nil
}

func putTime(b *bolt.Bucket, key []byte, t time.Time) error {
	data, err := t.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getTime(b *bolt.Bucket, key []byte) time.Time {
	var t time.Time
	if data := b.Get(key); data != nil {
		_ = t.UnmarshalBinary(data)
	}
	return t
}

func putCredentials(b *bolt.Bucket, salt, hash []byte, cost crypto.Cost) error {
	costData, err := json.Marshal(cost)
	if err != nil {
		return fmt.Errorf("failed to encode cost: %w", err)
	}
	if err := b.Put(UserSalt, salt); err != nil {
		return err
	}
	if err := b.Put(UserHash, hash); err != nil {
		return err
	}
	return b.Put(UserCost, costData)
}

// CreateUser stores a new account together with its first sealed login table.
func (s *Storage) CreateUser(acc Account, logins []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		users, err := usersBucket(tx)
		if err != nil {
			return err
		}
		if users.Bucket([]byte(acc.Name)) != nil {
			return fmt.Errorf("%w: %s", ErrUserExists, acc.Name)
		}
		user, err := users.CreateBucket([]byte(acc.Name))
		if err != nil {
			return fmt.Errorf("failed to create user bucket: %w", err)
		}

		if err := putCredentials(user, acc.Salt, acc.Hash, acc.Cost); err != nil {
			return err
		}
		if logins != nil {
			if err := user.Put(UserLogins, logins); err != nil {
				return err
			}
		}
		now := time.Now()
		if err := putTime(user, UserCreated, now); err != nil {
			return err
		}
		return putTime(user, UserModified, now)
	})
}

// GetUser reads an account record
func (s *Storage) GetUser(name string) (*Account, error) {
	var acc *Account
	err := s.db.View(func(tx *bolt.Tx) error {
		user, err := userBucket(tx, name)
		if err != nil {
			return err
		}

		a := &Account{
			Name:     name,
			Salt:     append([]byte(nil), user.Get(UserSalt)...),
			Hash:     append([]byte(nil), user.Get(UserHash)...),
			Created:  getTime(user, UserCreated),
			Modified: getTime(user, UserModified),
		}
		if data := user.Get(UserCost); data != nil {
			if err := json.Unmarshal(data, &a.Cost); err != nil {
				return fmt.Errorf("failed to decode cost: %w", err)
			}
		}
		if len(a.Salt) == 0 || len(a.Hash) == 0 {
			return fmt.Errorf("account %s is incomplete", name)
		}
		failures, err := getFailures(user)
		if err != nil {
			return err
		}
		a.Failures = failures
		acc = a
		return nil
	})
	return acc, err
}

// ListUsers returns all account names in key order
func (s *Storage) ListUsers() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		users, err := usersBucket(tx)
		if err != nil {
			return err
		}
		return users.ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// DeleteUser removes an account and its logins
func (s *Storage) DeleteUser(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		users, err := usersBucket(tx)
		if err != nil {
			return err
		}
		if err := users.DeleteBucket([]byte(name)); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return fmt.Errorf("%w: %s", ErrUserNotFound, name)
			}
			return err
		}
		return nil
	})
}

// UpdateCredentials replaces salt, hash, cost and the sealed login table in one
// transaction, so a password change never leaves logins sealed under the old key.
func (s *Storage) UpdateCredentials(name string, salt, hash []byte, cost crypto.Cost, logins []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user, err := userBucket(tx, name)
		if err != nil {
			return err
		}
		if err := putCredentials(user, salt, hash, cost); err != nil {
			return err
		}
		if err := user.Put(UserLogins, logins); err != nil {
			return err
		}
		return putTime(user, UserModified, time.Now())
	})
}

func getFailures(b *bolt.Bucket) ([]time.Time, error) {
	data := b.Get(UserFailures)
	if data == nil {
		return nil, nil
	}
	var failures []time.Time
	if err := json.Unmarshal(data, &failures); err != nil {
		return nil, fmt.Errorf("failed to decode login failures: %w", err)
	}
	return failures, nil
}

// RecordLoginFailure appends a failed login at time at. Failures before since are
// dropped and at most keep of the newest are retained.
func (s *Storage) RecordLoginFailure(name string, at, since time.Time, keep int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user, err := userBucket(tx, name)
		if err != nil {
			return err
		}
		failures, err := getFailures(user)
		if err != nil {
			return err
		}

		kept := failures[:0]
		for _, f := range failures {
			if !f.Before(since) {
				kept = append(kept, f)
			}
		}
		kept = append(kept, at)
		if keep > 0 && len(kept) > keep {
			kept = kept[len(kept)-keep:]
		}

		data, err := json.Marshal(kept)
		if err != nil {
			return fmt.Errorf("failed to encode login failures: %w", err)
		}
		return user.Put(UserFailures, data)
	})
}

// ClearLoginFailures forgets the failed logins of an account
func (s *Storage) ClearLoginFailures(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user, err := userBucket(tx, name)
		if err != nil {
			return err
		}
		return user.Delete(UserFailures)
	})
}

// StoreLogins replaces the sealed login table of an account
func (s *Storage) StoreLogins(name string, logins []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user, err := userBucket(tx, name)
		if err != nil {
			return err
		}
		if err := user.Put(UserLogins, logins); err != nil {
			return err
		}
		return putTime(user, UserModified, time.Now())
	})
}

// GetLogins returns the sealed login table, or nil if none was stored yet
func (s *Storage) GetLogins(name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		user, err := userBucket(tx, name)
		if err != nil {
			return err
		}
		if v := user.Get(UserLogins); v != nil {
			// Make a copy since the slice is only valid during the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, err
}

// UpdateModified updates the vault's last modified timestamp
func (s *Storage) UpdateModified() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		return putTime(config, ConfigModified, time.Now())
	})
}

// GetModified retrieves the vault's last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

// GetCreated retrieves the vault's creation timestamp
func (s *Storage) GetCreated() (time.Time, error) {
	var created time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		created = getTime(config, ConfigCreated)
		return nil
	})
	return created, err
}

// GetVaultID retrieves the vault ID from config bucket
func (s *Storage) GetVaultID() (string, error) {
	var vaultID string
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		data := config.Get(ConfigVaultID)
		if data == nil {
			return fmt.Errorf("vault_id not found")
		}
		vaultID = string(data)
		return nil
	})
	return vaultID, err
}

// GetOrCreateVaultID retrieves the existing vault ID or generates a new base58 one
func (s *Storage) GetOrCreateVaultID() (string, error) {
	vaultID, err := s.GetVaultID()
	if err == nil {
		return vaultID, nil
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate vault ID: %w", err)
	}
	vaultID = base58.Encode(b)

	err = s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return ErrNotInitialized
		}
		// Another process may have won the race
		if existing := config.Get(ConfigVaultID); existing != nil {
			vaultID = string(existing)
			return nil
		}
		return config.Put(ConfigVaultID, []byte(vaultID))
	})
	if err != nil {
		return "", err
	}

	return vaultID, nil
}

func copyBucket(src, dst *bolt.Bucket) error {
	return src.ForEach(func(k, v []byte) error {
		if v != nil {
			return dst.Put(k, v)
		}
		child, err := dst.CreateBucketIfNotExists(k)
		if err != nil {
			return err
		}
		return copyBucket(src.Bucket(k), child)
	})
}

// Compact creates a compacted copy of the database, removing unused space.
// Deleted accounts and replaced login tables leave free pages behind until then.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets, descending into account buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return copyBucket(srcBucket, dstBucket)
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	s.db, err = bolt.Open(srcPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
