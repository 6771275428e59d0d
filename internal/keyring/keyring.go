package keyring

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const serviceName = "credvault"

// ErrNotFound is returned when no password is stored for an account
var ErrNotFound = keyring.ErrNotFound

// account names one vault user in the OS keyring
func account(vaultID, user string) string {
	return vaultID + "/" + user
}

// SavePassword stores a user's password in the OS keyring
func SavePassword(vaultID, user string, password []byte) error {
	return keyring.Set(serviceName, account(vaultID, user), string(password))
}

// GetPassword retrieves a user's password from the OS keyring
func GetPassword(vaultID, user string) ([]byte, error) {
	secret, err := keyring.Get(serviceName, account(vaultID, user))
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

// DeletePassword removes a user's password from the OS keyring. A missing entry is
// not an error.
func DeletePassword(vaultID, user string) error {
	err := keyring.Delete(serviceName, account(vaultID, user))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// HasPassword checks if a password is stored for the user
func HasPassword(vaultID, user string) bool {
	_, err := keyring.Get(serviceName, account(vaultID, user))
	return err == nil
}
