package kv

import (
	"database/sql"
	"strings"
	"time"
)

// CredentialsBucket is the bucket holding whitelisted bridge usernames.
const CredentialsBucket = "credentials"

// Credential is what pairing with a bridge yields.
type Credential struct {
	Username string    `json:"username"`
	BridgeID string    `json:"bridge_id,omitempty"`
	PairedAt time.Time `json:"paired_at"`
}

// Credentials stores one credential per bridge address.
type Credentials struct {
	bucket *SQLiteBucket
}

// NewCredentials opens the credentials bucket.
func NewCredentials(db *sql.DB) *Credentials {
	return &Credentials{bucket: NewSQLiteBucket(db, CredentialsBucket)}
}

func credentialKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Save records the username for address.
func (c *Credentials) Save(address string, cred Credential) error {
	if cred.PairedAt.IsZero() {
		cred.PairedAt = time.Now().UTC()
	}
	return c.bucket.Store(credentialKey(address), cred, nil)
}

// Username returns the stored username for address, or "" when unpaired.
func (c *Credentials) Username(address string) (string, error) {
	var cred Credential
	ok, err := c.bucket.Load(credentialKey(address), &cred)
	if err != nil || !ok {
		return "", err
	}
	return cred.Username, nil
}

// Forget drops the credential of address.
func (c *Credentials) Forget(address string) error {
	_, err := c.bucket.Delete(credentialKey(address))
	return err
}

// Addresses lists every paired bridge.
func (c *Credentials) Addresses() ([]string, error) {
	return c.bucket.Keys()
}
