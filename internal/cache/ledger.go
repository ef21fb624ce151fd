package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Upload records one confirmed upload
type Upload struct {
	EntityID   string    `json:"entity_id"`
	Key        string    `json:"key"`
	RemoteURL  string    `json:"remote_url"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Ledger remembers which entities were already uploaded to a container,
// so a rerun over the same input can skip them
type Ledger struct {
	store     Store
	namespace string
	ttl       time.Duration
}

// NewLedger creates a ledger scoped to namespace (the destination container)
func NewLedger(store Store, namespace string, ttl time.Duration) *Ledger {
	return &Ledger{
		store:     store,
		namespace: namespace,
		ttl:       ttl,
	}
}

// MarkUploaded records a confirmed upload
func (l *Ledger) MarkUploaded(u Upload) error {
	if u.UploadedAt.IsZero() {
		u.UploadedAt = time.Now().UTC()
	}

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal upload: %w", err)
	}
	if err := l.store.Set(l.key(u.EntityID), data, l.ttl); err != nil {
		return fmt.Errorf("record upload of %s: %w", u.EntityID, err)
	}
	return nil
}

// Uploaded returns the upload record for entityID, if any
func (l *Ledger) Uploaded(entityID string) (Upload, bool) {
	data, ok := l.store.Get(l.key(entityID))
	if !ok {
		return Upload{}, false
	}

	var u Upload
	if err := json.Unmarshal(data, &u); err != nil {
		return Upload{}, false
	}
	return u, true
}

// Forget drops the record for entityID
func (l *Ledger) Forget(entityID string) error {
	return l.store.Delete(l.key(entityID))
}

// key hashes namespace and id into a file-name safe key
func (l *Ledger) key(entityID string) string {
	hash := sha256.Sum256([]byte(l.namespace + "/" + entityID))
	return "proofpack-v1-" + hex.EncodeToString(hash[:])
}
