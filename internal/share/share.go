// Package share stores learner code snapshots behind shareable links.
//
// Short links point at a stored snapshot ({base}/s/{id}). Long links carry
// the snapshot itself, snappy-compressed and base64url-encoded in the query
// string, and need no storage.
package share

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/golang/snappy"
)

// ErrNotFound is returned when a snapshot id is unknown.
var ErrNotFound = errors.New("share: snapshot not found")

// maxLongPayload bounds a decoded long-link payload.
const maxLongPayload = 1 << 20

// Snapshot is a saved copy of a learner's editors.
type Snapshot struct {
	Lab       string    `json:"lab"`
	HTML      string    `json:"html"`
	CSS       string    `json:"css"`
	JS        string    `json:"js"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Store persists snapshots.
type Store interface {
	Save(ctx context.Context, s Snapshot) (string, error)
	Get(ctx context.Context, id string) (Snapshot, error)
	Close() error
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// idLength is the length of short link ids.
const idLength = 10

// NewID returns a random base62 id.
func NewID() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("share: generate id: %w", err)
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidID reports whether id could have been produced by NewID.
func ValidID(id string) bool {
	if len(id) != idLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(idAlphabet, rune(id[i])) {
			return false
		}
	}
	return true
}

// EncodeLong packs a snapshot into a URL-safe string.
func EncodeLong(s Snapshot) (string, error) {
	s.CreatedAt = time.Time{}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("share: encode snapshot: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(snappy.Encode(nil, data)), nil
}

// DecodeLong unpacks a string produced by EncodeLong.
func DecodeLong(payload string) (Snapshot, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("share: invalid payload encoding: %w", err)
	}
	n, err := snappy.DecodedLen(compressed)
	if err != nil {
		return Snapshot{}, fmt.Errorf("share: invalid payload: %w", err)
	}
	if n > maxLongPayload {
		return Snapshot{}, fmt.Errorf("share: payload too large (%d bytes)", n)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Snapshot{}, fmt.Errorf("share: invalid payload: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("share: invalid payload: %w", err)
	}
	return s, nil
}

// Sharer turns snapshots into links.
type Sharer struct {
	store   Store
	baseURL string
}

// NewSharer creates a Sharer. store may be nil, in which case only long
// links can be produced.
func NewSharer(store Store, baseURL string) *Sharer {
	return &Sharer{store: store, baseURL: strings.TrimRight(baseURL, "/")}
}

// URL returns a short or long link for the snapshot.
func (s *Sharer) URL(ctx context.Context, snap Snapshot, short bool) (string, error) {
	if short {
		if s.store == nil {
			return "", errors.New("share: short links are not configured")
		}
		id, err := s.store.Save(ctx, snap)
		if err != nil {
			return "", err
		}
		return s.baseURL + "/s/" + id, nil
	}

	payload, err := EncodeLong(snap)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("lab", snap.Lab)
	q.Set("code", payload)
	return s.baseURL + "/?" + q.Encode(), nil
}

// Resolve loads a stored snapshot by short id.
func (s *Sharer) Resolve(ctx context.Context, id string) (Snapshot, error) {
	if s.store == nil || !ValidID(id) {
		return Snapshot{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}
