// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sync

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/baebaebaebaebae/bae/go/libraries/baecore/keystore"
)

// MembershipAction is the operation a membership entry records.
type MembershipAction string

// MemberRole is a member's authority level. Only owners may extend the
// chain.
type MemberRole string

const (
	ActionAdd    MembershipAction = "Add"
	ActionRemove MembershipAction = "Remove"

	RoleOwner  MemberRole = "Owner"
	RoleMember MemberRole = "Member"
)

// MembershipEntry is one signed entry in a library's membership chain.
// Keys and signature are hex-encoded Ed25519 values.
type MembershipEntry struct {
	Action       MembershipAction `json:"action"`
	UserPubKey   string           `json:"user_pubkey"`
	Role         MemberRole       `json:"role"`
	Timestamp    string           `json:"timestamp"`
	AuthorPubKey string           `json:"author_pubkey"`
	Signature    string           `json:"signature"`
}

// Membership chain validation errors. A library whose chain fails
// validation is treated as unreadable until it becomes valid again.
var (
	ErrInvalidFirstEntry = errors.New("first entry must be a self-signed owner Add")
	ErrEmptyChain        = errors.New("membership chain is empty")
)

// InvalidSignatureError identifies the entry whose signature rejected.
type InvalidSignatureError struct {
	Index int
}

func (e InvalidSignatureError) Error() string {
	return fmt.Sprintf("entry at index %d has an invalid signature", e.Index)
}

// NotAnOwnerError identifies an entry whose author was not an owner at that
// point in the chain.
type NotAnOwnerError struct {
	Index int
}

func (e NotAnOwnerError) Error() string {
	return fmt.Sprintf("entry at index %d: author is not an owner at that point in the chain", e.Index)
}

// IsMembershipInvalid reports whether err is any chain-validation failure.
func IsMembershipInvalid(err error) bool {
	var sigErr InvalidSignatureError
	var ownerErr NotAnOwnerError
	return errors.Is(err, ErrInvalidFirstEntry) || errors.Is(err, ErrEmptyChain) ||
		errors.As(err, &sigErr) || errors.As(err, &ownerErr)
}

// canonicalEntry fixes the field order of the signed serialization: all
// fields except the signature, keys in lexicographic order. The layout is
// wire-visible; reordering breaks every existing signature.
type canonicalEntry struct {
	Action       MembershipAction `json:"action"`
	AuthorPubKey string           `json:"author_pubkey"`
	Role         MemberRole       `json:"role"`
	Timestamp    string           `json:"timestamp"`
	UserPubKey   string           `json:"user_pubkey"`
}

// CanonicalBytes returns the deterministic serialization the signature
// covers.
func CanonicalBytes(entry MembershipEntry) ([]byte, error) {
	return json.Marshal(canonicalEntry{
		Action:       entry.Action,
		AuthorPubKey: entry.AuthorPubKey,
		Role:         entry.Role,
		Timestamp:    entry.Timestamp,
		UserPubKey:   entry.UserPubKey,
	})
}

// SignEntry sets the author key and signature on an entry using the given
// keypair.
func SignEntry(entry *MembershipEntry, kp keystore.DeviceKeypair) error {
	entry.AuthorPubKey = kp.PubKeyHex()
	data, err := CanonicalBytes(*entry)
	if err != nil {
		return err
	}
	entry.Signature = hex.EncodeToString(ed25519.Sign(kp.PrivKey, data))
	return nil
}

// VerifyEntry reports whether an entry's signature is valid for its author
// key.
func VerifyEntry(entry MembershipEntry) bool {
	pub, err := hex.DecodeString(entry.AuthorPubKey)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(entry.Signature)
	if err != nil {
		return false
	}
	data, err := CanonicalBytes(entry)
	if err != nil {
		return false
	}
	return keystore.Verify(pub, sig, data)
}

// MembershipChain is the append-only signed log authorizing access to a
// shared library. Entries are ordered by timestamp; HLC string comparison
// gives causal order. The chain lives only in the bucket, never in the
// relational store.
type MembershipChain struct {
	entries []MembershipEntry
}

// NewMembershipChain returns an empty chain.
func NewMembershipChain() *MembershipChain {
	return &MembershipChain{}
}

// MembershipChainFromEntries sorts downloaded entries by timestamp and
// validates the result.
func MembershipChainFromEntries(entries []MembershipEntry) (*MembershipChain, error) {
	sorted := append([]MembershipEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	chain := &MembershipChain{entries: sorted}
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return chain, nil
}

// Entries returns the chain's entries in timestamp order.
func (c *MembershipChain) Entries() []MembershipEntry {
	return c.entries
}

// Validate enforces the full rule set: the first entry is a self-signed
// owner Add, every signature verifies, and every later entry's author is an
// owner at that point in the chain.
func (c *MembershipChain) Validate() error {
	if len(c.entries) == 0 {
		return ErrEmptyChain
	}

	first := c.entries[0]
	if first.Action != ActionAdd || first.Role != RoleOwner || first.AuthorPubKey != first.UserPubKey {
		return ErrInvalidFirstEntry
	}
	if !VerifyEntry(first) {
		return InvalidSignatureError{Index: 0}
	}

	active := map[string]MemberRole{first.UserPubKey: first.Role}

	for i, entry := range c.entries[1:] {
		idx := i + 1
		if !VerifyEntry(entry) {
			return InvalidSignatureError{Index: idx}
		}
		if active[entry.AuthorPubKey] != RoleOwner {
			return NotAnOwnerError{Index: idx}
		}

		switch entry.Action {
		case ActionAdd:
			active[entry.UserPubKey] = entry.Role
		case ActionRemove:
			delete(active, entry.UserPubKey)
		}
	}
	return nil
}

// AddEntry validates an entry against the current member set and appends
// it.
func (c *MembershipChain) AddEntry(entry MembershipEntry) error {
	if len(c.entries) == 0 {
		if entry.Action != ActionAdd || entry.Role != RoleOwner || entry.AuthorPubKey != entry.UserPubKey {
			return ErrInvalidFirstEntry
		}
		if !VerifyEntry(entry) {
			return InvalidSignatureError{Index: 0}
		}
		c.entries = append(c.entries, entry)
		return nil
	}

	if !VerifyEntry(entry) {
		return InvalidSignatureError{Index: len(c.entries)}
	}

	isOwner := false
	for _, m := range c.CurrentMembers() {
		if m.PubKey == entry.AuthorPubKey && m.Role == RoleOwner {
			isOwner = true
			break
		}
	}
	if !isOwner {
		return NotAnOwnerError{Index: len(c.entries)}
	}

	c.entries = append(c.entries, entry)
	return nil
}

// IsMemberAt replays the chain up to and including the given timestamp and
// reports whether pubkey was an active member.
func (c *MembershipChain) IsMemberAt(pubKeyHex, timestamp string) bool {
	active := map[string]bool{}
	for _, entry := range c.entries {
		if entry.Timestamp > timestamp {
			break
		}
		switch entry.Action {
		case ActionAdd:
			active[entry.UserPubKey] = true
		case ActionRemove:
			delete(active, entry.UserPubKey)
		}
	}
	return active[pubKeyHex]
}

// Member is an active chain member with its role.
type Member struct {
	PubKey string
	Role   MemberRole
}

// CurrentMembers returns the active member set after replaying the whole
// chain. An Add for an existing pubkey is a role change; Remove is
// idempotent.
func (c *MembershipChain) CurrentMembers() []Member {
	var members []Member
	drop := func(pubKey string) {
		kept := members[:0]
		for _, m := range members {
			if m.PubKey != pubKey {
				kept = append(kept, m)
			}
		}
		members = kept
	}

	for _, entry := range c.entries {
		drop(entry.UserPubKey)
		if entry.Action == ActionAdd {
			members = append(members, Member{PubKey: entry.UserPubKey, Role: entry.Role})
		}
	}
	return members
}
