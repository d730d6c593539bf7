// Package store contains the GORM models persisted by the federation daemon.
//
// Database Structure (database file: federation.db):
//
//	federation.db
//	├── nodes, profiles                 federation directory
//	├── blocks, last_seen_blocks        broadcast log adapter
//	├── logs                            append-only event log
//	├── outbox_messages, inbox_messages point-to-point bus
//	├── shares, share_members           bulk packages and their membership sets
//	├── share_tokens, download_tokens   grants
//	└── cases, files, code_systems, ... shareable entities
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base is embedded by entities whose local key is assigned by the application.
// Imported rows get their key before bulk insert, so the key is a UUID string.
type Base struct {
	ID        string `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a local key when none was set.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Node is a federation peer.
type Node struct {
	Base
	Identifier  string `gorm:"uniqueIndex;not null"`
	Name        string
	APIAddress  string // inbox URL
	Address     string // ledger address used for broadcasts
	Fingerprint string // base58 trust fingerprint
}

// Profile is an addressable principal bound to exactly one Node.
type Profile struct {
	Base
	Identifier   string `gorm:"uniqueIndex;not null"`
	Display      string
	Organization string
	NodeID       *string `gorm:"index;size:36"`
	// Placeholder marks profiles created on the fly while importing foreign rows.
	Placeholder bool
	// CommunicationAllowedWith lists sender identifiers allowed to message this profile.
	CommunicationAllowedWith datatypes.JSONSlice[string]
}

// Allows reports whether sender is on the profile's allow-list.
func (p *Profile) Allows(sender string) bool {
	for _, s := range p.CommunicationAllowedWith {
		if s == sender {
			return true
		}
	}
	return false
}

// Block is one observed broadcast transaction.
type Block struct {
	gorm.Model
	Number        uint64         `gorm:"index;not null"`
	Tx            datatypes.JSON // transaction as observed
	MessageHash   string         `gorm:"uniqueIndex;not null"` // "0x" + tx hash
	Content       datatypes.JSON // fetched payload, null until downloaded
	CID           string         `gorm:"column:cid;index"`
	TxContent     datatypes.JSON // decoded tx input ({"type":"broadcast","cid":...})
	CIDDownloaded bool           `gorm:"column:cid_downloaded;index"`
}

// EventID is the hash of the transaction that carried the broadcast.
func (b *Block) EventID() string {
	return b.MessageHash
}

// TxContentType returns the "type" field of the decoded tx input.
func (b *Block) TxContentType() string {
	var head struct {
		Type string `json:"type"`
	}
	if len(b.TxContent) == 0 || json.Unmarshal(b.TxContent, &head) != nil {
		return ""
	}
	return head.Type
}

func (b *Block) IsBroadcast() bool {
	return b.TxContentType() == "broadcast"
}

func (b *Block) IsDataTransfer() bool {
	return b.TxContentType() == "data-transfer"
}

// LastSeenBlock is the singleton cursor of the highest fully processed height.
type LastSeenBlock struct {
	gorm.Model
	BlockNumber uint64
}

// Log is one decoded domain event.
type Log struct {
	gorm.Model
	EventDate       time.Time
	ActorID         *string `gorm:"index;size:36"`
	ActorIdentifier string  `gorm:"index"`
	ActorDisplay    string
	Object          datatypes.JSON
	Context         datatypes.JSON
	Action          string `gorm:"index"`
	RawMessage      datatypes.JSON
	RawEvent        datatypes.JSON
	EventID         string `gorm:"uniqueIndex:idx_log_event_message;not null"`
	MessageID       string `gorm:"uniqueIndex:idx_log_event_message;not null"`
	BlockNumber     uint64
}

// Box identifies the direction of a Message.
type Box string

const (
	BoxInbox  Box = "inbox"
	BoxOutbox Box = "outbox"
)

// Message carries an envelope plus its delivery bookkeeping.
// A null RecipientID means broadcast.
type Message struct {
	gorm.Model
	Payload      datatypes.JSON `gorm:"column:message"`
	ResponseBody string         `gorm:"type:text"`
	RecipientID  *string        `gorm:"index;size:36"`
	SenderID     string         `gorm:"index;size:36;not null"`
	Box          Box            `gorm:"index;not null"`
	Processed    bool           `gorm:"index"`
	Processing   bool
	Tries        int
	StatusCode   int
	Error        string `gorm:"type:text"`
	ExtraData    datatypes.JSON
}

// OutboxMessage is a message this node sends.
type OutboxMessage struct {
	Message
	RemoteLocation string
}

// BeforeSave pins the box.
func (m *OutboxMessage) BeforeSave(tx *gorm.DB) error {
	m.Box = BoxOutbox
	return nil
}

// InboxMessage is a message received from a peer.
type InboxMessage struct {
	Message
	BusinessKey string `gorm:"index"`
}

// BeforeSave pins the box.
func (m *InboxMessage) BeforeSave(tx *gorm.DB) error {
	m.Box = BoxInbox
	return nil
}

// Project groups shared entities on a node.
type Project struct {
	Base
	Identifier  string `gorm:"uniqueIndex;not null"`
	Name        string
	Description string
	OriginID    *string `gorm:"size:36"`
}

// ProjectMember attaches an entity of some kind to a project.
type ProjectMember struct {
	ProjectID string `gorm:"primaryKey;size:36"`
	Kind      string `gorm:"primaryKey"`
	EntityID  string `gorm:"primaryKey;size:36"`
}

// Share is a bulk package. Content is the transmitted artifact; Snapshot is
// its frozen, compressed CBOR encoding.
type Share struct {
	Base
	Identifier         string `gorm:"uniqueIndex;not null"`
	Name               string
	Description        string
	Type               string
	Content            datatypes.JSON
	Snapshot           []byte
	SnapshotDigest     string
	FileQuery          string
	ProjectID          *string `gorm:"size:36"`
	GroundTruth        string
	GroundTruthSchema  string
	PreviousIdentifier string
	OriginID           *string `gorm:"size:36"`
	CreatedByID        *string `gorm:"size:36"`
}

// ShareMember records membership of one entity in a share.
type ShareMember struct {
	ShareID  string `gorm:"primaryKey;size:36"`
	Kind     string `gorm:"primaryKey"`
	EntityID string `gorm:"primaryKey;size:36"`
}

// ShareToken binds a Share to one recipient for a bounded time.
type ShareToken struct {
	Base
	Identifier        string  `gorm:"uniqueIndex;not null"`
	ShareID           string  `gorm:"index;size:36;not null"`
	RecipientID       string  `gorm:"index;size:36;not null"`
	CreatedByID       *string `gorm:"size:36"`
	ProjectIdentifier string
	ValidFrom         time.Time
	ValidUntil        time.Time
}

// IsValid reports whether now lies within the validity window, bounds included.
func (t *ShareToken) IsValid(now time.Time) bool {
	return !now.Before(t.ValidFrom) && !now.After(t.ValidUntil)
}

// Validate checks the validity window.
func (t *ShareToken) Validate() error {
	if t.ValidUntil.Before(t.ValidFrom) {
		return errors.New("valid_until must not be before valid_from")
	}
	return nil
}

// DownloadToken is a short-lived single-use credential for one file.
type DownloadToken struct {
	Base
	Token     string `gorm:"uniqueIndex;not null"`
	FileID    string `gorm:"index;size:36;not null"`
	ProfileID string `gorm:"size:36"`
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// ContentObject is a blob held by the local content store.
type ContentObject struct {
	CID       string `gorm:"column:cid;primaryKey"`
	Data      []byte // zstd compressed
	Size      int
	CreatedAt time.Time
}
