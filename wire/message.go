// Package wire defines the protocol messages carried between nodes
// (spec.md §3, §6): the tagged Bracha and CT-RBC message unions, and
// the authenticated Wrapper envelope every frame travels in.
package wire

import (
	"github.com/rbc-go/rbc/crypto"
	"github.com/rbc-go/rbc/crypto/merkle"
	"github.com/rbc-go/rbc/types"
)

// Tag identifies which protocol variant and phase a message carries.
type Tag uint8

const (
	TagBrachaInit Tag = iota
	TagBrachaEcho
	TagBrachaReady
	TagCTRBCInit
	TagCTRBCEcho
	TagCTRBCReady
)

func (t Tag) String() string {
	switch t {
	case TagBrachaInit:
		return "BrachaInit"
	case TagBrachaEcho:
		return "BrachaEcho"
	case TagBrachaReady:
		return "BrachaReady"
	case TagCTRBCInit:
		return "CTRBCInit"
	case TagCTRBCEcho:
		return "CTRBCEcho"
	case TagCTRBCReady:
		return "CTRBCReady"
	default:
		return "Unknown"
	}
}

// Message is implemented by every concrete protocol message. Tag and
// Instance identify a decoded Inner's phase and instance; the
// dispatcher itself routes with a type switch over the concrete
// message types (spec.md §9: "tagged-union representation with
// exhaustive matching, not inheritance").
type Message interface {
	Tag() Tag
	Instance() types.InstanceID
}

// BrachaInit is the dealer's first-phase message: the full payload.
type BrachaInit struct {
	InstanceID types.InstanceID
	Payload    []byte
	Origin     types.Replica
}

func (m BrachaInit) Tag() Tag                   { return TagBrachaInit }
func (m BrachaInit) Instance() types.InstanceID { return m.InstanceID }

// BrachaEcho is the second-phase Bracha message.
type BrachaEcho struct {
	InstanceID types.InstanceID
	Payload    []byte
	Origin     types.Replica
}

func (m BrachaEcho) Tag() Tag                   { return TagBrachaEcho }
func (m BrachaEcho) Instance() types.InstanceID { return m.InstanceID }

// BrachaReady is the third-phase Bracha message.
type BrachaReady struct {
	InstanceID types.InstanceID
	Payload    []byte
	Origin     types.Replica
}

func (m BrachaReady) Tag() Tag                   { return TagBrachaReady }
func (m BrachaReady) Instance() types.InstanceID { return m.InstanceID }

// CTRBCInit is the dealer's first-phase CT-RBC message: one shard and
// its Merkle proof.
type CTRBCInit struct {
	InstanceID types.InstanceID
	Shard      []byte
	Proof      merkle.Proof
	Origin     types.Replica
}

func (m CTRBCInit) Tag() Tag                   { return TagCTRBCInit }
func (m CTRBCInit) Instance() types.InstanceID { return m.InstanceID }

// CTRBCEcho forwards the sender's own shard and proof (spec.md §9
// open question, resolved in DESIGN.md: ECHO always forwards the
// sender's shard).
type CTRBCEcho struct {
	InstanceID types.InstanceID
	Shard      []byte
	Proof      merkle.Proof
	Origin     types.Replica
}

func (m CTRBCEcho) Tag() Tag                   { return TagCTRBCEcho }
func (m CTRBCEcho) Instance() types.InstanceID { return m.InstanceID }

// CTRBCReady carries only the root by default, optionally a shard to
// help peers that are still short of the reconstruction threshold
// (spec.md §3). A carried shard always comes with its Merkle proof, so
// a receiver can verify it before admitting it into shards_received —
// READY is held to the same authentication bar as ECHO.
type CTRBCReady struct {
	InstanceID types.InstanceID
	Root       crypto.Hash
	Origin     types.Replica
	Shard      []byte       // optional, may be nil
	Proof      merkle.Proof // valid only when Shard is non-nil
}

func (m CTRBCReady) Tag() Tag                   { return TagCTRBCReady }
func (m CTRBCReady) Instance() types.InstanceID { return m.InstanceID }

// Wrapper is the authenticated envelope every frame travels in
// (spec.md §3): the inner message, the claimed sender, and a MAC over
// the serialized inner message computed with the sender/receiver
// symmetric key.
type Wrapper struct {
	Inner    Message
	SenderID types.Replica
	MAC      crypto.MAC
}
