// Package coherence defines the messages of the directory coherence protocol
// and the table that decides how the directory reacts to each request.
package coherence

import (
	"fmt"

	"github.com/rs/xid"
)

// MsgType is the kind of a coherence message.
type MsgType int

// Requests sent by private caches to the directory.
const (
	ReadReq MsgType = iota
	FetchReq
	UpgradeReq
	WriteReq
	EvictClean
	EvictWritable
	EvictDirty

	numRequestTypes
)

// Snoops sent by the directory to private caches.
const (
	NoSnoop MsgType = iota + 100
	Invalidate
	ReturnReq
	ReturnInvalidate
)

// Replies to snoops.
const (
	InvalidateAck MsgType = iota + 200
	InvUpdateAck
	ReturnReply
	ReturnReplyDirty
	SnoopNAck
)

// Responses delivered to the requester.
const (
	NoResponse MsgType = iota + 300
	MissReply
	MissReplyWritable
	MissReplyDirty
	UpgradeReply
	FwdReplyOwned
	FwdReplyDirty
	EvictAck
)

var msgTypeNames = map[MsgType]string{
	ReadReq:           "ReadReq",
	FetchReq:          "FetchReq",
	UpgradeReq:        "UpgradeReq",
	WriteReq:          "WriteReq",
	EvictClean:        "EvictClean",
	EvictWritable:     "EvictWritable",
	EvictDirty:        "EvictDirty",
	NoSnoop:           "NoSnoop",
	Invalidate:        "Invalidate",
	ReturnReq:         "ReturnReq",
	ReturnInvalidate:  "ReturnInvalidate",
	InvalidateAck:     "InvalidateAck",
	InvUpdateAck:      "InvUpdateAck",
	ReturnReply:       "ReturnReply",
	ReturnReplyDirty:  "ReturnReplyDirty",
	SnoopNAck:         "SnoopNAck",
	NoResponse:        "NoResponse",
	MissReply:         "MissReply",
	MissReplyWritable: "MissReplyWritable",
	MissReplyDirty:    "MissReplyDirty",
	UpgradeReply:      "UpgradeReply",
	FwdReplyOwned:     "FwdReplyOwned",
	FwdReplyDirty:     "FwdReplyDirty",
	EvictAck:          "EvictAck",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("MsgType(%d)", int(t))
}

// IsRequest tells if the message is sent by a private cache to start a
// transaction.
func (t MsgType) IsRequest() bool {
	return t >= ReadReq && t < numRequestTypes
}

// IsEviction tells if the request announces that the cache dropped a block.
func (t MsgType) IsEviction() bool {
	return t == EvictClean || t == EvictWritable || t == EvictDirty
}

// IsSnoop tells if the message is sent by the directory to a sharer.
func (t MsgType) IsSnoop() bool {
	return t == Invalidate || t == ReturnReq || t == ReturnInvalidate
}

// IsSnoopReply tells if the message answers a snoop.
func (t MsgType) IsSnoopReply() bool {
	return t >= InvalidateAck && t <= SnoopNAck
}

// IsResponse tells if the message completes a request at the requester.
func (t MsgType) IsResponse() bool {
	return t > NoResponse && t <= EvictAck
}

// SuppliesData tells if the snoop reply carries the block.
func (t MsgType) SuppliesData() bool {
	return t == ReturnReply || t == ReturnReplyDirty || t == InvUpdateAck
}

// CarriesData tells if the response delivers the block to the requester.
func (t MsgType) CarriesData() bool {
	switch t {
	case MissReply, MissReplyWritable, MissReplyDirty,
		FwdReplyOwned, FwdReplyDirty:
		return true
	}

	return false
}

// Writable tells if the response grants write permission.
func (t MsgType) Writable() bool {
	switch t {
	case MissReplyWritable, MissReplyDirty, UpgradeReply, FwdReplyDirty:
		return true
	}

	return false
}

// Msg is a message of the coherence protocol. Nodes are numbered with cores
// first and directory banks after them.
type Msg struct {
	ID    string
	TxnID string
	Type  MsgType

	Src int
	Dst int

	Addr      uint64
	Requester int

	// FwdTo is the node that a snooped core sends the block to directly,
	// or -1 if the block returns to the directory.
	FwdTo   int
	FwdType MsgType

	// ForEvict marks snoops and replies that drain the eviction buffer.
	ForEvict bool

	// EvictInFlight is set on a snoop reply when the replying core has
	// already sent an eviction for the block.
	EvictInFlight bool

	// ExtraDelay is the number of cycles added on top of the network
	// latency, for example to model a memory access.
	ExtraDelay int
}

func (m *Msg) String() string {
	return fmt.Sprintf("%s[%s] %d->%d addr 0x%x req %d",
		m.Type, m.ID, m.Src, m.Dst, m.Addr, m.Requester)
}

// MsgBuilder can build coherence messages.
type MsgBuilder struct {
	msgType    MsgType
	src, dst   int
	addr       uint64
	requester  int
	txnID      string
	fwdTo      int
	fwdType    MsgType
	forEvict   bool
	extraDelay int
}

// MakeMsgBuilder creates a MsgBuilder.
func MakeMsgBuilder() MsgBuilder {
	return MsgBuilder{
		fwdTo:   -1,
		fwdType: NoResponse,
	}
}

// WithType sets the type of the message.
func (b MsgBuilder) WithType(t MsgType) MsgBuilder {
	b.msgType = t
	return b
}

// WithSrc sets the source node.
func (b MsgBuilder) WithSrc(src int) MsgBuilder {
	b.src = src
	return b
}

// WithDst sets the destination node.
func (b MsgBuilder) WithDst(dst int) MsgBuilder {
	b.dst = dst
	return b
}

// WithAddr sets the block address.
func (b MsgBuilder) WithAddr(addr uint64) MsgBuilder {
	b.addr = addr
	return b
}

// WithRequester sets the core that started the transaction.
func (b MsgBuilder) WithRequester(core int) MsgBuilder {
	b.requester = core
	return b
}

// WithTxnID sets the transaction that the message belongs to.
func (b MsgBuilder) WithTxnID(id string) MsgBuilder {
	b.txnID = id
	return b
}

// WithForward asks the snooped core to send the block to the node directly
// with the given response type.
func (b MsgBuilder) WithForward(node int, rsp MsgType) MsgBuilder {
	b.fwdTo = node
	b.fwdType = rsp

	return b
}

// ForEvict marks the message as part of an eviction-buffer drain.
func (b MsgBuilder) ForEvict() MsgBuilder {
	b.forEvict = true
	return b
}

// WithExtraDelay adds cycles on top of the network latency.
func (b MsgBuilder) WithExtraDelay(cycles int) MsgBuilder {
	b.extraDelay = cycles
	return b
}

// Build creates the message.
func (b MsgBuilder) Build() *Msg {
	m := &Msg{
		ID:         xid.New().String(),
		TxnID:      b.txnID,
		Type:       b.msgType,
		Src:        b.src,
		Dst:        b.dst,
		Addr:       b.addr,
		Requester:  b.requester,
		FwdTo:      b.fwdTo,
		FwdType:    b.fwdType,
		ForEvict:   b.forEvict,
		ExtraDelay: b.extraDelay,
	}

	if m.TxnID == "" {
		m.TxnID = m.ID
	}

	return m
}
