package memvid

// Ticket is a monotonically-numbered authorization token from the control
// plane. SeqNo must strictly increase across applies; CapacityBytes, when
// non-nil, caps the total file size.
type Ticket struct {
	Issuer        string
	SeqNo         int64
	ExpiresInSecs uint64
	CapacityBytes *uint64
}

// NewTicket creates a ticket with the given issuer and sequence number.
func NewTicket(issuer string, seqNo int64) Ticket {
	return Ticket{Issuer: issuer, SeqNo: seqNo}
}

// WithExpiry sets the expiry window in seconds.
func (t Ticket) WithExpiry(secs uint64) Ticket {
	t.ExpiresInSecs = secs

	return t
}

// WithCapacity sets the capacity cap in bytes.
func (t Ticket) WithCapacity(capacity uint64) Ticket {
	t.CapacityBytes = &capacity

	return t
}

// TicketRef is the persisted projection of the most recently applied
// ticket, stored inside the TOC. CapacityBytes == 0 means no enforcement.
type TicketRef struct {
	Issuer        string
	SeqNo         int64
	ExpiresInSecs uint64
	CapacityBytes uint64
}
