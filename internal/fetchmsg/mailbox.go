// Package fetchmsg folds the attribute list of an untagged FETCH
// response into a FetchMessage record, and carries the shared Mailbox
// state record that FETCH/EXISTS/EXPUNGE processing update in place.
package fetchmsg

// Mailbox is the client's view of the currently selected (or last
// listed) mailbox.
type Mailbox struct {
	Path           string
	Delimiter      string
	Flags          map[string]bool
	PermanentFlags map[string]bool
	SpecialUse     string
	MailboxID      string
	UIDValidity    uint64
	UIDNext        uint32
	Exists         uint32
	HighestModseq  uint64
	NoModseq       bool
	ReadOnly       bool
	Listed         bool
	Subscribed     bool
}

// ObserveUID bumps UIDNext when a freshly observed UID reaches or
// exceeds it: UIDNext always tracks the next UID the server is
// expected to assign.
func (m *Mailbox) ObserveUID(uid uint32) {
	if uid >= m.UIDNext {
		m.UIDNext = uid + 1
	}
}

// ObserveModseq raises HighestModseq monotonically.
func (m *Mailbox) ObserveModseq(modseq uint64) {
	if modseq > m.HighestModseq {
		m.HighestModseq = modseq
	}
}
