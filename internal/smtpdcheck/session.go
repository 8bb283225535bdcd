/*
Maddy Mail Server - Composable all-in-one email server.
Copyright 2021, Steve Blinch <dev@blinch.ca>, Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package smtpdcheck

import (
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
)

// PeerStatus is the outcome of a client host name lookup.
type PeerStatus int

const (
	PeerOK PeerStatus = 2
	// The lookup failed temporarily.
	PeerTemp PeerStatus = 4
	// The address has no name.
	PeerPerm PeerStatus = 5
	// The name does not resolve back to the address.
	PeerForged PeerStatus = 6
)

// TLSInfo describes an encrypted session.
type TLSInfo struct {
	Protocol string
	Cipher   string
	KeySize  int

	// Client certificate. All empty when the client did not present one.
	PeerCN          string
	IssuerCN        string
	CertFingerprint string
	PkeyFingerprint string
	// The certificate was verified by a trusted CA.
	Trusted bool
}

func (t *TLSInfo) certPresent() bool {
	return t != nil && t.CertFingerprint != ""
}

// PendingActions are decisions that take effect at delivery time. Only
// access table and policy service actions set them.
type PendingActions struct {
	// transport:destination of a content filter.
	Filter   string
	Redirect string
	BCC      []string
	Prepend  textproto.Header
	Hold     bool
	Discard  bool
	// Text given with HOLD or DISCARD.
	Reason string
}

func (pa *PendingActions) reset() {
	*pa = PendingActions{}
}

// deferRecord is a postponed reply. The first cause wins.
type deferRecord struct {
	active bool
	class  ErrorClass
	code   int
	dsn    string
	reason string
}

// Session holds the facts about one SMTP session that restrictions look
// at, and the state the stage checks keep between calls. It is not safe
// for concurrent use.
type Session struct {
	// ClientName is the verified client host name, "unknown" if there is
	// none.
	ClientName string
	ClientAddr string
	ClientPort string
	// ReverseName is the unverified name from the PTR lookup.
	ReverseName       string
	NameStatus        PeerStatus
	ReverseNameStatus PeerStatus

	// SMTP or ESMTP.
	Protocol string
	HeloName string
	// HasSender is set once MAIL FROM was given. Sender is empty for the
	// null sender.
	HasSender bool
	Sender    string
	Recipient string
	// Number of accepted recipients, maintained by the caller.
	RecipientCount int
	EtrnDomain     string

	SASLMethod   string
	SASLUsername string
	SASLSender   string

	TLS *TLSInfo

	MessageSize int64
	QueueID     string
	// Unique per transaction, sent to policy services.
	Instance string
	// The client sent commands ahead of replies without PIPELINING.
	IllegalPipelining bool
	// The server is overloaded.
	Stress bool

	// Protocol stage for logging: CONNECT, HELO, MAIL, RCPT, ...
	where string

	recursion     int
	warnIfReject  int
	deferIfReject deferRecord
	deferIfPermit deferRecord

	// deferIfPermit as left by the client, HELO and MAIL stages.
	dipClient deferRecord
	dipHelo   deferRecord
	dipSender deferRecord

	senderRcptmapChecked    bool
	recipientRcptmapChecked bool

	// Last reject or reject_warning reply.
	reply *Reply

	actions PendingActions
}

// NewSession creates a session for a connected client. An empty name is
// recorded as "unknown".
func NewSession(clientName, clientAddr string) *Session {
	if clientName == "" {
		clientName = "unknown"
	}
	return &Session{
		ClientName:        clientName,
		ClientAddr:        clientAddr,
		ReverseName:       clientName,
		NameStatus:        PeerOK,
		ReverseNameStatus: PeerOK,
		Protocol:          "SMTP",
		Instance:          uuid.New().String(),
	}
}

// Actions returns the delivery-time actions collected so far in the
// current transaction.
func (s *Session) Actions() *PendingActions {
	return &s.actions
}

// ResetTransaction forgets the sender, the recipients and the pending
// actions, as after RSET or a completed message.
func (s *Session) ResetTransaction() {
	s.HasSender = false
	s.Sender = ""
	s.Recipient = ""
	s.RecipientCount = 0
	s.MessageSize = 0
	s.QueueID = ""
	s.Instance = uuid.New().String()
	s.dipSender = deferRecord{}
	s.actions.reset()
}

func (s *Session) namaddr() string {
	return s.ClientName + "[" + s.ClientAddr + "]"
}

// hasClient reports whether the client identity is known.
func (s *Session) hasClient() bool {
	return s.ClientName != "" && s.ClientAddr != ""
}

func (s *Session) knownName() bool {
	return s.ClientName != "" && s.ClientName != "unknown"
}

func (s *Session) knownReverseName() bool {
	return s.ReverseName != "" && s.ReverseName != "unknown"
}

func (s *Session) resetEval() {
	s.recursion = 0
	s.warnIfReject = 0
	s.deferIfReject.active = false
}
