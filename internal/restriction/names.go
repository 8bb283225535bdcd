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

package restriction

import "strings"

// Name identifies a restriction. The set of names is closed; anything
// else in a restriction list must be a table reference or the name of a
// restriction class.
type Name int

const (
	Invalid Name = iota

	Permit
	Reject
	Defer

	WarnIfReject
	Sleep
	DeferIfPermit
	DeferIfReject

	PermitInetInterfaces
	PermitMynetworks
	RejectUnknownClientHostname
	RejectUnknownReverseClientHostname
	RejectPlaintextSession
	PermitSASLAuthenticated
	PermitTLSClientcerts
	PermitTLSAllClientcerts
	RejectRBLClient
	PermitDNSWLClient
	RejectRHSBLClient
	RejectRHSBLReverseClient
	PermitRHSWLClient
	RejectMapsRBL
	CheckClientAccess
	CheckReverseClientAccess
	CheckClientMXAccess
	CheckClientNSAccess
	CheckReverseClientMXAccess
	CheckReverseClientNSAccess
	CheckCcertAccess
	CheckSASLAccess
	CheckPolicyService
	RejectUnauthPipelining

	RejectInvalidHeloHostname
	RejectUnknownHeloHostname
	RejectNonFQDNHeloHostname
	PermitNakedIPAddress
	CheckHeloAccess
	CheckHeloMXAccess
	CheckHeloNSAccess
	RejectRHSBLHelo

	RejectUnknownSenderDomain
	RejectNonFQDNSender
	RejectUnverifiedSender
	RejectUnlistedSender
	RejectAuthenticatedSenderLoginMismatch
	RejectKnownSenderLoginMismatch
	RejectUnauthenticatedSenderLoginMismatch
	RejectSenderLoginMismatch
	CheckSenderAccess
	CheckSenderMXAccess
	CheckSenderNSAccess
	RejectRHSBLSender
	RejectMultiRecipientBounce

	PermitAuthDestination
	RejectUnauthDestination
	DeferUnauthDestination
	CheckRelayDomains
	PermitMXBackup
	RejectUnknownRecipientDomain
	RejectNonFQDNRecipient
	RejectUnverifiedRecipient
	RejectUnlistedRecipient
	CheckRecipientAccess
	CheckRecipientMXAccess
	CheckRecipientNSAccess
	RejectRHSBLRecipient

	CheckEtrnAccess

	// Only valid in local_header_rewrite_clients.
	CheckAddressMap
)

// Kind groups names by the shape of their arguments and by how they are
// evaluated.
type Kind int

const (
	KindInvalid Kind = iota
	// permit, reject, defer.
	KindUnconditional
	// warn_if_reject, sleep, defer_if_permit, defer_if_reject.
	KindPseudo
	// Builtin checks without arguments.
	KindBuiltin
	// DNS list checks, followed by a list domain.
	KindDNSList
	// check_*_access, followed by a table reference.
	KindMap
	KindPolicy
	// A table reference on its own, looked up with the stage's default
	// access check.
	KindDefaultMap
	KindClass
)

type nameInfo struct {
	text string
	kind Kind
}

var nameTable = map[Name]nameInfo{
	Permit:        {"permit", KindUnconditional},
	Reject:        {"reject", KindUnconditional},
	Defer:         {"defer", KindUnconditional},
	WarnIfReject:  {"warn_if_reject", KindPseudo},
	Sleep:         {"sleep", KindPseudo},
	DeferIfPermit: {"defer_if_permit", KindPseudo},
	DeferIfReject: {"defer_if_reject", KindPseudo},

	PermitInetInterfaces:               {"permit_inet_interfaces", KindBuiltin},
	PermitMynetworks:                   {"permit_mynetworks", KindBuiltin},
	RejectUnknownClientHostname:        {"reject_unknown_client_hostname", KindBuiltin},
	RejectUnknownReverseClientHostname: {"reject_unknown_reverse_client_hostname", KindBuiltin},
	RejectPlaintextSession:             {"reject_plaintext_session", KindBuiltin},
	PermitSASLAuthenticated:            {"permit_sasl_authenticated", KindBuiltin},
	PermitTLSClientcerts:               {"permit_tls_clientcerts", KindBuiltin},
	PermitTLSAllClientcerts:            {"permit_tls_all_clientcerts", KindBuiltin},
	RejectRBLClient:                    {"reject_rbl_client", KindDNSList},
	PermitDNSWLClient:                  {"permit_dnswl_client", KindDNSList},
	RejectRHSBLClient:                  {"reject_rhsbl_client", KindDNSList},
	RejectRHSBLReverseClient:           {"reject_rhsbl_reverse_client", KindDNSList},
	PermitRHSWLClient:                  {"permit_rhswl_client", KindDNSList},
	RejectMapsRBL:                      {"reject_maps_rbl", KindBuiltin},
	CheckClientAccess:                  {"check_client_access", KindMap},
	CheckReverseClientAccess:           {"check_reverse_client_access", KindMap},
	CheckClientMXAccess:                {"check_client_mx_access", KindMap},
	CheckClientNSAccess:                {"check_client_ns_access", KindMap},
	CheckReverseClientMXAccess:         {"check_reverse_client_mx_access", KindMap},
	CheckReverseClientNSAccess:         {"check_reverse_client_ns_access", KindMap},
	CheckCcertAccess:                   {"check_ccert_access", KindMap},
	CheckSASLAccess:                    {"check_sasl_access", KindMap},
	CheckPolicyService:                 {"check_policy_service", KindPolicy},
	RejectUnauthPipelining:             {"reject_unauth_pipelining", KindBuiltin},

	RejectInvalidHeloHostname: {"reject_invalid_helo_hostname", KindBuiltin},
	RejectUnknownHeloHostname: {"reject_unknown_helo_hostname", KindBuiltin},
	RejectNonFQDNHeloHostname: {"reject_non_fqdn_helo_hostname", KindBuiltin},
	PermitNakedIPAddress:      {"permit_naked_ip_address", KindBuiltin},
	CheckHeloAccess:           {"check_helo_access", KindMap},
	CheckHeloMXAccess:         {"check_helo_mx_access", KindMap},
	CheckHeloNSAccess:         {"check_helo_ns_access", KindMap},
	RejectRHSBLHelo:           {"reject_rhsbl_helo", KindDNSList},

	RejectUnknownSenderDomain:                {"reject_unknown_sender_domain", KindBuiltin},
	RejectNonFQDNSender:                      {"reject_non_fqdn_sender", KindBuiltin},
	RejectUnverifiedSender:                   {"reject_unverified_sender", KindBuiltin},
	RejectUnlistedSender:                     {"reject_unlisted_sender", KindBuiltin},
	RejectAuthenticatedSenderLoginMismatch:   {"reject_authenticated_sender_login_mismatch", KindBuiltin},
	RejectKnownSenderLoginMismatch:           {"reject_known_sender_login_mismatch", KindBuiltin},
	RejectUnauthenticatedSenderLoginMismatch: {"reject_unauthenticated_sender_login_mismatch", KindBuiltin},
	RejectSenderLoginMismatch:                {"reject_sender_login_mismatch", KindBuiltin},
	CheckSenderAccess:                        {"check_sender_access", KindMap},
	CheckSenderMXAccess:                      {"check_sender_mx_access", KindMap},
	CheckSenderNSAccess:                      {"check_sender_ns_access", KindMap},
	RejectRHSBLSender:                        {"reject_rhsbl_sender", KindDNSList},
	RejectMultiRecipientBounce:               {"reject_multi_recipient_bounce", KindBuiltin},

	PermitAuthDestination:        {"permit_auth_destination", KindBuiltin},
	RejectUnauthDestination:      {"reject_unauth_destination", KindBuiltin},
	DeferUnauthDestination:       {"defer_unauth_destination", KindBuiltin},
	CheckRelayDomains:            {"check_relay_domains", KindBuiltin},
	PermitMXBackup:               {"permit_mx_backup", KindBuiltin},
	RejectUnknownRecipientDomain: {"reject_unknown_recipient_domain", KindBuiltin},
	RejectNonFQDNRecipient:       {"reject_non_fqdn_recipient", KindBuiltin},
	RejectUnverifiedRecipient:    {"reject_unverified_recipient", KindBuiltin},
	RejectUnlistedRecipient:      {"reject_unlisted_recipient", KindBuiltin},
	CheckRecipientAccess:         {"check_recipient_access", KindMap},
	CheckRecipientMXAccess:       {"check_recipient_mx_access", KindMap},
	CheckRecipientNSAccess:       {"check_recipient_ns_access", KindMap},
	RejectRHSBLRecipient:         {"reject_rhsbl_recipient", KindDNSList},

	CheckEtrnAccess: {"check_etrn_access", KindMap},

	CheckAddressMap: {"check_address_map", KindMap},
}

// Older spellings.
var aliases = map[string]Name{
	"reject_unknown_client":    RejectUnknownClientHostname,
	"reject_rbl":               RejectRBLClient,
	"reject_invalid_hostname":  RejectInvalidHeloHostname,
	"reject_unknown_hostname":  RejectUnknownHeloHostname,
	"reject_non_fqdn_hostname": RejectNonFQDNHeloHostname,
	"reject_unknown_address":   RejectUnknownSenderDomain,
	"check_recipient_maps":     RejectUnlistedRecipient,
}

var byText map[string]Name

func init() {
	byText = make(map[string]Name, len(nameTable)+len(aliases))
	for n, info := range nameTable {
		byText[info.text] = n
	}
	for text, n := range aliases {
		byText[text] = n
	}
}

// Lookup finds a restriction by name, ignoring case.
func Lookup(text string) (Name, bool) {
	n, ok := byText[strings.ToLower(text)]
	return n, ok
}

func (n Name) String() string {
	if info, ok := nameTable[n]; ok {
		return info.text
	}
	return "invalid"
}

func (n Name) Kind() Kind {
	return nameTable[n].kind
}
