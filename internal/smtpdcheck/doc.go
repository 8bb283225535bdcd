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

// Package smtpdcheck decides whether an SMTP request is accepted,
// rejected or deferred by running the administrator's restriction lists.
//
// An Engine is built once from main.cf parameters and shared by all
// sessions. Each protocol stage has a Check method that evaluates the
// stage's restriction list against the Session and returns nil or a
// *Reply.
//
// ## Restriction lists
//
// Example:
// ```
// smtpd_helo_restrictions = reject_invalid_helo_hostname
// smtpd_relay_restrictions = permit_mynetworks, reject_unauth_destination
// smtpd_recipient_restrictions = check_recipient_access hash:/etc/postfix/access, reject_rbl_client zen.example
// smtpd_restriction_classes = vip
// vip = permit
// ```
//
// *Syntax:* smtpd_client_restrictions, smtpd_helo_restrictions,
// smtpd_sender_restrictions, smtpd_recipient_restrictions,
// smtpd_etrn_restrictions, smtpd_data_restrictions,
// smtpd_end_of_data_restrictions _restrictions_
// *Default:* empty
//
// Restrictions applied at each protocol stage. Items are separated by commas
// or whitespace and are evaluated left to right until one of them gives a
// definite answer.
//
// *Syntax:* smtpd_relay_restrictions _restrictions_
// *Default:* permit_mynetworks, permit_sasl_authenticated, defer_unauth_destination
//
// Relay control, evaluated before smtpd_recipient_restrictions unless
// smtpd_relay_before_recipient_restrictions is off. Either this list or
// smtpd_recipient_restrictions must contain a relay control restriction.
//
// *Syntax:* smtpd_restriction_classes _names_
//
// Names of additional restriction lists. Each name must also be defined as a
// parameter and may be used as a table lookup result.
//
// *Syntax:* smtpd_delay_reject _boolean_
// *Default:* yes
//
// Postpone client, HELO and sender restrictions until RCPT TO.
//
// *Syntax:* local_header_rewrite_clients _restrictions_
// *Default:* permit_inet_interfaces
//
// Clients whose message headers may be rewritten. Only the permit_* restrictions
// that do not depend on the envelope are allowed here.
//
// ## Address classes
//
// *Syntax:* myhostname, myorigin, mydestination _value_
//
// The local machine name, the domain appended to unqualified addresses and
// the domains delivered locally.
//
// *Syntax:* mynetworks _networks_
// *Default:* 127.0.0.0/8 [::1]/128
//
// Trusted client networks, used by permit_mynetworks.
//
// *Syntax:* inet_interfaces, proxy_interfaces _addresses_
//
// Addresses of this machine, used for MX host and relay checks.
//
// *Syntax:* relay_domains, virtual_alias_domains, virtual_mailbox_domains _domains_
//
// Domains this machine relays or hosts. Table references are allowed.
//
// *Syntax:* local_recipient_maps, virtual_mailbox_maps, relay_recipient_maps,
// virtual_alias_maps, canonical_maps, recipient_canonical_maps _tables_
//
// Tables consulted by reject_unlisted_recipient and reject_unlisted_sender.
// An empty list accepts every address in the corresponding class.
//
// *Syntax:* parent_domain_matches_subdomains _parameters_
//
// Parameters for which a domain key also matches subdomains without a
// leading dot. smtpd_access_maps affects every check_*_access table.
//
// ## Reply codes
//
// *Syntax:* *_reject_code, *_defer_code _code_
//
// SMTP codes used by the corresponding restrictions:
// unknown_client_reject_code (450), invalid_hostname_reject_code (501),
// unknown_hostname_reject_code (450), non_fqdn_reject_code (504),
// unknown_address_reject_code (450), relay_domains_reject_code (554),
// maps_rbl_reject_code (554), access_map_reject_code (554),
// access_map_defer_code (450), reject_code (554), defer_code (450),
// multi_recipient_bounce_reject_code (550), plaintext_reject_code (450),
// unknown_local_recipient_reject_code (550) and the unverified_* codes.
//
// *Syntax:* reject_tempfail_action defer_if_permit | defer
// *Default:* defer_if_permit
//
// What to do when a DNS or verification lookup fails temporarily. Refused
// DNS queries are handled the same way. Overridden per check by
// unknown_helo_hostname_tempfail_action, unknown_address_tempfail_action,
// unverified_sender_tempfail_action and unverified_recipient_tempfail_action.
//
// *Syntax:* soft_bounce _boolean_
// *Default:* no
//
// Turn every 5xx reply into a 4xx one.
//
// ## DNS lists
//
// *Syntax:* default_rbl_reply _template_
//
// Reply text for reject_rbl_* restrictions. $client_address, $rbl_domain,
// $rbl_txt and the other $rbl_* and $client_* variables are expanded.
//
// *Syntax:* rbl_reply_maps _tables_
//
// Per-list reply templates, looked up by list domain.
//
// *Syntax:* smtpd_rhsbl_registered_domain _boolean_
// *Default:* no
//
// Query reject_rhsbl_* lists with the registered domain instead of the full
// name.
//
// *Syntax:* smtpd_dns_servers _addresses_
// *Syntax:* smtpd_dns_timeout _duration_
// *Default:* system resolver, 10s
//
// Resolvers used for all DNS checks.
//
// ## Policy delegation
//
// *Syntax:* smtpd_policy_service_timeout, smtpd_policy_service_max_idle,
// smtpd_policy_service_max_ttl _duration_
// *Default:* 100s, 300s, 1000s
//
// *Syntax:* smtpd_policy_service_try_limit _number_
// *Default:* 2
//
// *Syntax:* smtpd_policy_service_default_action _reply_
// *Default:* 451 4.3.5 Server configuration problem
//
// Reply used when the policy server cannot be reached after the retries.
//
// ## Other
//
// *Syntax:* message_size_limit, queue_minfree _bytes_
//
// Used by the SIZE check at MAIL FROM.
//
// *Syntax:* address_verify_poll_count _number_
// *Syntax:* address_verify_poll_delay _duration_
// *Default:* 3, 3s
//
// How long reject_unverified_* waits for a pending verification.
//
// *Syntax:* smtpd_check_cache_size _number_
// *Default:* 10000
//
// Entries kept by the address resolution and DNS list caches.
//
// *Syntax:* smtpd_log_access_permit_actions _actions_
//
// Permit actions that are logged the same way as rejects.
package smtpdcheck
