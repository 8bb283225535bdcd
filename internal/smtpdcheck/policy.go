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
	"context"
	"fmt"
	"strconv"

	"github.com/sblinch/smtpdcheck/internal/policy"
	"github.com/sblinch/smtpdcheck/internal/restriction"
)

func policyKey(ref *restriction.PolicyRef) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d|%d|%d", ref.Endpoint, ref.DefaultAction, ref.Context,
		ref.Timeout, ref.MaxIdle, ref.MaxTTL, ref.TryLimit, ref.RetryDelay)
}

// policyClient returns the client for a check_policy_service element,
// creating it on first use. Elements with the same settings share a
// client.
func (e *Engine) policyClient(ref *restriction.PolicyRef) (*policy.Client, error) {
	key := policyKey(ref)

	e.policyLock.Lock()
	defer e.policyLock.Unlock()
	if c, ok := e.policies[key]; ok {
		return c, nil
	}
	c, err := policy.NewClient(ref.Endpoint)
	if err != nil {
		return nil, err
	}
	if ref.Timeout > 0 {
		c.Timeout = ref.Timeout
	}
	if ref.MaxIdle > 0 {
		c.MaxIdle = ref.MaxIdle
	}
	if ref.MaxTTL > 0 {
		c.MaxTTL = ref.MaxTTL
	}
	if ref.TryLimit > 0 {
		c.TryLimit = ref.TryLimit
	}
	if ref.RetryDelay > 0 {
		c.RetryDelay = ref.RetryDelay
	}
	if e.policyDial != nil {
		c.Dial = e.policyDial
	}
	c.Log = e.log
	c.Log.Name = e.log.Name + "/policy"
	e.policies[key] = c
	return c, nil
}

// openPolicyClients creates the clients for all configured policy
// services so that bad endpoints are reported at startup.
func (e *Engine) openPolicyClients() error {
	for _, prog := range e.Programs() {
		for _, r := range prog.List {
			if r.Kind != restriction.KindPolicy {
				continue
			}
			if _, err := e.policyClient(r.Policy); err != nil {
				return &restriction.ConfigError{Param: prog.Param, Msg: err.Error()}
			}
		}
	}
	return nil
}

// policyRequest describes the session to a policy service.
func (e *Engine) policyRequest(s *Session, ref *restriction.PolicyRef) policy.Request {
	var req policy.Request
	req.Add("request", "smtpd_access_policy")
	req.Add("protocol_state", s.where)
	req.Add("protocol_name", s.Protocol)
	req.Add("client_address", s.ClientAddr)
	req.Add("client_name", s.ClientName)
	req.Add("client_port", s.ClientPort)
	req.Add("reverse_client_name", s.ReverseName)
	req.Add("helo_name", s.HeloName)
	req.Add("sender", s.Sender)
	req.Add("recipient", s.Recipient)
	count := 0
	if s.where == stageData || s.where == stageEOD {
		count = s.RecipientCount
	}
	req.Add("recipient_count", strconv.Itoa(count))
	req.Add("queue_id", s.QueueID)
	req.Add("instance", s.Instance)
	req.Add("size", strconv.FormatInt(s.MessageSize, 10))
	req.Add("etrn_domain", s.EtrnDomain)
	stress := ""
	if s.Stress {
		stress = "yes"
	}
	req.Add("stress", stress)
	req.Add("sasl_method", s.SASLMethod)
	req.Add("sasl_username", s.SASLUsername)
	req.Add("sasl_sender", s.SASLSender)

	var subject, issuer, fp, pkeyFP, proto, cipher, keysize string
	if s.TLS != nil {
		if s.TLS.Trusted {
			subject, issuer = s.TLS.PeerCN, s.TLS.IssuerCN
		}
		fp, pkeyFP = s.TLS.CertFingerprint, s.TLS.PkeyFingerprint
		proto, cipher = s.TLS.Protocol, s.TLS.Cipher
		if s.TLS.KeySize > 0 {
			keysize = strconv.Itoa(s.TLS.KeySize)
		}
	}
	req.Add("ccert_subject", subject)
	req.Add("ccert_issuer", issuer)
	req.Add("ccert_fingerprint", fp)
	req.Add("ccert_pubkey_fingerprint", pkeyFP)
	req.Add("encryption_protocol", proto)
	req.Add("encryption_cipher", cipher)
	req.Add("encryption_keysize", keysize)
	req.Add("policy_context", ref.Context)
	return req
}

// checkPolicy asks a policy service and interprets its action like an
// access table value. When the service cannot be reached, the configured
// default action is used instead.
func (e *Engine) checkPolicy(ctx context.Context, s *Session, ref *restriction.PolicyRef, sc scope) (Result, error) {
	c, err := e.policyClient(ref)
	if err != nil {
		e.log.Error("cannot use policy service", err, "endpoint", ref.Endpoint)
		return Dunno, e.serverError(s)
	}
	action, err := c.Query(ctx, e.policyRequest(s, ref))
	if err == nil && action == "" {
		err = fmt.Errorf("policy: %s: empty action", ref.Endpoint)
	}
	if err != nil {
		e.log.Error("policy service query failed, using default action", err,
			"endpoint", ref.Endpoint, "default_action", ref.DefaultAction)
		action = ref.DefaultAction
	}
	return e.interpret(ctx, s, ref.Endpoint, action, "policy query", sc)
}
