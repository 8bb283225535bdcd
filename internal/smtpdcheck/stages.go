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
	"errors"
	"strings"

	"github.com/sblinch/smtpdcheck/internal/restriction"
)

// finish turns the outcome of a stage into the error returned to the
// caller and counts it.
func (e *Engine) finish(s *Session, stage string, res Result, err error) error {
	if err != nil {
		var abort *Abort
		if errors.As(err, &abort) {
			if abort.Hangup {
				checksTotal.WithLabelValues(stage, "hangup").Inc()
				return abort
			}
			checksTotal.WithLabelValues(stage, outcome(abort.Reply)).Inc()
			return abort.Reply
		}
		checksTotal.WithLabelValues(stage, "error").Inc()
		return err
	}
	if res == Reject && s.reply != nil {
		checksTotal.WithLabelValues(stage, outcome(s.reply)).Inc()
		return s.reply
	}
	checksTotal.WithLabelValues(stage, "accept").Inc()
	return nil
}

func outcome(r *Reply) string {
	if r.Temporary() {
		return "defer"
	}
	return "reject"
}

func (e *Engine) checkClient(ctx context.Context, s *Session) (Result, error) {
	s.deferIfPermit = deferRecord{}
	s.resetEval()
	res, err := e.evaluate(ctx, s, e.client.List, scope{
		replyName:  s.namaddr(),
		replyClass: nameClient,
		defMap:     restriction.CheckClientAccess.String(),
	})
	s.dipClient = s.deferIfPermit
	return res, err
}

func (e *Engine) checkHelo(ctx context.Context, s *Session) (Result, error) {
	if s.HeloName == "" {
		return Dunno, nil
	}
	s.deferIfPermit = s.dipClient
	s.resetEval()
	res, err := e.evaluate(ctx, s, e.helo.List, scope{
		replyName:  s.HeloName,
		replyClass: nameHelo,
		defMap:     restriction.CheckHeloAccess.String(),
	})
	s.dipHelo = s.deferIfPermit
	return res, err
}

func (e *Engine) checkMail(ctx context.Context, s *Session) (Result, error) {
	if !s.HasSender {
		return Dunno, nil
	}
	if s.dipClient.active {
		s.deferIfPermit = s.dipClient
	} else {
		s.deferIfPermit = s.dipHelo
	}
	s.senderRcptmapChecked = false
	s.resetEval()
	res, err := e.evaluate(ctx, s, e.sender.List, scope{
		replyName:  s.Sender,
		replyClass: nameSender,
		defMap:     restriction.CheckSenderAccess.String(),
	})
	s.dipSender = s.deferIfPermit
	if err != nil {
		return res, err
	}

	if e.cfg.RejectUnlistedSender && res != Reject && !s.senderRcptmapChecked && !s.actions.Discard && s.Sender != "" {
		s.warnIfReject = 0
		return e.checkSenderRcptMaps(ctx, s, s.Sender)
	}
	return res, nil
}

// earlierStages re-runs the client, HELO and MAIL FROM restrictions that
// smtpd_delay_reject postponed.
func (e *Engine) earlierStages(ctx context.Context, s *Session, withMail bool) (Result, error) {
	if !e.cfg.DelayReject {
		return Dunno, nil
	}
	if s.hasClient() {
		if res, err := e.checkClient(ctx, s); err != nil || res == Reject {
			return res, err
		}
	}
	if res, err := e.checkHelo(ctx, s); err != nil || res == Reject {
		return res, err
	}
	if withMail {
		if res, err := e.checkMail(ctx, s); err != nil || res == Reject {
			return res, err
		}
	}
	return Dunno, nil
}

// CheckClient runs smtpd_client_restrictions. With smtpd_delay_reject the
// decision is postponed to the RCPT TO and ETRN stages.
func (e *Engine) CheckClient(ctx context.Context, s *Session) error {
	s.where = stageConnect
	if !s.hasClient() || e.cfg.DelayReject {
		return nil
	}
	res, err := e.checkClient(ctx, s)
	return e.finish(s, stageConnect, res, err)
}

// CheckHelo records the HELO or EHLO name and runs
// smtpd_helo_restrictions. A rejected name is not kept.
func (e *Engine) CheckHelo(ctx context.Context, s *Session, helo string) error {
	s.where = stageHelo
	if s.Protocol == "ESMTP" {
		s.where = stageEhlo
	}
	saved := s.HeloName
	s.HeloName = helo
	if e.cfg.DelayReject {
		return nil
	}
	res, err := e.checkHelo(ctx, s)
	if err = e.finish(s, stageHelo, res, err); err != nil {
		s.HeloName = saved
	}
	return err
}

// CheckMail records the MAIL FROM address, empty for the null sender,
// and runs smtpd_sender_restrictions. A rejected sender is not kept.
func (e *Engine) CheckMail(ctx context.Context, s *Session, sender string) error {
	s.where = stageMail
	savedHas, saved := s.HasSender, s.Sender
	s.HasSender, s.Sender = true, sender
	if e.cfg.DelayReject {
		return nil
	}
	res, err := e.checkMail(ctx, s)
	if err = e.finish(s, stageMail, res, err); err != nil {
		s.HasSender, s.Sender = savedHas, saved
	}
	return err
}

// CheckRcpt runs the relay and recipient restrictions for one RCPT TO
// address, after the postponed client, HELO and sender restrictions. On
// success the address becomes the session's current recipient.
func (e *Engine) CheckRcpt(ctx context.Context, s *Session, rcpt string) error {
	s.where = stageRcpt
	if rcpt == "" || strings.EqualFold(rcpt, "postmaster") {
		return nil
	}
	saved := s.Recipient
	s.Recipient = rcpt
	res, err := e.checkRcpt(ctx, s)
	if err = e.finish(s, stageRcpt, res, err); err != nil {
		s.Recipient = saved
	}
	return err
}

func (e *Engine) checkRcpt(ctx context.Context, s *Session) (Result, error) {
	s.recipientRcptmapChecked = false
	if res, err := e.earlierStages(ctx, s, s.HasSender); err != nil || res == Reject {
		return res, err
	}

	s.deferIfPermit = s.dipSender
	s.resetEval()

	lists := []*restriction.Program{e.relay, e.recipient}
	if !e.cfg.RelayBeforeRecipient {
		lists[0], lists[1] = lists[1], lists[0]
	}
	sc := scope{
		replyName:  s.Recipient,
		replyClass: nameRecipient,
		defMap:     restriction.CheckRecipientAccess.String(),
	}
	var (
		res Result
		err error
	)
	for _, prog := range lists {
		res, err = e.evaluate(ctx, s, prog.List, sc)
		if err != nil {
			return res, err
		}
		if res == Reject {
			break
		}
	}
	res = e.foldDeferIfPermit(s, res)

	if e.cfg.RejectUnlistedRcpt && res != Reject && !s.recipientRcptmapChecked && !s.actions.Discard {
		s.warnIfReject = 0
		return e.checkRecipientRcptMaps(ctx, s, s.Recipient)
	}
	return res, nil
}

// CheckEtrn runs smtpd_etrn_restrictions for the domain given with ETRN.
func (e *Engine) CheckEtrn(ctx context.Context, s *Session, domain string) error {
	s.where = stageEtrn
	saved := s.EtrnDomain
	s.EtrnDomain = domain
	defer func() { s.EtrnDomain = saved }()

	res, err := e.earlierStages(ctx, s, false)
	if err == nil && res != Reject {
		if s.dipClient.active {
			s.deferIfPermit = s.dipClient
		} else {
			s.deferIfPermit = s.dipHelo
		}
		s.resetEval()
		res, err = e.evaluate(ctx, s, e.etrn.List, scope{
			replyName:  domain,
			replyClass: nameEtrn,
			defMap:     restriction.CheckEtrnAccess.String(),
		})
		if err == nil {
			res = e.foldDeferIfPermit(s, res)
		}
	}
	return e.finish(s, stageEtrn, res, err)
}

// CheckData runs smtpd_data_restrictions.
func (e *Engine) CheckData(ctx context.Context, s *Session) error {
	return e.checkMessage(ctx, s, stageData, "DATA", nameData, e.data)
}

// CheckEOD runs smtpd_end_of_data_restrictions once the message has been
// received.
func (e *Engine) CheckEOD(ctx context.Context, s *Session) error {
	return e.checkMessage(ctx, s, stageEOD, "END-OF-MESSAGE", nameEOD, e.eod)
}

func (e *Engine) checkMessage(ctx context.Context, s *Session, stage, replyName, replyClass string, prog *restriction.Program) error {
	s.where = stage
	// With several recipients there is no single one to check.
	if s.RecipientCount > 1 {
		saved := s.Recipient
		s.Recipient = ""
		defer func() { s.Recipient = saved }()
	}

	s.deferIfPermit = deferRecord{}
	s.resetEval()
	res, err := e.evaluate(ctx, s, prog.List, scope{replyName: replyName, replyClass: replyClass})
	if err == nil {
		res = e.foldDeferIfPermit(s, res)
	}
	return e.finish(s, stage, res, err)
}
