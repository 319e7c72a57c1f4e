package signal

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/akarpov/parley/internal/app"
	"github.com/akarpov/parley/internal/core"
	"github.com/akarpov/parley/internal/domain"
)

// SDP and ICE payloads pass through the engine untouched; only the
// routing metadata around them is validated.

func (ctl *SignalWSController) handleCallInitiate(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type initiatePayload struct {
		Type       string                    `json:"type"`
		ReceiverID domain.UserID             `json:"receiverId"`
		CallType   domain.CallType           `json:"callType"`
		Offer      webrtc.SessionDescription `json:"offer"`
	}
	var p initiatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ReceiverID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad initiate payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.CallType != domain.CallVoice && p.CallType != domain.CallVideo {
		ctl.sendError(conn, "bad_payload")
		return
	}

	call, err := ctl.Calls.Initiate(ctx, sess.UserID, p.ReceiverID, p.CallType, p.Offer)
	switch {
	case errors.Is(err, core.ErrReceiverBusy):
		// The callee never rang; tell the caller directly.
		ctl.sendJSON(conn, core.CallBusyEvent{Type: core.EvCallBusy, UserID: p.ReceiverID, CallType: p.CallType})
		return
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("receiver", string(p.ReceiverID)).Msg("call initiate")
		ctl.sendError(conn, "call_failed")
		return
	}

	ctl.sendJSON(conn, struct {
		Type       string          `json:"type"`
		CallID     domain.CallID   `json:"callId"`
		ReceiverID domain.UserID   `json:"receiverId"`
		CallType   domain.CallType `json:"callType"`
	}{"call:initiated", call.ID, call.ReceiverID, call.Type})
}

type callControlPayload struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
}

func (ctl *SignalWSController) handleCallAnswer(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type answerPayload struct {
		Type   string                    `json:"type"`
		CallID domain.CallID             `json:"callId"`
		Answer webrtc.SessionDescription `json:"answer"`
	}
	var p answerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.reportCallErr(conn, p.CallID, ctl.Calls.Answer(ctx, p.CallID, sess.UserID, p.Answer))
}

func (ctl *SignalWSController) handleCallDecline(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	var p callControlPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.reportCallErr(conn, p.CallID, ctl.Calls.Decline(ctx, p.CallID, sess.UserID))
}

// handleCallBusy is the client-driven busy signal: another device of
// the callee answered elsewhere, or the client UI rejects on its own
// busy state.
func (ctl *SignalWSController) handleCallBusy(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	var p callControlPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.reportCallErr(conn, p.CallID, ctl.Calls.RejectBusy(ctx, p.CallID, sess.UserID))
}

func (ctl *SignalWSController) handleCallEnd(
	ctx context.Context,
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	var p callControlPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.reportCallErr(conn, p.CallID, ctl.Calls.End(ctx, p.CallID, sess.UserID))
}

func (ctl *SignalWSController) handleCallCandidate(
	sess *app.Session,
	conn *WsSignalConn,
	data []byte,
) {
	type candidatePayload struct {
		Type      string                  `json:"type"`
		CallID    domain.CallID           `json:"callId"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.reportCallErr(conn, p.CallID, ctl.Calls.RelayCandidate(p.CallID, sess.UserID, p.Candidate))
}

func (ctl *SignalWSController) reportCallErr(conn *WsSignalConn, id domain.CallID, err error) {
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound):
		ctl.sendError(conn, "unknown_call")
	case errors.Is(err, core.ErrNotAuthorized):
		ctl.sendError(conn, "not_authorized")
	default:
		log.Error().Err(err).Str("module", "signal").Str("call", string(id)).Msg("call control")
		ctl.sendError(conn, "call_failed")
	}
}
