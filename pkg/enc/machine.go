package enc

import (
	"fmt"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/llcp"
)

// Snapshot is the part of a link the transition function reads.
type Snapshot struct {
	Role   conn.Role
	State  conn.State
	HasLTK bool

	// StartPending is set on a slave that received LL_START_ENC_REQ while
	// its session key was still being derived.
	StartPending bool
}

// ActionKind identifies a side effect requested by a transition.
type ActionKind uint8

const (
	ActionBeginAttempt ActionKind = iota
	ActionBindLongTermKey
	ActionBindPeerVectors
	ActionGenerateVectors
	ActionSendEncReq
	ActionSendEncRsp
	ActionSendStartEncReq
	ActionSendStartEncRsp
	ActionSendReject
	ActionArmDeadline
	ActionDisarmDeadline
	ActionRequestDerivation
	ActionCancelDerivation
	ActionStorePendingKey
	ActionRememberStart
	ActionEnableReceive
	ActionEnterEncrypted
	ActionAbort
	ActionReset
)

// String returns the action name.
func (k ActionKind) String() string {
	names := [...]string{
		"BeginAttempt", "BindLongTermKey", "BindPeerVectors", "GenerateVectors",
		"SendEncReq", "SendEncRsp", "SendStartEncReq", "SendStartEncRsp", "SendReject",
		"ArmDeadline", "DisarmDeadline", "RequestDerivation", "CancelDerivation",
		"StorePendingKey", "RememberStart", "EnableReceive", "EnterEncrypted", "Abort", "Reset",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(k))
}

// Action is one side effect, executed by the Dispatcher in order.
type Action struct {
	Kind ActionKind

	// ErrorCode is the code sent by ActionSendReject.
	ErrorCode llcp.ErrorCode

	// Reason is the cause recorded by ActionAbort.
	Reason conn.AbortReason
}

// Transition is the outcome of one Step.
type Transition struct {
	Next    conn.State
	Actions []Action

	// Err is a synchronous rejection. The link is left untouched.
	Err error

	// Ignored is set when the event has no effect in the current state.
	Ignored bool
}

// Step is the encryption procedure transition function. It performs no I/O:
// everything it wants done is returned as actions.
func Step(s Snapshot, ev Event) Transition {
	switch ev.Kind {
	case EventDisconnect:
		return Transition{
			Next: restState(s.Role),
			Actions: []Action{
				{Kind: ActionDisarmDeadline},
				{Kind: ActionCancelDerivation},
				{Kind: ActionReset},
			},
		}
	case EventStart:
		return stepStart(s)
	}

	if s.Role == conn.RoleMaster {
		return stepMaster(s, ev)
	}
	return stepSlave(s, ev)
}

func restState(r conn.Role) conn.State {
	if r == conn.RoleSlave {
		return conn.StateWaitRequest
	}
	return conn.StateIdle
}

func stepStart(s Snapshot) Transition {
	switch {
	case s.Role != conn.RoleMaster:
		return reject(s, ErrNotMaster)
	case s.State != conn.StateIdle:
		return reject(s, ErrBusy)
	case !s.HasLTK:
		return reject(s, ErrNoLongTermKey)
	}
	return Transition{
		Next: conn.StateWaitPeerResponse,
		Actions: []Action{
			{Kind: ActionBeginAttempt},
			{Kind: ActionGenerateVectors},
			{Kind: ActionSendEncReq},
			{Kind: ActionArmDeadline},
		},
	}
}

func stepMaster(s Snapshot, ev Event) Transition {
	switch s.State {
	case conn.StateWaitPeerResponse:
		switch ev.Kind {
		case EventEncRsp:
			return Transition{
				Next: conn.StateWaitKeyDerivation,
				Actions: []Action{
					{Kind: ActionDisarmDeadline},
					{Kind: ActionBindPeerVectors},
					{Kind: ActionRequestDerivation},
				},
			}
		case EventTimeout:
			return abort(conn.AbortPeerTimeout)
		case EventReject:
			if ev.RejectedOpcode == llcp.OpcodeEncReq {
				return abort(conn.AbortPeerRejected)
			}
		case EventMalformed, EventEncReq, EventStartEncReq, EventStartEncRsp:
			return abort(conn.AbortProtocolViolation)
		}

	case conn.StateWaitKeyDerivation:
		switch ev.Kind {
		case EventDerivationDone:
			return Transition{
				Next: conn.StateWaitStartConfirm,
				Actions: []Action{
					{Kind: ActionStorePendingKey},
					{Kind: ActionSendStartEncReq},
					{Kind: ActionArmDeadline},
				},
			}
		case EventDerivationFailed:
			return abort(conn.AbortDerivationFailure)
		case EventMalformed, EventEncReq, EventStartEncReq, EventStartEncRsp:
			return abort(conn.AbortProtocolViolation)
		}

	case conn.StateWaitStartConfirm:
		switch ev.Kind {
		case EventStartEncRsp:
			return Transition{
				Next: conn.StateEncrypted,
				Actions: []Action{
					{Kind: ActionDisarmDeadline},
					{Kind: ActionEnterEncrypted},
				},
			}
		case EventTimeout, EventMalformed, EventReject:
			return abort(conn.AbortHandshakeFailed)
		case EventEncReq, EventStartEncReq:
			return abort(conn.AbortProtocolViolation)
		}
	}
	return ignore(s)
}

func stepSlave(s Snapshot, ev Event) Transition {
	switch s.State {
	case conn.StateWaitRequest:
		if ev.Kind != EventEncReq {
			break
		}
		if !ev.KeyFound {
			return Transition{
				Next:    conn.StateWaitRequest,
				Actions: []Action{{Kind: ActionSendReject, ErrorCode: llcp.ErrorCodePINOrKeyMissing}},
			}
		}
		return Transition{
			Next: conn.StateWaitKeyDerivation,
			Actions: []Action{
				{Kind: ActionBeginAttempt},
				{Kind: ActionBindLongTermKey},
				{Kind: ActionBindPeerVectors},
				{Kind: ActionGenerateVectors},
				{Kind: ActionSendEncRsp},
				{Kind: ActionRequestDerivation},
			},
		}

	case conn.StateWaitKeyDerivation:
		switch ev.Kind {
		case EventDerivationDone:
			if s.StartPending {
				return Transition{
					Next: conn.StateEncrypted,
					Actions: []Action{
						{Kind: ActionStorePendingKey},
						{Kind: ActionEnableReceive},
						{Kind: ActionSendStartEncRsp},
						{Kind: ActionEnterEncrypted},
					},
				}
			}
			return Transition{
				Next: conn.StateWaitStartConfirm,
				Actions: []Action{
					{Kind: ActionStorePendingKey},
					{Kind: ActionArmDeadline},
				},
			}
		case EventDerivationFailed:
			return abort(conn.AbortDerivationFailure)
		case EventStartEncReq:
			return Transition{
				Next:    conn.StateWaitKeyDerivation,
				Actions: []Action{{Kind: ActionRememberStart}},
			}
		case EventMalformed, EventEncRsp, EventStartEncRsp:
			return abort(conn.AbortProtocolViolation)
		}

	case conn.StateWaitStartConfirm:
		switch ev.Kind {
		case EventStartEncReq:
			return Transition{
				Next: conn.StateEncrypted,
				Actions: []Action{
					{Kind: ActionDisarmDeadline},
					{Kind: ActionEnableReceive},
					{Kind: ActionSendStartEncRsp},
					{Kind: ActionEnterEncrypted},
				},
			}
		case EventTimeout, EventMalformed:
			return abort(conn.AbortHandshakeFailed)
		case EventEncRsp, EventStartEncRsp:
			return abort(conn.AbortProtocolViolation)
		}
	}
	return ignore(s)
}

func abort(reason conn.AbortReason) Transition {
	return Transition{
		Next: conn.StateAborted,
		Actions: []Action{
			{Kind: ActionDisarmDeadline},
			{Kind: ActionCancelDerivation},
			{Kind: ActionAbort, Reason: reason},
		},
	}
}

func reject(s Snapshot, err error) Transition {
	return Transition{Next: s.State, Err: err}
}

func ignore(s Snapshot) Transition {
	return Transition{Next: s.State, Ignored: true}
}
