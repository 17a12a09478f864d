package audit

import (
	"context"

	"github.com/weiawesome/alumni-chat/pkg/log"
)

// Audit actions.
const (
	ActionSessionOpened     = "chat.session_opened"
	ActionSessionClosed     = "chat.session_closed"
	ActionAuthFailed        = "chat.auth_failed"
	ActionForceDisconnect   = "chat.force_disconnect"
	ActionSendMessage       = "chat.send_message"
	ActionMarkRead          = "chat.mark_read"
	ActionUploadAttachment  = "chat.upload_attachment"
	ActionConnectionRequest = "connection.request"
	ActionConnectionAccept  = "connection.accept"
	ActionConnectionReject  = "connection.reject"
	ActionConnectionRemove  = "connection.remove"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}
