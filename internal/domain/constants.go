package domain

import "time"

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Payment and withdrawal lifecycle. Both only ever move out of pending once.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	DownloadTokenTTL     = 24 * time.Hour
	VerificationCodeTTL  = 24 * time.Hour
	PasswordResetTTL     = time.Hour
	VerificationCodeSize = 32
)

// Audit actions.
const (
	AuditPaymentCompleted     = "payment.completed"
	AuditPaymentFailed        = "payment.failed"
	AuditPaymentUnderpaid     = "payment.underpaid"
	AuditCallbackUnknown      = "payment.callback_unknown"
	AuditCheckoutUnrecorded   = "payment.checkout_unrecorded"
	AuditTokenIssued          = "download_token.issued"
	AuditTokenRedeemed        = "download_token.redeemed"
	AuditTokenMisuse          = "download_token.misuse"
	AuditWithdrawalCreated    = "withdrawal.created"
	AuditWithdrawalSettled    = "withdrawal.settled"
	AuditWithdrawalUnknown    = "withdrawal.result_unknown"
	AuditWithdrawalUnrecorded = "withdrawal.conversation_unrecorded"
	AuditUserDeleted          = "user.deleted"
	AuditUserVerifiedByAdmin  = "user.verified_by_admin"
)
