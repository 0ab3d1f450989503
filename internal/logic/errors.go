package logic

import "errors"

var (
	ErrUnauthorized              = errors.New("unauthorized")
	ErrInvalidMilestoneIndex     = errors.New("invalid milestone index")
	ErrInvalidMilestoneStatus    = errors.New("invalid milestone status")
	ErrInvalidArgument           = errors.New("invalid argument")
	ErrAccountAlreadyInitialized = errors.New("account already initialized")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrAgreementDisputed         = errors.New("agreement disputed")

	ErrAgreementNotFound      = errors.New("agreement not found")
	ErrInvalidAgreementStatus = errors.New("invalid agreement status")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrParticipantExists      = errors.New("participant already exists")
	ErrTransferFailed         = errors.New("transfer failed")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidMilestoneIndex, "InvalidMilestoneIndex"},
	{ErrInvalidMilestoneStatus, "InvalidMilestoneStatus"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrAccountAlreadyInitialized, "AccountAlreadyInitialized"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrAgreementDisputed, "AgreementDisputed"},
	{ErrAgreementNotFound, "AgreementNotFound"},
	{ErrInvalidAgreementStatus, "InvalidAgreementStatus"},
	{ErrCapacityExceeded, "CapacityExceeded"},
	{ErrParticipantExists, "ParticipantExists"},
	{ErrTransferFailed, "TransferFailed"},
}

// ErrorCode 返回错误对应的稳定错误码，未知错误返回 Internal
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "Internal"
}
