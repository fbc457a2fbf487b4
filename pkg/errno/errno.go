package errno

import "errors"

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage 返回一个附带详细信息的副本，Code 不变
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: e.Message + ": " + msg}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	var typedPtr *Errno
	if errors.As(err, &typedPtr) && typedPtr != nil {
		return typedPtr.Code, typedPtr.Message
	}
	return InternalServerError.Code, err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrServiceBusy      = Errno{Code: 10005, Message: "Service busy, retry later"}
)

// Off-ramp Errors (30000+)
var (
	ErrTransactionNotFound = Errno{Code: 30101, Message: "Off-ramp transaction not found"}
	ErrUnsupportedNetwork  = Errno{Code: 30102, Message: "Unsupported network"}
	ErrWalletBusy          = Errno{Code: 30103, Message: "Wallet already has an active off-ramp transaction"}
	ErrPipelineBusy        = Errno{Code: 30104, Message: "Pipeline already running for this wallet"}
	ErrCannotRestart       = Errno{Code: 30105, Message: "Transaction cannot be restarted"}

	ErrDerivation             = Errno{Code: 30201, Message: "Wallet derivation failed"}
	ErrInsufficientBalance    = Errno{Code: 30202, Message: "No deposit detected"}
	ErrGasFunding             = Errno{Code: 30203, Message: "Gas funding failed"}
	ErrSwap                   = Errno{Code: 30204, Message: "Swap failed"}
	ErrSettlementVerification = Errno{Code: 30205, Message: "Settlement not yet verified"}
	ErrFeeTooSmall            = Errno{Code: 30206, Message: "Amount too small after fee"}
	ErrPayoutGateway          = Errno{Code: 30207, Message: "Payout gateway error"}
)
