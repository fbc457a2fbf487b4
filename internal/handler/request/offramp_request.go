package request

type CreateAddressRequest struct {
	UserID        *string `json:"user_id" binding:"omitempty,min=1,max=64"`
	Network       string  `json:"network" binding:"required,oneof=ethereum base polygon arbitrum"`
	AccountNumber string  `json:"account_number" binding:"required,nuban"`
	BankCode      string  `json:"bank_code" binding:"required,bankcode"`
	BankName      string  `json:"bank_name" binding:"max=100"`
	AccountName   string  `json:"account_name" binding:"max=100"`
}
