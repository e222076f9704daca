package ledger

const (
	operationCredit    = "credit"
	operationDebit     = "debit"
	operationReconcile = "reconcile"

	// OperationStatusOK marks a committed operation in an OperationLog.
	OperationStatusOK = "ok"
	// OperationStatusError marks a rejected or rolled back operation in an OperationLog.
	OperationStatusError = "error"

	creditTransactionPrefix = "CR"
	debitTransactionPrefix  = "DR"
	transactionIDDelimiter  = "-"

	defaultSnowflakeNode int64 = 1
)
