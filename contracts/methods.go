package contracts

// 直通调用的方法名
const (
	MethodPermit      = "permit"
	MethodPermitAsset = "permitAsset"
	MethodPermitAll   = "permitAll"

	MethodApprove           = "approve"
	MethodTransfer          = "transfer"
	MethodSetApprovalForAll = "setApprovalForAll"
	MethodDepositAsset      = "depositAsset"
	MethodWithdraw          = "withdraw"

	MethodAddAsset         = "addAsset"
	MethodRemoveAsset      = "removeAsset"
	MethodAddCollateral    = "addCollateral"
	MethodRemoveCollateral = "removeCollateral"
	MethodBorrow           = "borrow"
	MethodRepay            = "repay"

	MethodLock        = "lock"
	MethodUnlock      = "unlock"
	MethodParticipate = "participate"
	MethodExit        = "exitPosition"
)
