package taskname

const (
	// Reward tasks
	StakingAnnounce = "staking:reward:announce"
	StakingFund     = "staking:reward:fund"
	StakingPay      = "staking:reward:pay"

	// Position tasks
	StakingExtend  = "staking:position:extend"
	StakingRelease = "staking:position:release"

	// Wallet tasks
	WalletSettle = "wallet:transfer:settle"
)
