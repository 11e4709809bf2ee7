package constants

const (
	AppName           = "collateral-client"
	ProviderCacheFile = "provider_cache.json"
	WalletFile        = "wallet.json"
	KeystoreDir       = "keystore"
	JournalFile       = "journal.db"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// CacheWalletKey is the provider cache key holding the last used wallet provider.
	CacheWalletKey = "wallet"

	// AAD const for the encrypted key file
	AADConstant = "collateral-client:ethwallet:v1"

	// NativeAddr is the pseudo token address used for ETH by swap aggregators.
	NativeAddr = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

	SecondsInYear = 365 * 24 * 60 * 60
)
