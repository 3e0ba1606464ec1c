// Package genesis maintains access to the network definitions. A definition
// carries the genesis block parameters along with every consensus constant
// of the network.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"gopkg.in/yaml.v3"
)

// Names of the built in networks.
const (
	Mainnet = "mainnet"
	Testnet = "testnet"
)

// Checkpoint pins the hash of the main chain block at a height.
type Checkpoint struct {
	Height uint32         `json:"height" yaml:"height"`
	Hash   signature.Hash `json:"hash" yaml:"hash"`
}

// Genesis represents a network definition.
type Genesis struct {
	Network string `json:"network" yaml:"network"`

	// Genesis block.
	Timestamp     uint64              `json:"timestamp" yaml:"timestamp"`
	Nonce         uint32              `json:"nonce" yaml:"nonce"`
	RewardKey     signature.PublicKey `json:"reward_key" yaml:"reward_key"`         // Receives the genesis reward.
	GenesisReward uint64              `json:"genesis_reward" yaml:"genesis_reward"` // Amount minted by the genesis block.

	// Emission.
	MoneySupply            uint64 `json:"money_supply" yaml:"money_supply"`
	StartBlockReward       uint64 `json:"start_block_reward" yaml:"start_block_reward"`
	MaxBlockReward         uint64 `json:"max_block_reward" yaml:"max_block_reward"`
	FoundationTrust        uint64 `json:"foundation_trust" yaml:"foundation_trust"` // Reward of the block at height 1.
	RewardIncreaseInterval uint32 `json:"reward_increase_interval" yaml:"reward_increase_interval"`

	// Fees and denominations.
	MinimumFee    uint64 `json:"minimum_fee" yaml:"minimum_fee"`
	DustThreshold uint64 `json:"dust_threshold" yaml:"dust_threshold"`

	// Difficulty.
	DifficultyTarget uint64 `json:"difficulty_target" yaml:"difficulty_target"` // Seconds between blocks.
	DifficultyWindow int    `json:"difficulty_window" yaml:"difficulty_window"`
	DifficultyCut    int    `json:"difficulty_cut" yaml:"difficulty_cut"`
	DifficultyLag    int    `json:"difficulty_lag" yaml:"difficulty_lag"`

	// Timestamps.
	TimestampCheckWindow int    `json:"timestamp_check_window" yaml:"timestamp_check_window"`
	BlockFutureTimeLimit uint64 `json:"block_future_time_limit" yaml:"block_future_time_limit"`

	// Block sizes.
	RewardBlocksWindow            int    `json:"reward_blocks_window" yaml:"reward_blocks_window"`
	FullRewardZone                uint64 `json:"full_reward_zone" yaml:"full_reward_zone"`
	CoinbaseBlobReservedSize      uint64 `json:"coinbase_blob_reserved_size" yaml:"coinbase_blob_reserved_size"`
	MaxBlockSizeInitial           uint64 `json:"max_block_size_initial" yaml:"max_block_size_initial"`
	MaxBlockSizeGrowthNumerator   uint64 `json:"max_block_size_growth_numerator" yaml:"max_block_size_growth_numerator"`
	MaxBlockSizeGrowthDenominator uint64 `json:"max_block_size_growth_denominator" yaml:"max_block_size_growth_denominator"`

	// Unlocking.
	MinedMoneyUnlockWindow     uint32 `json:"mined_money_unlock_window" yaml:"mined_money_unlock_window"`
	SpendableAge               uint32 `json:"spendable_age" yaml:"spendable_age"`
	LockedTxAllowedDeltaBlocks uint64 `json:"locked_tx_allowed_delta_blocks" yaml:"locked_tx_allowed_delta_blocks"`
	MaxBlockNumber             uint64 `json:"max_block_number" yaml:"max_block_number"` // Unlock times below are heights, above are timestamps.

	// Memory pool.
	MempoolTxLiveTime             uint64 `json:"mempool_tx_live_time" yaml:"mempool_tx_live_time"`
	MempoolTxFromAltBlockLiveTime uint64 `json:"mempool_tx_from_alt_block_live_time" yaml:"mempool_tx_from_alt_block_live_time"`
	ForgetDeletedPeriods          uint64 `json:"forget_deleted_periods" yaml:"forget_deleted_periods"`

	// Fusion transactions.
	FusionTxMaxSize       uint64 `json:"fusion_tx_max_size" yaml:"fusion_tx_max_size"`
	FusionTxMinInputCount int    `json:"fusion_tx_min_input_count" yaml:"fusion_tx_min_input_count"`
	FusionTxMinInOutRatio int    `json:"fusion_tx_min_in_out_ratio" yaml:"fusion_tx_min_in_out_ratio"`

	// Deposits.
	DepositMinTerm      uint32 `json:"deposit_min_term" yaml:"deposit_min_term"`
	DepositMaxTerm      uint32 `json:"deposit_max_term" yaml:"deposit_max_term"`
	DepositMaxTotalRate uint64 `json:"deposit_max_total_rate" yaml:"deposit_max_total_rate"`
	EndMultiplierBlock  uint32 `json:"end_multiplier_block" yaml:"end_multiplier_block"`
	MultiplierFactor    uint64 `json:"multiplier_factor" yaml:"multiplier_factor"`

	// Versions and checkpoints.
	UpgradeHeights []uint32     `json:"upgrade_heights" yaml:"upgrade_heights"` // Height where major version i+2 starts.
	Checkpoints    []Checkpoint `json:"checkpoints" yaml:"checkpoints"`
}

// =============================================================================

// coin is the number of atomic units in one coin.
const coin = 1_000_000

// generator is the secp256k1 base point in compressed form.
var generator = signature.PublicKey{
	0x02, 0x79, 0xbe, 0x66, 0x7e, 0xf9, 0xdc, 0xbb, 0xac, 0x55, 0xa0, 0x62, 0x95, 0xce, 0x87, 0x0b,
	0x07, 0x02, 0x9b, 0xfc, 0xdb, 0x2d, 0xce, 0x28, 0xd9, 0x59, 0xf2, 0x81, 0x5b, 0x16, 0xf8, 0x17,
	0x98,
}

// MainnetDefinition returns the definition of the main network.
func MainnetDefinition() Genesis {
	const target = 120

	return Genesis{
		Network:       Mainnet,
		Timestamp:     1527078920,
		Nonce:         10000,
		RewardKey:     generator,
		GenesisReward: 5 * 1000,

		MoneySupply:            200_000_000 * coin,
		StartBlockReward:       5 * 1000,
		MaxBlockReward:         15 * coin,
		FoundationTrust:        12_000_000 * coin,
		RewardIncreaseInterval: 21900,

		MinimumFee:    10,
		DustThreshold: 10,

		DifficultyTarget: target,
		DifficultyWindow: 24 * 60 * 60 / target,
		DifficultyCut:    60,
		DifficultyLag:    15,

		TimestampCheckWindow: 30,
		BlockFutureTimeLimit: 60 * 60 * 2,

		RewardBlocksWindow:            100,
		FullRewardZone:                100_000,
		CoinbaseBlobReservedSize:      600,
		MaxBlockSizeInitial:           100_000 * 10,
		MaxBlockSizeGrowthNumerator:   100 * 1024,
		MaxBlockSizeGrowthDenominator: 365 * 24 * 60 * 60 / target,

		MinedMoneyUnlockWindow:     10,
		SpendableAge:               10,
		LockedTxAllowedDeltaBlocks: 1,
		MaxBlockNumber:             500_000_000,

		MempoolTxLiveTime:             60 * 60 * 12,
		MempoolTxFromAltBlockLiveTime: 60 * 60 * 12,
		ForgetDeletedPeriods:          7,

		FusionTxMaxSize:       100_000 * 30 / 100,
		FusionTxMinInputCount: 12,
		FusionTxMinInOutRatio: 4,

		DepositMinTerm:      5040,
		DepositMaxTerm:      64800 * 20,
		DepositMaxTotalRate: 4,
		EndMultiplierBlock:  12750,
		MultiplierFactor:    100,

		UpgradeHeights: []uint32{1, 12750},
	}
}

// TestnetDefinition returns the definition of the test network.
func TestnetDefinition() Genesis {
	g := MainnetDefinition()
	g.Network = Testnet
	g.Timestamp = 1527078921
	g.Nonce = 10001
	g.FoundationTrust = 0
	g.UpgradeHeights = []uint32{1, 100}
	return g
}

// Definition returns the built in definition for the network name.
func Definition(network string) (Genesis, error) {
	switch network {
	case Mainnet:
		return MainnetDefinition(), nil
	case Testnet:
		return TestnetDefinition(), nil
	}
	return Genesis{}, fmt.Errorf("unknown network %q", network)
}

// =============================================================================

// Load opens and consumes a network definition file. Files ending in .yaml
// or .yml are read as yaml, anything else as json. Fields the file leaves
// out keep the value of the built in network named by the file, mainnet
// when the file doesn't name one.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	unmarshal := json.Unmarshal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	}

	var named struct {
		Network string `json:"network" yaml:"network"`
	}
	if err := unmarshal(content, &named); err != nil {
		return Genesis{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	genesis := MainnetDefinition()
	if named.Network == Testnet {
		genesis = TestnetDefinition()
	}

	if err := unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, fmt.Errorf("validating %s: %w", path, err)
	}

	return genesis, nil
}

// Validate checks the parameters are consistent with each other.
func (g Genesis) Validate() error {
	switch {
	case g.Network == "":
		return errors.New("network name is required")
	case g.DifficultyTarget == 0:
		return errors.New("difficulty target must be positive")
	case g.DifficultyWindow < 2 || 2*g.DifficultyCut > g.DifficultyWindow-2:
		return errors.New("bad difficulty window or cut")
	case g.TimestampCheckWindow < 1:
		return errors.New("timestamp check window must be positive")
	case g.RewardBlocksWindow < 1:
		return errors.New("reward blocks window must be positive")
	case g.MaxBlockSizeGrowthDenominator == 0:
		return errors.New("block size growth denominator must be positive")
	case g.DepositMinTerm == 0 || g.DepositMinTerm > g.DepositMaxTerm:
		return errors.New("bad deposit terms")
	case g.FusionTxMinInOutRatio < 1:
		return errors.New("fusion in out ratio must be positive")
	case g.GenesisReward > g.MoneySupply:
		return errors.New("genesis reward exceeds money supply")
	case !signature.CheckKey(g.RewardKey):
		return errors.New("reward key is not a valid public key")
	}

	for i := 1; i < len(g.UpgradeHeights); i++ {
		if g.UpgradeHeights[i] <= g.UpgradeHeights[i-1] {
			return errors.New("upgrade heights must be increasing")
		}
	}

	return nil
}
