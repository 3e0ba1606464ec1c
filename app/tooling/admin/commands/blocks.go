package commands

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage"
	"github.com/spf13/cobra"
)

var (
	dataDir     string
	storageKind string
	fromHeight  uint64
	limit       int
)

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Print the blocks stored by a stopped node",
	RunE:  blocksRun,
}

func init() {
	rootCmd.AddCommand(blocksCmd)
	blocksCmd.Flags().StringVarP(&dataDir, "data", "D", "zblock", "Data directory of the node.")
	blocksCmd.Flags().StringVarP(&storageKind, "storage", "s", storage.KindDisk, "Storage backend of the node, disk or bolt.")
	blocksCmd.Flags().StringVarP(&network, "network", "n", "mainnet", "Network the data belongs to.")
	blocksCmd.Flags().Uint64VarP(&fromHeight, "from", "f", 0, "First height to print.")
	blocksCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of blocks to print.")
}

func blocksRun(cmd *cobra.Command, args []string) error {
	if storageKind == storage.KindMemory {
		return errors.New("a memory storage has nothing to print")
	}

	store, err := storage.Open(storageKind, filepath.Join(dataDir, network))
	if err != nil {
		return err
	}
	defer store.Close()

	for height := fromHeight; limit <= 0 || height < fromHeight+uint64(limit); height++ {
		bd, err := store.GetBlock(height)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				break
			}
			return fmt.Errorf("reading block %d: %w", height, err)
		}

		fmt.Printf("Height: %d  Hash: %s  Prev: %s  Time: %d  Txs: %d  Size: %d  CumDiff: %d  Coins: %d\n",
			bd.Height, bd.Hash, bd.Block.PreviousBlockHash, bd.Block.Timestamp, len(bd.Block.TransactionHashes),
			bd.BlockSize, bd.CumulativeDifficulty, bd.AlreadyGeneratedCoins)
	}

	return nil
}
