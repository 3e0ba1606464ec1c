package commands

import (
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var (
	network    string
	definition string
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Print the genesis block of a network",
	RunE:  genesisRun,
}

func init() {
	rootCmd.AddCommand(genesisCmd)
	genesisCmd.Flags().StringVarP(&network, "network", "n", genesis.Mainnet, "Name of the built in network.")
	genesisCmd.Flags().StringVarP(&definition, "definition", "d", "", "Network definition file overriding the built in network.")
}

func loadGenesis() (genesis.Genesis, error) {
	if definition != "" {
		return genesis.Load(definition)
	}
	return genesis.Definition(network)
}

func genesisRun(cmd *cobra.Command, args []string) error {
	gen, err := loadGenesis()
	if err != nil {
		return err
	}

	cur, err := currency.New(gen)
	if err != nil {
		return err
	}

	block := cur.GenesisBlock()

	fmt.Printf("Network:   %s\n", gen.Network)
	fmt.Printf("Hash:      %s\n", cur.GenesisHash())
	fmt.Printf("Timestamp: %d\n", block.Timestamp)
	fmt.Printf("Nonce:     %d\n", block.Nonce)
	fmt.Printf("Blob:      %x\n", block.Encode())

	return nil
}
