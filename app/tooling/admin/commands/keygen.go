package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var keyFile string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the spend and view keys of a new account",
	RunE:  keygenRun,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keyFile, "out", "o", "", "File to write the keys to, prints them when empty.")
}

// account is the document written for a generated account.
type account struct {
	Address     database.AccountAddress `json:"address"`
	SpendSecret signature.SecretKey     `json:"spend_secret"`
	ViewSecret  signature.SecretKey     `json:"view_secret"`
}

func keygenRun(cmd *cobra.Command, args []string) error {
	spendPub, spendSec, err := signature.GenerateKeys()
	if err != nil {
		return fmt.Errorf("generating spend keys: %w", err)
	}

	viewPub, viewSec, err := signature.GenerateKeys()
	if err != nil {
		return fmt.Errorf("generating view keys: %w", err)
	}

	acct := account{
		Address:     database.AccountAddress{SpendKey: spendPub, ViewKey: viewPub},
		SpendSecret: spendSec,
		ViewSecret:  viewSec,
	}

	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return err
	}

	if keyFile == "" {
		fmt.Println(string(data))
		return nil
	}

	if err := os.WriteFile(keyFile, data, 0600); err != nil {
		return fmt.Errorf("writing keys: %w", err)
	}

	log.Infow("keygen", "file", keyFile, "address", acct.Address)
	return nil
}
