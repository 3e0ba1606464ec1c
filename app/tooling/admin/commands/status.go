package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
	"github.com/spf13/cobra"
)

var url string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of a running node",
	RunE:  statusRun,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:9080", "Url of the private api of the node.")
}

func statusRun(cmd *cobra.Command, args []string) error {
	client := http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(url + "/v1/node/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node status: %s", resp.Status)
	}

	var status peer.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	fmt.Printf("Height:       %d (observed %d)\n", status.Height, status.ObservedHeight)
	fmt.Printf("Tail:         %s\n", status.TailID)
	fmt.Printf("Difficulty:   %d\n", status.Difficulty)
	fmt.Printf("Pool:         %d\n", status.PoolSize)
	fmt.Printf("Synchronized: %t\n", status.Synchronized)
	fmt.Printf("Peers:        %d\n", status.PeerCount)

	for _, c := range status.Connections {
		fmt.Printf("  %s  host[%s]  inbound[%t]  state[%s]  height[%d]\n", c.ID, c.Host, c.Inbound, c.State, c.RemoteHeight)
	}
	for _, p := range status.KnownPeers {
		fmt.Printf("  known %s\n", p)
	}

	return nil
}
