package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wtsi-hgi/irobot/internal/cliutil"
)

var (
	statusOutput string
	statusURL    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show precache broker status",
	Long: `Query a running irobotd instance's liveness and precache status.

Examples:
  # Check status against the default listen address
  irobotd status

  # Check a broker listening elsewhere
  irobotd status --url http://localhost:9000

  # Output as JSON
  irobotd status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:8080", "Base URL of the running broker")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// brokerStatus is the CLI's composed view of the broker's health and
// precache status, built from two separate HTTP calls.
type brokerStatus struct {
	Reachable  bool    `json:"reachable" yaml:"reachable"`
	Healthy    bool    `json:"healthy" yaml:"healthy"`
	Commitment uint64  `json:"commitment,omitempty" yaml:"commitment,omitempty"`
	Capacity   uint64  `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	RateBps    float64 `json:"rate_bytes_per_second,omitempty" yaml:"rate_bytes_per_second,omitempty"`
	Message    string  `json:"message" yaml:"message"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 2 * time.Second}

	status := brokerStatus{Message: "broker is not reachable"}

	if resp, err := client.Get(statusURL + "/healthz"); err == nil {
		defer func() { _ = resp.Body.Close() }()
		status.Reachable = true
		status.Healthy = resp.StatusCode == http.StatusOK
	}

	if status.Reachable {
		if resp, err := client.Get(statusURL + "/status"); err == nil {
			defer func() { _ = resp.Body.Close() }()
			var body struct {
				Data struct {
					Commitment uint64  `json:"commitment"`
					Capacity   uint64  `json:"capacity"`
					RateBps    float64 `json:"rate_bytes_per_second"`
				} `json:"data"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
				status.Commitment = body.Data.Commitment
				status.Capacity = body.Data.Capacity
				status.RateBps = body.Data.RateBps
			}
		}
		if status.Healthy {
			status.Message = "broker is running and healthy"
		} else {
			status.Message = "broker is running but unhealthy"
		}
	}

	switch statusOutput {
	case "json":
		return cliutil.PrintJSON(os.Stdout, status)
	case "yaml":
		return cliutil.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
		return nil
	}
}

func printStatusTable(status brokerStatus) {
	fmt.Println()
	fmt.Println("irobotd Status")
	fmt.Println("==============")
	fmt.Println()

	if status.Reachable {
		if status.Healthy {
			fmt.Printf("  Status:      \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:      \033[33m● Running (unhealthy)\033[0m\n")
		}
		fmt.Printf("  Commitment:  %d bytes\n", status.Commitment)
		fmt.Printf("  Capacity:    %d bytes\n", status.Capacity)
		fmt.Printf("  Rate:        %.0f bytes/sec\n", status.RateBps)
	} else {
		fmt.Printf("  Status:      \033[31m○ Unreachable\033[0m\n")
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
