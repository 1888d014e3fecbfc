package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	metricsRecipient string
	metricsFrom      string
	metricsTo        string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show delivery metrics",
	Run: func(cmd *cobra.Command, args []string) {
		q := url.Values{}
		if metricsRecipient != "" {
			q.Set("recipient_id", metricsRecipient)
		}
		if metricsFrom != "" {
			q.Set("from", metricsFrom)
		}
		if metricsTo != "" {
			q.Set("to", metricsTo)
		}

		resp, err := http.Get(engineURL() + "/api/v1/metrics/delivery?" + q.Encode())
		if err != nil {
			fmt.Printf("Error connecting to engine: %v\n", err)
			return
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("Request failed (%s): %s\n", resp.Status, raw)
			return
		}

		var m struct {
			TotalSent           int     `json:"total_sent"`
			TotalFailed         int     `json:"total_failed"`
			TotalDelivered      int     `json:"total_delivered"`
			TotalOpened         int     `json:"total_opened"`
			TotalClicked        int     `json:"total_clicked"`
			OpenRate            float64 `json:"open_rate"`
			ClickRate           float64 `json:"click_rate"`
			AvgTimeToOpen       float64 `json:"average_time_to_open_seconds"`
			DeliverySuccessRate float64 `json:"delivery_success_rate"`
		}
		json.Unmarshal(raw, &m)

		fmt.Printf("Sent:         %d\n", m.TotalSent)
		fmt.Printf("Delivered:    %d (%.1f%%)\n", m.TotalDelivered, m.DeliverySuccessRate*100)
		fmt.Printf("Failed:       %d\n", m.TotalFailed)
		fmt.Printf("Opened:       %d (%.1f%%)\n", m.TotalOpened, m.OpenRate*100)
		fmt.Printf("Clicked:      %d (%.1f%%)\n", m.TotalClicked, m.ClickRate*100)
		fmt.Printf("Avg open lag: %.0fs\n", m.AvgTimeToOpen)
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsRecipient, "recipient", "", "filter by recipient ID")
	metricsCmd.Flags().StringVar(&metricsFrom, "from", "", "start of range (RFC3339)")
	metricsCmd.Flags().StringVar(&metricsTo, "to", "", "end of range (RFC3339)")
	rootCmd.AddCommand(metricsCmd)
}
