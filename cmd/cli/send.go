package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	sendRecipient string
	sendTitle     string
	sendMessage   string
	sendCategory  string
	sendPriority  string
	sendTemplate  string
	sendVars      map[string]string
	sendChannels  []string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a notification through the engine",
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{
			"recipient_id": sendRecipient,
			"category":     sendCategory,
			"priority":     sendPriority,
		}
		if sendTemplate != "" {
			req["template_key"] = sendTemplate
			if len(sendVars) > 0 {
				vars := make(map[string]any, len(sendVars))
				for k, v := range sendVars {
					vars[k] = v
				}
				req["template_vars"] = vars
			}
		} else {
			req["title"] = sendTitle
			req["message"] = sendMessage
		}
		if len(sendChannels) > 0 {
			req["channels"] = sendChannels
		}

		body, _ := json.Marshal(req)
		resp, err := http.Post(engineURL()+"/api/v1/notifications", "application/json", bytes.NewBuffer(body))
		if err != nil {
			fmt.Printf("Error connecting to engine: %v\n", err)
			return
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusCreated {
			fmt.Printf("Send failed (%s): %s\n", resp.Status, raw)
			return
		}

		var n struct {
			ID string `json:"id"`
		}
		json.Unmarshal(raw, &n)
		fmt.Printf("Notification sent: %s\n", n.ID)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendRecipient, "recipient", "", "recipient ID (required)")
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "notification title")
	sendCmd.Flags().StringVar(&sendMessage, "message", "", "notification message")
	sendCmd.Flags().StringVar(&sendCategory, "category", "SYSTEM", "category (SYSTEM, SECURITY, ORDER, PAYMENT, MARKETING)")
	sendCmd.Flags().StringVar(&sendPriority, "priority", "NORMAL", "priority (LOW, NORMAL, HIGH, URGENT)")
	sendCmd.Flags().StringVar(&sendTemplate, "template", "", "template key to render instead of title/message")
	sendCmd.Flags().StringToStringVar(&sendVars, "var", nil, "template variables (key=value, repeatable)")
	sendCmd.Flags().StringSliceVar(&sendChannels, "channel", nil, "delivery channels (IN_APP, EMAIL)")
	sendCmd.MarkFlagRequired("recipient")
	rootCmd.AddCommand(sendCmd)
}
