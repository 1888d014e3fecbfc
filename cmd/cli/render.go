package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var renderVars map[string]string

var renderCmd = &cobra.Command{
	Use:   "render <template-key>",
	Short: "Render a template without sending a notification",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		vars := make(map[string]any, len(renderVars))
		for k, v := range renderVars {
			vars[k] = v
		}
		body, _ := json.Marshal(map[string]any{"variables": vars})

		resp, err := http.Post(engineURL()+"/api/v1/templates/"+args[0]+"/render", "application/json", bytes.NewBuffer(body))
		if err != nil {
			fmt.Printf("Error connecting to engine: %v\n", err)
			return
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("Render failed (%s): %s\n", resp.Status, raw)
			return
		}

		var rendered struct {
			Title   string `json:"title"`
			Message string `json:"message"`
			Version int    `json:"version"`
		}
		json.Unmarshal(raw, &rendered)
		fmt.Printf("Title:   %s\n", rendered.Title)
		fmt.Printf("Message: %s\n", rendered.Message)
		fmt.Printf("Version: %d\n", rendered.Version)
	},
}

func init() {
	renderCmd.Flags().StringToStringVar(&renderVars, "var", nil, "template variables (key=value, repeatable)")
	rootCmd.AddCommand(renderCmd)
}
