package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// chainsCmd 列出网关可用的链
var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "列出可用的链",
	Long:  "列出网关提供事件流的所有链及其当前高度",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer func() {
			_ = client.Close(ctx)
		}()

		chains, err := client.Chains(ctx)
		if err != nil {
			return fmt.Errorf("查询链列表: %w", err)
		}

		return formatter.Print(chains)
	},
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}
