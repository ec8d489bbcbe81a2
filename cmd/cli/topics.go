package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var topicsChain string

// topicsCmd 列出可订阅的主题
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "列出可订阅的主题",
	Long:  "列出指定链上可订阅的事件主题及其是否支持断点续传",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer func() {
			_ = client.Close(ctx)
		}()

		topics, err := client.Topics(ctx, topicsChain)
		if err != nil {
			return fmt.Errorf("查询主题列表: %w", err)
		}

		return formatter.Print(topics)
	},
}

func init() {
	topicsCmd.Flags().StringVar(&topicsChain, "chain", "", "链ID (默认使用profile配置)")

	rootCmd.AddCommand(topicsCmd)
}
