package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weisyn/go-wesstream/core/transport"
)

var (
	backfillChain string
	backfillFrom  int64
	backfillLimit int
)

// backfillCmd 回填历史事件
var backfillCmd = &cobra.Command{
	Use:   "backfill <topic>",
	Short: "回填历史事件",
	Long: `按位置区间拉取历史事件,配合 listen --from 实现先补后追:
先回填到某个位置,再从该位置订阅实时流。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := args[0]

		client, err := getClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer func() {
			_ = client.Close(ctx)
		}()

		query := transport.EventQuery{
			Topic:   topic,
			ChainID: backfillChain,
			Limit:   backfillLimit,
		}
		if backfillFrom >= 0 {
			p := uint64(backfillFrom)
			query.From = &p
		}

		page, err := client.Backfill(ctx, query)
		if err != nil {
			return fmt.Errorf("回填事件: %w", err)
		}

		if err := formatter.Print(page.Events); err != nil {
			return err
		}
		if page.NextPosition != nil {
			formatter.PrintInfo(fmt.Sprintf("下一页起始位置: %d", *page.NextPosition))
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillChain, "chain", "", "链ID (默认使用profile配置)")
	backfillCmd.Flags().Int64Var(&backfillFrom, "from", -1, "起始位置 (默认从最早的事件开始)")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 100, "单页事件数量上限")

	rootCmd.AddCommand(backfillCmd)
}
