package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weisyn/go-wesstream/core/output"
)

// sessionCmd 会话相关命令
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "会话管理",
	Long:  "用API Key换取短期会话令牌,令牌用于流连接鉴权",
}

// sessionCreateCmd 换取会话令牌
var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "换取会话令牌",
	Long:  "用当前profile的API Key向网关换取会话令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer func() {
			_ = client.Close(ctx)
		}()

		rest := client.REST()
		if rest == nil {
			return fmt.Errorf("当前profile未配置REST端点")
		}

		session, err := rest.CreateSession(ctx)
		if err != nil {
			return fmt.Errorf("创建会话: %w", err)
		}

		formatter.PrintSuccess("会话创建成功")
		return formatter.Print(output.NewSuccessOutput(map[string]interface{}{
			"token":      session.Token,
			"expires_at": time.Unix(session.ExpiresAt, 0).Format(time.RFC3339),
		}, ""))
	},
}

// pingCmd 探测网关可达性
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "探测网关可达性",
	Long:  "请求网关健康检查端点,确认REST侧可达",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer func() {
			_ = client.Close(ctx)
		}()

		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("网关不可达: %w", err)
		}

		formatter.PrintSuccess("网关可达")
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionCreateCmd)

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(pingCmd)
}
