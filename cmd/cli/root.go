package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	wesstream "github.com/weisyn/go-wesstream"
	"github.com/weisyn/go-wesstream/core/config"
	"github.com/weisyn/go-wesstream/core/output"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	Profile      string // Profile名称
	ConfigDir    string // 配置目录
	OutputFormat string // 输出格式
	Silent       bool   // 静默模式
	Verbose      bool   // 详细模式
}

var (
	globalFlags GlobalFlags
	profileMgr  *config.ProfileManager
	formatter   *output.Formatter
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "wes-stream",
	Short: "WES 流网关命令行客户端",
	Long: `WES Stream CLI - 流网关的命令行客户端

在单个连接上复用多条事件流,断线自动重连并从进度标记续传。

常用操作:
- 订阅实时事件流 (listen)
- 查询可用链与主题 (chains/topics)
- 回填历史事件 (backfill)
- 管理会话与多环境配置 (session/profile)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 初始化配置管理器
		var err error
		profileMgr, err = config.NewProfileManager(globalFlags.ConfigDir)
		if err != nil {
			return fmt.Errorf("初始化配置: %w", err)
		}

		// 初始化输出格式化器
		format := output.Format(globalFlags.OutputFormat)
		formatter = output.NewFormatter(format, os.Stdout)
		formatter.SetSilent(globalFlags.Silent)

		return nil
	},
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// 全局标志
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "", "使用指定的Profile (默认使用当前Profile)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigDir, "config-dir", "", "配置目录 (默认: ~/.wes-stream)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.OutputFormat, "output", "o", "json", "输出格式: json|pretty|table|text")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Silent, "silent", false, "静默模式 (仅输出结果)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "详细输出")
}

// getProfile 获取生效的profile
func getProfile() (*config.Profile, error) {
	if globalFlags.Profile != "" {
		return profileMgr.GetProfile(globalFlags.Profile)
	}
	return profileMgr.GetCurrentProfile()
}

// getClient 按生效profile创建流客户端
func getClient() (*wesstream.Client, error) {
	profile, err := getProfile()
	if err != nil {
		return nil, fmt.Errorf("获取Profile: %w", err)
	}

	client, err := wesstream.NewFromProfile(profile, newLogger())
	if err != nil {
		return nil, fmt.Errorf("创建客户端: %w", err)
	}
	return client, nil
}

// newLogger 详细模式下输出开发日志,否则静默
func newLogger() *zap.Logger {
	if !globalFlags.Verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
