package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weisyn/go-wesstream/core/config"
)

// profileCmd Profile管理命令
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile管理",
	Long:  "管理配置Profile,支持多环境切换(local/testnet/mainnet)",
}

// profileListCmd 列出所有profiles
var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有profiles",
	Long:  "列出所有可用的配置Profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles := profileMgr.ListProfiles()
		currentProfile, _ := profileMgr.GetCurrentProfile()

		var result []map[string]interface{}
		for _, name := range profiles {
			profile, err := profileMgr.GetProfile(name)
			if err != nil {
				continue
			}

			isCurrent := currentProfile != nil && currentProfile.Name == name

			result = append(result, map[string]interface{}{
				"name":     name,
				"chain_id": profile.ChainID,
				"current":  isCurrent,
			})
		}

		return formatter.Print(result)
	},
}

// profileShowCmd 显示profile详情
var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "显示profile详情",
	Long:  "显示指定profile的详细配置(不指定则显示当前profile)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var profile *config.Profile
		var err error

		if len(args) > 0 {
			profile, err = profileMgr.GetProfile(args[0])
		} else {
			profile, err = profileMgr.GetCurrentProfile()
		}

		if err != nil {
			formatter.PrintError(err)
			return err
		}

		return formatter.Print(profile)
	},
}

// profileCurrentCmd 显示当前profile
var profileCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "显示当前profile",
	Long:  "显示当前使用的配置Profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := profileMgr.GetCurrentProfile()
		if err != nil {
			formatter.PrintError(err)
			return err
		}

		return formatter.Print(map[string]interface{}{
			"name":     profile.Name,
			"chain_id": profile.ChainID,
		})
	},
}

// profileSwitchCmd 切换profile
var profileSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "切换profile",
	Long:  "切换到指定的配置Profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if err := profileMgr.SwitchProfile(name); err != nil {
			formatter.PrintError(err)
			return err
		}

		formatter.PrintSuccess(fmt.Sprintf("已切换到 profile '%s'", name))

		profile, _ := profileMgr.GetProfile(name)
		return formatter.Print(map[string]interface{}{
			"name":     name,
			"chain_id": profile.ChainID,
		})
	},
}

// profileCreateCmd 创建新profile
var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "创建新profile",
	Long:  "创建一个新的配置Profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		// 检查是否已存在
		if _, err := profileMgr.GetProfile(name); err == nil {
			return fmt.Errorf("profile '%s' 已存在", name)
		}

		// 提示输入配置
		fmt.Printf("创建 profile '%s'\n", name)
		fmt.Print("Chain ID: ")
		var chainID string
		if _, err := fmt.Scanln(&chainID); err != nil {
			return fmt.Errorf("读取 Chain ID 失败: %w", err)
		}

		fmt.Print("WebSocket URL: ")
		var wsURL string
		if _, err := fmt.Scanln(&wsURL); err != nil {
			return fmt.Errorf("读取 WebSocket URL 失败: %w", err)
		}

		fmt.Print("REST URL: ")
		var restURL string
		if _, err := fmt.Scanln(&restURL); err != nil {
			return fmt.Errorf("读取 REST URL 失败: %w", err)
		}

		// 创建profile
		profile := &config.Profile{
			Name:    name,
			ChainID: chainID,
			Endpoints: []config.EndpointConfig{
				{
					Name:     name + "-primary",
					Priority: 1,
					WS:       wsURL,
					REST:     restURL,
				},
			},
			Timeout:           config.Duration(30 * time.Second),
			ReconnectBaseWait: config.Duration(time.Second),
			ReconnectMaxWait:  config.Duration(30 * time.Second),
		}

		// 保存profile
		if err := profileMgr.SaveProfile(profile); err != nil {
			return fmt.Errorf("保存 profile 失败: %w", err)
		}

		formatter.PrintSuccess(fmt.Sprintf("Profile '%s' 创建成功", name))

		return formatter.Print(map[string]interface{}{
			"name":     name,
			"chain_id": chainID,
		})
	},
}

// profileImportCmd 导入profile
var profileImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "导入profile",
	Long:  "从JSON文件导入配置Profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath := args[0]

		// 读取文件
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: 路径来自命令行参数
		if err != nil {
			return fmt.Errorf("读取文件失败: %w", err)
		}

		// 解析JSON
		var profile config.Profile
		if err := json.Unmarshal(data, &profile); err != nil {
			return fmt.Errorf("解析JSON失败: %w", err)
		}

		if profile.Name == "" {
			return fmt.Errorf("profile缺少name字段")
		}

		// 检查是否已存在
		if _, err := profileMgr.GetProfile(profile.Name); err == nil {
			return fmt.Errorf("profile '%s' 已存在", profile.Name)
		}

		// 保存profile
		if err := profileMgr.SaveProfile(&profile); err != nil {
			return fmt.Errorf("保存 profile 失败: %w", err)
		}

		formatter.PrintSuccess(fmt.Sprintf("Profile '%s' 导入成功", profile.Name))

		return formatter.Print(map[string]interface{}{
			"name":     profile.Name,
			"chain_id": profile.ChainID,
		})
	},
}

// profileDeleteCmd 删除profile
var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "删除profile",
	Long:  "删除指定的配置Profile(当前使用中的不可删除)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if err := profileMgr.DeleteProfile(name); err != nil {
			formatter.PrintError(err)
			return err
		}

		formatter.PrintSuccess(fmt.Sprintf("Profile '%s' 已删除", name))
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileCurrentCmd)
	profileCmd.AddCommand(profileSwitchCmd)
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileImportCmd)
	profileCmd.AddCommand(profileDeleteCmd)

	rootCmd.AddCommand(profileCmd)
}
