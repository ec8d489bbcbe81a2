package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weisyn/go-wesstream/core/stream"
	"github.com/weisyn/go-wesstream/pkg/wire"
)

var (
	listenChain    string
	listenFrom     int64
	listenFilter   map[string]string
	listenResume   bool
	listenMarkFile string
)

// listenCmd 订阅实时事件流
var listenCmd = &cobra.Command{
	Use:   "listen <topic>",
	Short: "订阅实时事件流",
	Long: `订阅网关事件流并持续输出,按 Ctrl+C 退出。

内置主题: newHeads(新区块头)、logs(合约日志)、pendingTxs(待打包交易),
自定义主题以网关实际支持为准。

--from 指定起始位置时从历史位置追赶;--resume 启用进度持久化,
退出时把最后消费位置写入profile的标记目录,下次启动自动续传。`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	topic := args[0]
	ctx := context.Background()

	profile, err := getProfile()
	if err != nil {
		return fmt.Errorf("获取Profile: %w", err)
	}

	chainID := listenChain
	if chainID == "" {
		chainID = profile.ChainID
	}

	// 进度文件: --mark-file 显式路径优先,--resume 用profile标记目录
	markFile := listenMarkFile
	if markFile == "" && listenResume {
		markFile = filepath.Join(profile.MarkerPath, chainID, topic+".pos")
	}

	// 起始位置: --from > 进度文件 > 网关当前位置
	var position *uint64
	if listenFrom >= 0 {
		p := uint64(listenFrom)
		position = &p
	} else if markFile != "" {
		position, err = loadMarker(markFile)
		if err != nil {
			return err
		}
		if position != nil {
			formatter.PrintInfo(fmt.Sprintf("从进度文件续传: 位置 %d", *position))
		}
	}

	client, err := getClient()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close(ctx)
	}()

	msg := wire.NewListen("", topic).WithChain(chainID)
	if position != nil {
		msg.WithPosition(*position)
	}
	if len(listenFilter) > 0 {
		filters := make(map[string]interface{}, len(listenFilter))
		for k, v := range listenFilter {
			filters[k] = v
		}
		msg.WithFilters(filters)
	}

	formatter.PrintInfo(fmt.Sprintf("正在订阅事件: %s (chain: %s)", topic, chainID))
	formatter.PrintInfo("按 Ctrl+C 退出")

	handler := func(m *wire.Message) {
		switch m.Type {
		case wire.TypeData:
			for i := range m.Events {
				ev := &m.Events[i]
				if ev.Removed {
					formatter.PrintWarning(fmt.Sprintf("[重组] 位置 %d 的事件已移除 (ReorgID: %s)", ev.Position, ev.ReorgID))
				}
				formatter.PrintEvent(ev)
			}
		case wire.TypeListening:
			if globalFlags.Verbose {
				formatter.PrintInfo("流已确认")
			}
		case wire.TypeError:
			if m.Error != nil {
				formatter.PrintError(fmt.Errorf("网关错误: [%s] %s", m.Error.Code, m.Error.Message))
			}
		}
	}

	s, err := client.Register(ctx, msg, handler, stream.WithAutoMark())
	if err != nil {
		return fmt.Errorf("订阅失败: %w", err)
	}

	// 监听退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	formatter.PrintInfo("正在取消订阅...")

	// 退出前保存进度
	if markFile != "" {
		if marker := s.ActiveMarker(); marker != nil {
			if err := saveMarker(markFile, *marker); err != nil {
				formatter.PrintError(fmt.Errorf("保存进度失败: %w", err))
			} else {
				formatter.PrintInfo(fmt.Sprintf("进度已保存: 位置 %d", *marker))
			}
		}
	}

	return s.Close(ctx)
}

// loadMarker 读取进度文件,不存在或为空时返回nil
func loadMarker(path string) (*uint64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 路径来自命令行参数或配置目录
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取进度文件: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}

	p, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("解析进度文件 %s: %w", path, err)
	}
	return &p, nil
}

// saveMarker 写入进度文件
func saveMarker(path string, position uint64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("创建进度目录: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.FormatUint(position, 10)), 0600)
}

func init() {
	listenCmd.Flags().StringVar(&listenChain, "chain", "", "链ID (默认使用profile配置)")
	listenCmd.Flags().Int64Var(&listenFrom, "from", -1, "起始位置 (默认由网关决定)")
	listenCmd.Flags().StringToStringVar(&listenFilter, "filter", nil, "事件过滤器 (key=value格式)")
	listenCmd.Flags().BoolVar(&listenResume, "resume", false, "启用进度持久化,退出时保存、启动时续传")
	listenCmd.Flags().StringVar(&listenMarkFile, "mark-file", "", "进度文件路径 (隐含 --resume)")

	rootCmd.AddCommand(listenCmd)
}
