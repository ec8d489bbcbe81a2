// Package output provides output formatting functionality for client commands.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/weisyn/go-wesstream/core/transport"
	"github.com/weisyn/go-wesstream/pkg/wire"
)

// Format 输出格式
type Format string

const (
	// FormatJSON JSON格式（默认）
	FormatJSON Format = "json"
	// FormatPretty 美化JSON格式
	FormatPretty Format = "pretty"
	// FormatTable 表格格式
	FormatTable Format = "table"
	// FormatText 纯文本格式
	FormatText Format = "text"
)

// Formatter 输出格式化器
type Formatter struct {
	format    Format
	writer    io.Writer // 数据输出（JSON/表格等）
	logWriter io.Writer // 日志输出（Info/Success/Error等）
	silent    bool
}

// NewFormatter 创建格式化器
func NewFormatter(format Format, writer io.Writer) *Formatter {
	if writer == nil {
		writer = os.Stdout
	}

	return &Formatter{
		format:    format,
		writer:    writer,    // 数据输出到 stdout
		logWriter: os.Stderr, // 日志输出到 stderr（避免污染 JSON）
		silent:    false,
	}
}

// SetLogWriter 设置日志输出目标（默认 stderr）
func (f *Formatter) SetLogWriter(writer io.Writer) {
	if writer == nil {
		writer = os.Stderr
	}
	f.logWriter = writer
}

// SetSilent 设置静默模式
func (f *Formatter) SetSilent(silent bool) {
	f.silent = silent
}

// Print 打印输出
func (f *Formatter) Print(data interface{}) error {
	if f.silent {
		return nil
	}

	switch f.format {
	case FormatJSON:
		return f.printJSON(data, false)
	case FormatPretty:
		return f.printJSON(data, true)
	case FormatTable:
		return f.printTable(data)
	case FormatText:
		return f.printText(data)
	default:
		return f.printJSON(data, false)
	}
}

// PrintEvent 打印单个流事件（每事件一行,适合持续输出）
func (f *Formatter) PrintEvent(ev *wire.Event) {
	if f.silent {
		return
	}

	switch f.format {
	case FormatTable, FormatText:
		line := fmt.Sprintf("#%d %s", ev.Position, ev.Kind)
		if ev.Height > 0 {
			line += fmt.Sprintf(" height=%d", ev.Height)
		}
		if ev.Hash != "" {
			line += fmt.Sprintf(" hash=%s", ev.Hash)
		}
		if ev.Removed {
			line += " removed"
		}
		if !ev.Timestamp.IsZero() {
			line += fmt.Sprintf(" at=%s", ev.Timestamp.Format(time.RFC3339))
		}
		if _, err := fmt.Fprintln(f.writer, line); err != nil {
			// 忽略输出错误，流式打印不中断
			_ = err
		}
	default:
		// JSON格式按NDJSON输出,一行一个事件
		data, err := json.Marshal(ev)
		if err != nil {
			f.PrintError(fmt.Errorf("marshal event: %w", err))
			return
		}
		if _, err := fmt.Fprintln(f.writer, string(data)); err != nil {
			_ = err
		}
	}
}

// printJSON 打印JSON格式
func (f *Formatter) printJSON(data interface{}, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintln(f.writer, string(output)); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// printTable 打印表格格式
func (f *Formatter) printTable(data interface{}) error {
	// 使用tabwriter打印对齐的表格
	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	defer func() {
		_ = tw.Flush() // 忽略 flush 错误，因为可能已经写入部分数据
	}()

	// 根据数据类型选择表格格式
	switch v := data.(type) {
	case []transport.ChainInfo:
		return f.printChainTable(tw, v)
	case []transport.TopicInfo:
		return f.printTopicTable(tw, v)
	case []wire.Event:
		return f.printEventTable(tw, v)
	case map[string]interface{}:
		return f.printMapTable(tw, v)
	default:
		// 降级到JSON
		return f.printJSON(data, true)
	}
}

// printChainTable 打印链列表表格
func (f *Formatter) printChainTable(tw *tabwriter.Writer, chains []transport.ChainInfo) error {
	if _, err := fmt.Fprintln(tw, "CHAIN ID\tNAME\tHEIGHT\tFINAL"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, c := range chains {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", c.ChainID, c.Name, c.Height, c.FinalHeight); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	return nil
}

// printTopicTable 打印主题列表表格
func (f *Formatter) printTopicTable(tw *tabwriter.Writer, topics []transport.TopicInfo) error {
	if _, err := fmt.Fprintln(tw, "TOPIC\tRESUMABLE\tDESCRIPTION"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, t := range topics {
		resumable := "no"
		if t.Resumable {
			resumable = "yes"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Topic, resumable, t.Description); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	return nil
}

// printEventTable 打印事件列表表格
func (f *Formatter) printEventTable(tw *tabwriter.Writer, events []wire.Event) error {
	if _, err := fmt.Fprintln(tw, "POSITION\tKIND\tHEIGHT\tHASH"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, ev := range events {
		hash := ev.Hash
		if ev.Removed {
			hash += " (removed)"
		}
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", ev.Position, ev.Kind, ev.Height, hash); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	return nil
}

// printMapTable 打印map表格
func (f *Formatter) printMapTable(tw *tabwriter.Writer, data map[string]interface{}) error {
	// 两列: Key | Value
	if _, err := fmt.Fprintln(tw, "Key\tValue"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for key, value := range data {
		if _, err := fmt.Fprintf(tw, "%s\t%v\n", key, formatValue(value)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	return nil
}

// printText 打印纯文本格式
func (f *Formatter) printText(data interface{}) error {
	if _, err := fmt.Fprintf(f.writer, "%v\n", data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// PrintSuccess 打印成功消息（输出到 stderr，避免污染 JSON）
func (f *Formatter) PrintSuccess(message string) {
	if f.silent {
		return
	}
	if _, err := fmt.Fprintf(f.logWriter, "✅ %s\n", message); err != nil {
		// 忽略输出错误，因为这是辅助输出
		_ = err
	}
}

// PrintError 打印错误消息（输出到 stderr，避免污染 JSON）
func (f *Formatter) PrintError(err error) {
	if _, writeErr := fmt.Fprintf(f.logWriter, "❌ Error: %v\n", err); writeErr != nil {
		// 忽略输出错误
		_ = writeErr
	}
}

// PrintWarning 打印警告消息（输出到 stderr，避免污染 JSON）
func (f *Formatter) PrintWarning(message string) {
	if f.silent {
		return
	}
	if _, err := fmt.Fprintf(f.logWriter, "⚠️  %s\n", message); err != nil {
		// 忽略输出错误
		_ = err
	}
}

// PrintInfo 打印信息消息（输出到 stderr，避免污染 JSON）
func (f *Formatter) PrintInfo(message string) {
	if f.silent {
		return
	}
	if _, err := fmt.Fprintf(f.logWriter, "ℹ️  %s\n", message); err != nil {
		// 忽略输出错误
		_ = err
	}
}

// ===== 辅助函数 =====

// formatValue 格式化值
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case int, int64, uint, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%.2f", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		return v.Format(time.RFC3339)
	case nil:
		return "-"
	default:
		// 尝试JSON序列化
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// ErrorOutput 错误输出结构
type ErrorOutput struct {
	Error struct {
		Code    string      `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// NewErrorOutput 创建错误输出
func NewErrorOutput(code string, message string, details interface{}) *ErrorOutput {
	output := &ErrorOutput{}
	output.Error.Code = code
	output.Error.Message = message
	output.Error.Details = details
	return output
}

// SuccessOutput 成功输出结构
type SuccessOutput struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// NewSuccessOutput 创建成功输出
func NewSuccessOutput(data interface{}, message string) *SuccessOutput {
	return &SuccessOutput{
		Success: true,
		Data:    data,
		Message: message,
	}
}
