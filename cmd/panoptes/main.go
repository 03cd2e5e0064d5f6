package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "panoptes",
	Short: "Panoptes - 插件化 Web 应用安全扫描器",
	Long: `Panoptes 对一个 Web 目标并发运行一组探测插件（内置插件与 plugins 目录下的外部可执行插件），
把各插件的结果块汇总为一份带严重级别统计的 JSON 报告，并可选地生成 HTML、签名和投递到远端。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.AddCommand(newScanCmd(), newPluginsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
