package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/25smoking/Panoptes/internal/config"
	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins"
	"github.com/25smoking/Panoptes/internal/shell"
)

// pluginRow 是 plugins 命令输出的一行
type pluginRow struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Category    string   `json:"category" yaml:"category"`
	Description string   `json:"description" yaml:"description"`
	ConfigFile  string   `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Missing     []string `json:"missing_tools,omitempty" yaml:"missing_tools,omitempty"`
}

func newPluginsCmd() *cobra.Command {
	var (
		configFile string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "列出可用插件、匹配到的配置文件以及依赖的外部命令",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			filter := core.Filter{Include: settings.Include, Exclude: settings.Exclude}
			rows := describePlugins(loadPlugins(settings, filter, zap.NewNop().Sugar()), config.NewResolver(settings.ConfigDir, nil))
			return writeRows(cmd.OutOrStdout(), rows, format)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "配置文件（YAML）")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "输出格式 table|json|yaml")
	cmd.Flags().String("plugins-dir", "", "外部插件目录")
	cmd.Flags().String("config-dir", "", "插件配置目录")
	cmd.Flags().String("rules-dir", "", "签名规则目录")
	cmd.Flags().StringSliceP("include", "i", nil, "只列出这些插件")
	cmd.Flags().StringSliceP("exclude", "x", nil, "跳过这些插件")
	return cmd
}

func describePlugins(ps []core.Plugin, resolver *config.Resolver) []pluginRow {
	tools := plugins.Tools()
	rows := make([]pluginRow, 0, len(ps))
	for _, p := range ps {
		info := p.Info()
		row := pluginRow{
			ID:          info.ID,
			Name:        info.DisplayName(),
			Category:    info.Category,
			Description: info.Description,
			Tools:       tools[info.ID],
		}
		if file, s := resolver.Match(info.ConfigKey(), info.Aliases); s != config.MatchNone {
			row.ConfigFile = file
		}
		for _, t := range row.Tools {
			if !shell.LookPath(t) {
				row.Missing = append(row.Missing, t)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func writeRows(w io.Writer, rows []pluginRow, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tCONFIG\tTOOLS")
		for _, r := range rows {
			tools := strings.Join(r.Tools, ",")
			if len(r.Missing) > 0 {
				tools += " (missing: " + strings.Join(r.Missing, ",") + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Category, dash(r.ConfigFile), dash(tools))
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

