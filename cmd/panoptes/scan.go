package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/25smoking/Panoptes/internal/ai"
	"github.com/25smoking/Panoptes/internal/config"
	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/dispatch"
	"github.com/25smoking/Panoptes/internal/external"
	"github.com/25smoking/Panoptes/internal/logger"
	"github.com/25smoking/Panoptes/internal/plugins"
	"github.com/25smoking/Panoptes/internal/report"
)

type scanOptions struct {
	configFile string
	noColor    bool
	quiet      bool
}

// addSettingsFlags 注册与配置键一一对应的参数，默认值只用于帮助信息，实际默认值来自内嵌配置
func addSettingsFlags(fs *pflag.FlagSet) {
	fs.StringP("target", "t", "", "扫描目标（URL 或主机名）")
	fs.String("name", "", "报告名称")
	fs.String("description", "", "报告描述")
	fs.String("client-key", "", "写入报告的客户端标识")
	fs.String("plugins-dir", "", "外部插件目录")
	fs.String("config-dir", "", "插件配置目录")
	fs.String("rules-dir", "", "签名规则目录（为空使用内置规则）")
	fs.StringP("output", "o", "", "JSON 报告路径")
	fs.String("output-dir", "", "未指定 --output 时报告所在目录")
	fs.IntP("workers", "w", 0, "并发数，0/1 为串行")
	fs.Duration("deadline", 0, "整次运行的截止时间，0 为不限制")
	fs.StringSliceP("include", "i", nil, "只运行这些插件（逗号分隔的插件 ID）")
	fs.StringSliceP("exclude", "x", nil, "跳过这些插件")
	fs.String("log-level", "", "日志级别 debug|info|warn|error")
	fs.Bool("log-json", false, "以 JSON 格式输出日志")
	fs.String("log-file", "", "额外写入 JSON 日志文件")
	fs.String("ai", "", "AI 分析模式 off|mock|openai")
	fs.String("ai-model", "", "AI 模型")
	fs.String("ai-base-url", "", "OpenAI 兼容接口地址")
	fs.Bool("send", false, "扫描结束后投递报告")
	fs.String("dispatch-url", "", "HTTP 投递地址")
	fs.String("dispatch-format", "", "投递格式 raw|controller")
	fs.String("redis-url", "", "Redis 投递地址 (redis://...)")
	fs.Bool("html", false, "同时生成 HTML 报告")
	fs.String("sign-key", "", "用于签名报告的 OpenPGP 私钥文件")
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "对目标运行全部插件并生成报告",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("target", args[0]); err != nil {
					return err
				}
			}
			return runScan(cmd.Context(), cmd.Flags(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "配置文件（YAML）")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "关闭彩色输出")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "不输出横幅和进度")
	addSettingsFlags(cmd.Flags())
	return cmd
}

func runScan(ctx context.Context, flags *pflag.FlagSet, opts *scanOptions) error {
	settings, err := config.Load(opts.configFile, flags)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	zl := logger.Must(logger.Config{Level: settings.Log.Level, JSON: settings.Log.JSON, File: settings.Log.File})
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	noFindings := core.PrefixPredicate(settings.NoFindingsPrefixes...)
	color := !opts.noColor && os.Getenv("NO_COLOR") == ""
	console := report.NewConsole(os.Stdout, color, noFindings)
	if !opts.quiet {
		console.Banner(version)
	}

	filter := core.Filter{Include: settings.Include, Exclude: settings.Exclude}
	all := loadPlugins(settings, filter, log)
	if len(all) == 0 {
		log.Warnw("没有可运行的插件", "include", settings.Include, "exclude", settings.Exclude)
	}

	summarizer, err := ai.New(ai.Config{
		Mode:    ai.Mode(settings.AI.Mode),
		APIKey:  firstNonEmpty(settings.AI.APIKey, os.Getenv("OPENAI_API_KEY")),
		BaseURL: settings.AI.BaseURL,
		Model:   settings.AI.Model,
		Timeout: settings.AI.Timeout,
	})
	if err != nil {
		log.Warnw("AI 初始化失败，已关闭分析", "error", err)
		summarizer = ai.Disabled{}
	}

	runner := &core.Runner{
		Workers:  settings.Workers,
		Deadline: settings.Deadline,
		Notify:   ai.NewNotify(summarizer, settings.Target),
		Configs:  config.NewResolver(settings.ConfigDir, log),
		Log:      log,
	}
	if !opts.quiet {
		console.Section("开始扫描 " + settings.Target)
		runner.OnStart = console.PluginStart
		runner.OnComplete = console.PluginComplete
	}

	run := runner.Run(ctx, settings.Target, all)

	rep := core.Assemble(core.RunMeta{
		Target:      settings.Target,
		Name:        settings.Name,
		Description: settings.Description,
		ClientKey:   settings.ClientKey,
		Origin:      core.LookupOrigin(ctx),
	}, run, noFindings)

	if analysis, err := ai.AnalyzeReport(ctx, summarizer, rep); err != nil {
		log.Warnw("报告分析失败", "error", err)
	} else {
		rep = rep.WithAnalysis(analysis)
	}

	path := settings.Output
	if path == "" {
		path = core.DefaultReportPath(settings.OutputDir, run.Finished)
	}
	if err := core.Persist(rep, path); err != nil {
		console.Results(rep)
		console.Summary(rep, "")
		return fmt.Errorf("save report: %w", err)
	}
	log.Infow("报告已保存", "path", path, "findings", rep.FindingCount)

	if settings.Report.HTML {
		htmlPath := report.HTMLPath(path)
		if err := report.GenerateHTML(rep, htmlPath, noFindings); err != nil {
			log.Warnw("HTML 报告生成失败", "error", err)
		} else {
			log.Infow("HTML 报告已生成", "path", htmlPath)
		}
	}

	if settings.Report.SignKey != "" {
		if err := signReport(path, settings.Report.SignKey, settings.Report.SignPassphrase, log); err != nil {
			log.Warnw("报告签名失败", "error", err)
		}
	}

	if settings.Dispatch.Enabled {
		sendReport(ctx, settings, rep, log)
	}

	console.Results(rep)
	console.Summary(rep, path)
	return nil
}

// loadPlugins 合并内置插件与外部插件，并按 include/exclude 过滤
func loadPlugins(s *config.Settings, filter core.Filter, log *zap.SugaredLogger) []core.Plugin {
	builtin := plugins.NewRegistry(plugins.Options{RulesDir: s.RulesDir}).Plugins(filter)
	ext, err := external.Discover(s.PluginsDir, filter, log)
	if err != nil {
		log.Warnw("外部插件目录不可读", "dir", s.PluginsDir, "error", err)
	}
	return core.Merge(builtin, ext, log)
}

func signReport(path, keyPath, passphrase string, log *zap.SugaredLogger) error {
	signer, err := report.LoadSigner(keyPath, passphrase)
	if err != nil {
		return err
	}
	sigPath, err := report.SignFile(path, signer)
	if err != nil {
		return err
	}
	log.Infow("报告已签名", "signature", sigPath)
	return nil
}

// sendReport 投递失败只记录日志，不影响退出码
func sendReport(ctx context.Context, s *config.Settings, rep *core.Report, log *zap.SugaredLogger) {
	d := &dispatch.Dispatcher{Log: log}
	if s.Dispatch.URL != "" {
		d.Sinks = append(d.Sinks, dispatch.NewHTTPSink(s.Dispatch.URL, s.Dispatch.Token, s.Dispatch.Format, s.Dispatch.Timeout))
	}
	if s.Dispatch.RedisURL != "" {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		sink, err := dispatch.NewRedisSink(rctx, s.Dispatch.RedisURL, s.Dispatch.RedisKey)
		cancel()
		if err != nil {
			log.Warnw("Redis 连接失败", "error", err)
		} else {
			defer sink.Close()
			d.Sinks = append(d.Sinks, sink)
		}
	}
	if len(d.Sinks) == 0 {
		log.Warn("已启用投递，但没有配置 dispatch.url 或 dispatch.redis_url")
		return
	}
	for _, st := range d.Dispatch(ctx, rep) {
		fmt.Fprintln(os.Stderr, st.String())
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

