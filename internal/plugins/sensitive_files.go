package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
)

const (
	uuidEnvExposure       = "uuid-030-env"
	uuidSensitiveLogs     = "uuid-028-sensitive-logs"
	uuidCommonFiles       = "uuid-003-files"
	uuidSensitiveExposure = "uuid-004-sensitive-files"
)

var defaultSensitivePaths = []string{
	"/.env", "/.git/config", "/.git/HEAD", "/.svn/entries",
	"/config.php", "/config.yaml", "/config.yml",
	"/backup.zip", "/db.sql", "/database.sql", "/dump.sql",
	"/robots.txt", "/sitemap.xml", "/humans.txt", "/security.txt",
	"/logs/access.log", "/logs/error.log", "/storage/logs/laravel.log",
}

var (
	commonFiles      = []string{"/robots.txt", "/sitemap.xml", "/humans.txt", "/security.txt"}
	sensitiveMarkers = []string{".env", ".git", "config", "backup", "db.sql", "dump.sql", ".svn"}
)

// SensitiveFilesPlugin 请求常见的敏感文件路径并按类型分级
type SensitiveFilesPlugin struct{}

func (p *SensitiveFilesPlugin) Info() core.Info {
	return core.Info{
		ID:          "sensitive_files_probe",
		Name:        "SensitiveFilesProbe",
		Description: "Requests well-known sensitive paths (env, VCS, backups, logs) and grades what is exposed.",
		Category:    "exposure",
		ConfigName:  "sensitive_files_probe",
		Aliases:     []string{"files_probe", "sensitive_files"},
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (p *SensitiveFilesPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	name := p.Info().Name
	client := httpx.New(cfg)

	var sensitive, logs, common []string

	t := core.StartTimer()
	for _, path := range cfg.Strings("paths", defaultSensitivePaths) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := client.Get(ctx, httpx.Join(target, path))
		if err != nil || (resp.Status != 200 && resp.Status != 206) {
			continue
		}
		body := resp.Body
		if len(body) > 400 {
			body = body[:400]
		}
		lower := strings.ToLower(string(body))
		excerpt := lower
		if len(excerpt) > 80 {
			excerpt = excerpt[:80]
		}

		switch {
		case isCommonFile(path):
			common = append(common, fmt.Sprintf("%s :: %s", path, resp.StatusLine))
		case containsAny(path, sensitiveMarkers):
			sensitive = append(sensitive, fmt.Sprintf("%s :: %s", path, resp.StatusLine))
		case strings.Contains(path, "log"):
			logs = append(logs, fmt.Sprintf("%s :: %s", path, resp.StatusLine))
		}

		if containsAny(lower, []string{"app_key", "database", "password"}) {
			sensitive = append(sensitive, fmt.Sprintf("%s :: content looks like credentials (excerpt: ...%s...)", path, excerpt))
		}
		if containsAny(lower, []string{"exception", "trace"}) {
			logs = append(logs, fmt.Sprintf("%s :: content looks like a stack trace/log (excerpt: ...%s...)", path, excerpt))
		}
	}
	duration := t.Stop()

	grade := func(evid []string, sev core.Severity) core.Severity {
		if len(evid) == 0 {
			return core.SeverityInfo
		}
		return sev
	}
	mk := func(uuid, label string, evid []string, sev core.Severity) core.Finding {
		return item(ctx, notify, name, uuid, label, summarize(evid, label, 0), grade(evid, sev), duration)
	}

	return &core.Block{
		Plugin:   name,
		Category: "exposure",
		Result: []core.Finding{
			mk(uuidEnvExposure, "Sensitive environment/properties (ENV)", sensitive, core.SeverityHigh),
			mk(uuidSensitiveLogs, "Public sensitive logs", logs, core.SeverityMedium),
			mk(uuidCommonFiles, "Common files exposed", common, core.SeverityLow),
			mk(uuidSensitiveExposure, "Sensitive files exposed", sensitive, core.SeverityHigh),
		},
	}, nil
}

func isCommonFile(path string) bool {
	for _, c := range commonFiles {
		if path == c {
			return true
		}
	}
	return false
}
