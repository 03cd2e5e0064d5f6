package plugins

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
	"github.com/25smoking/Panoptes/internal/shell"
)

const (
	uuidSPF   = "uuid-012-spf"
	uuidDMARC = "uuid-013-dmarc"
)

// SPFDMARCPlugin 用 dig 查询目标域名的 SPF 与 DMARC TXT 记录
type SPFDMARCPlugin struct{}

func (p *SPFDMARCPlugin) Info() core.Info {
	return core.Info{
		ID:          "spf_dmarc_check",
		Name:        "SPFDMARCCheck",
		Description: "Looks up SPF and DMARC TXT records of the target domain with dig.",
		Category:    "dns",
		ConfigName:  "spf_dmarc_check",
		Aliases:     []string{"spf_dmarc", "dns_mail"},
	}
}

func (p *SPFDMARCPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	if !shell.LookPath("dig") {
		return nil, errors.New("dig not found in PATH")
	}
	name := p.Info().Name
	timeout := cfg.Duration("timeout", 15*time.Second)
	domain := cfg.String("domain", httpx.Host(target))

	spf := shell.Execute(ctx, timeout, "dig", "+short", domain, "TXT")
	spfItem := txtFinding(ctx, notify, name, uuidSPF, "SPF record", "v=spf1", spf)

	dmarc := shell.Execute(ctx, timeout, "dig", "+short", "_dmarc."+domain, "TXT")
	dmarcItem := txtFinding(ctx, notify, name, uuidDMARC, "DMARC record", "v=dmarc1", dmarc)

	return &core.Block{
		Plugin:   name,
		Category: "dns",
		Result:   []core.Finding{spfItem, dmarcItem},
	}, nil
}

// txtFinding 在 dig 输出中查找带指定标记的 TXT 记录；找不到时为 medium
func txtFinding(ctx context.Context, notify core.Notify, plugin, uuid, label, marker string, res shell.Result) core.Finding {
	var (
		text string
		sev  = core.SeverityInfo
	)
	switch {
	case !res.OK():
		text = "Lookup failed: " + res.Text()
	default:
		var records []string
		for _, line := range strings.Split(res.Output, "\n") {
			line = strings.TrimSpace(line)
			if strings.Contains(strings.ToLower(line), marker) {
				records = append(records, line)
			}
		}
		if len(records) == 0 {
			text = label + " not found"
			sev = core.SeverityMedium
		} else {
			text = "No findings for " + label + ": " + strings.Join(records, " ")
		}
	}
	f := item(ctx, notify, plugin, uuid, label, text, sev, res.Seconds())
	f.Command = res.Command
	return f
}
