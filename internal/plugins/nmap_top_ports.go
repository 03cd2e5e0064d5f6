package plugins

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/25smoking/Panoptes/internal/core"
	"github.com/25smoking/Panoptes/internal/plugins/httpx"
	"github.com/25smoking/Panoptes/internal/shell"
)

const (
	uuidOpenPorts        = "uuid-017-open-ports"
	uuidNonEssentialPort = "uuid-025-nonessential-ports"
)

var (
	reOpenPort     = regexp.MustCompile(`(?m)^(\d+)/tcp\s+open\s+(\S+)`)
	essentialPorts = map[int]bool{22: true, 25: true, 53: true, 80: true, 123: true, 443: true, 465: true, 587: true, 993: true, 995: true}
)

// NmapTopPortsPlugin 用 nmap 扫描最常见的 TCP 端口
type NmapTopPortsPlugin struct{}

func (p *NmapTopPortsPlugin) Info() core.Info {
	return core.Info{
		ID:          "nmap_top_ports",
		Name:        "NmapTopPorts",
		Description: "Scans the most common TCP ports with nmap and flags non-essential open services.",
		Category:    "network",
		ConfigName:  "nmap_top_ports",
		Aliases:     []string{"nmap", "ports"},
	}
}

// OpenPort 是 nmap 输出中的一个开放端口
type OpenPort struct {
	Port    int
	Service string
}

func (o OpenPort) String() string {
	return fmt.Sprintf("%d/tcp %s", o.Port, o.Service)
}

// ParseOpenPorts 从 nmap 普通输出中提取开放的 TCP 端口，按端口号排序
func ParseOpenPorts(out string) []OpenPort {
	var ports []OpenPort
	for _, m := range reOpenPort.FindAllStringSubmatch(out, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ports = append(ports, OpenPort{Port: n, Service: m[2]})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Port < ports[j].Port })
	return ports
}

func (p *NmapTopPortsPlugin) Run(ctx context.Context, target string, notify core.Notify, cfg core.Config) (*core.Block, error) {
	if !shell.LookPath("nmap") {
		return nil, errors.New("nmap not found in PATH")
	}
	name := p.Info().Name
	host := httpx.Host(target)
	top := cfg.Int("top_ports", 100)
	timeout := cfg.Duration("timeout", 180*time.Second)

	res := shell.Execute(ctx, timeout, "nmap", "-Pn", "-T4", "--top-ports", strconv.Itoa(top), host)
	if !res.OK() && !res.Timeout() && res.Output == "" {
		return nil, fmt.Errorf("nmap: %w", res.Err)
	}

	ports := ParseOpenPorts(res.Output)
	var open, extra []string
	for _, op := range ports {
		open = append(open, op.String())
		if !essentialPorts[op.Port] {
			extra = append(extra, op.String())
		}
	}

	openText := summarize(open, "open ports", 0)
	openSev := core.SeverityInfo
	if len(open) > 0 {
		openSev = core.SeverityLow
	}
	if res.Timeout() {
		openText = "[partial: nmap timed out]\n" + openText
	}
	extraSev := core.SeverityInfo
	if len(extra) > 0 {
		extraSev = core.SeverityMedium
	}

	openItem := item(ctx, notify, name, uuidOpenPorts, "Open ports (top "+strconv.Itoa(top)+")", openText, openSev, res.Seconds())
	openItem.Command = res.Command
	extraItem := item(ctx, notify, name, uuidNonEssentialPort, "Non-essential exposed services",
		summarize(extra, "non-essential exposed services", 0), extraSev, res.Seconds())
	extraItem.Command = res.Command

	return &core.Block{
		Plugin:   name,
		Category: "network",
		Result:   []core.Finding{openItem, extraItem},
	}, nil
}
