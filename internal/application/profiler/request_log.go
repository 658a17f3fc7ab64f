package profiler

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/fllarpy/reqprof/domain"
)

// RequestLogName is the log shared by every run.
const RequestLogName = "xhprof.log"

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	timeLayout     = "15:04:05"
)

// logRequest appends one summary line to the shared request log. It is
// written for every completed request regardless of the empty log policy.
func (p *RequestProfiler) logRequest() error {
	label, target := p.target()
	start, end := p.startTime, p.EndTime()

	entry := fmt.Sprintf(
		"[%s - %s] ∆ %.2f s | %s | %s %s | %s | Referrer: %s\n",
		start.Format(dateTimeLayout),
		end.Format(timeLayout),
		end.Sub(start).Seconds(),
		p.ProfilerURL(),
		label,
		target,
		requestType(p.inv),
		referrer(p.inv),
	)
	return appendFile(filepath.Join(p.cfg.LogLocation, RequestLogName), entry)
}

// ProfilerURL links to the stored run in the profile viewer.
func (p *RequestProfiler) ProfilerURL() string {
	base := p.cfg.CLIBaseLink
	if !p.inv.CLI {
		base = p.inv.Origin()
	}
	return fmt.Sprintf("%s?run=%s&source=%s",
		base+p.cfg.RelativePath,
		url.QueryEscape(p.RunID()),
		url.QueryEscape(Namespace),
	)
}

func (p *RequestProfiler) target() (label, value string) {
	if p.inv.CLI {
		return "Command:", strings.Join(p.inv.Args, " ")
	}
	if p.inv.URI == "" {
		return "URI:", "none"
	}
	return "URI:", p.inv.URI
}

func requestType(inv domain.Invocation) string {
	if inv.CLI {
		return "CLI"
	}
	if inv.Method == "" {
		return "none"
	}
	if !domain.CarriesBody(inv.Method) {
		return inv.Method
	}
	return fmt.Sprintf("%s(%d vars, %.1f kb)", inv.Method, inv.FormVars, float64(inv.BodyBytes)/1024)
}

// referrer strips the current origin from a same-site referrer, leaving a root-relative path.
func referrer(inv domain.Invocation) string {
	if inv.CLI || inv.Referrer == "" {
		return "none"
	}
	origin := inv.Origin()
	if origin == "" {
		return inv.Referrer
	}
	if rest, ok := strings.CutPrefix(inv.Referrer, origin+"/"); ok {
		return "/" + rest
	}
	return inv.Referrer
}
