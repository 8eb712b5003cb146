package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// promBuilder accumulates newline-delimited Prometheus exposition lines.
// It covers the counter/gauge/summary-with-quantile-label conventions the
// trackers need; full exposition (histograms, exemplars) is out of scope.
type promBuilder struct {
	b strings.Builder
}

// header writes the # HELP and # TYPE lines for a metric.
func (p *promBuilder) header(name, help, metricType string) {
	fmt.Fprintf(&p.b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(&p.b, "# TYPE %s %s\n", name, metricType)
}

// metric writes one sample line. Labels are emitted in the given order.
func (p *promBuilder) metric(name string, labels []promLabel, value float64) {
	p.b.WriteString(name)
	if len(labels) > 0 {
		p.b.WriteByte('{')
		for i, l := range labels {
			if i > 0 {
				p.b.WriteByte(',')
			}
			fmt.Fprintf(&p.b, `%s="%s"`, l.name, escapeLabelValue(l.value))
		}
		p.b.WriteByte('}')
	}
	p.b.WriteByte(' ')
	p.b.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
	p.b.WriteByte('\n')
}

// quantiles writes the 0.5/0.95/0.99 summary lines for a percentile set.
func (p *promBuilder) quantiles(name string, set PercentileSet) {
	p.metric(name, []promLabel{{"quantile", "0.5"}}, set.P50)
	p.metric(name, []promLabel{{"quantile", "0.95"}}, set.P95)
	p.metric(name, []promLabel{{"quantile", "0.99"}}, set.P99)
}

func (p *promBuilder) String() string {
	return p.b.String()
}

type promLabel struct {
	name  string
	value string
}

// escapeLabelValue escapes backslash, double quote, and newline per the
// exposition format.
func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}
