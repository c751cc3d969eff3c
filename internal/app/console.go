package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/shopspring/decimal"

	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/service"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
)

// ConsoleSink renders aggregator events as text lines.
type ConsoleSink struct {
	mu    sync.Mutex
	out   io.Writer
	loc   *time.Location
	color bool
}

// NewConsoleSink writes to out; colour is used only when out is a terminal.
func NewConsoleSink(out io.Writer, loc *time.Location) *ConsoleSink {
	if loc == nil {
		loc = time.Local
	}
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	return &ConsoleSink{out: out, loc: loc, color: color}
}

var _ events.Sink = (*ConsoleSink)(nil)

// Handle implements events.Sink.
func (c *ConsoleSink) Handle(_ context.Context, ev events.Event) {
	var line string
	switch e := ev.(type) {
	case events.DisplayUpdate:
		line = c.formatDisplay(e)
	case events.AlertRaised:
		line = c.formatAlert(e)
	case events.SourceUnavailable:
		line = fmt.Sprintf("%s ✗ [%s] 暂无数据: %s", c.clock(e.At), e.SourceName, e.Reason)
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func (c *ConsoleSink) formatDisplay(e events.DisplayUpdate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s %s", c.clock(e.ObservedAt), e.SourceName, e.Price.StringFixed(2), fetcher.UnitLocalPerGram)

	change := fmt.Sprintf("%s %s (%s%%)", arrow(e.ColorClass), signed(e.ChangeVsBaseline), signed(e.ChangePercent))
	fmt.Fprintf(&b, "  %s", c.paint(e.ColorClass, change))
	fmt.Fprintf(&b, "  基线 %s", e.Baseline.StringFixed(2))
	if e.LastAlert.Valid {
		fmt.Fprintf(&b, "  上次告警 %s", e.LastAlert.Decimal.StringFixed(2))
	}
	if e.Ask.Valid {
		fmt.Fprintf(&b, "  卖价 %s", e.Ask.Decimal.StringFixed(2))
	}
	if e.Rate.Valid {
		fmt.Fprintf(&b, "  汇率 %s", e.Rate.Decimal.StringFixed(4))
	}
	switch {
	case e.Degraded:
		b.WriteString("  [降级:缓存]")
	case e.FromCache:
		b.WriteString("  [缓存]")
	}
	return b.String()
}

func (c *ConsoleSink) formatAlert(e events.AlertRaised) string {
	class := events.ColorUp
	if e.Direction() == "down" {
		class = events.ColorDown
	}
	msg := fmt.Sprintf("%s ⚠ [%s] 价格异动 %s %s%% (阈值 %s%%) 当前 %s 参考 %s",
		c.clock(e.At),
		e.SourceName,
		arrow(class),
		signed(e.ChangePercent),
		e.ThresholdPct.StringFixed(2),
		e.Price.StringFixed(2),
		e.Reference.StringFixed(2),
	)
	return c.paint(class, msg)
}

func (c *ConsoleSink) clock(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.In(c.loc).Format("15:04:05")
}

func (c *ConsoleSink) paint(class events.ColorClass, s string) string {
	if !c.color {
		return s
	}
	// 国内行情习惯: 涨红跌绿
	switch class {
	case events.ColorUp:
		return ansiRed + s + ansiReset
	case events.ColorDown:
		return ansiGreen + s + ansiReset
	}
	return s
}

func arrow(class events.ColorClass) string {
	switch class {
	case events.ColorUp:
		return "↑"
	case events.ColorDown:
		return "↓"
	}
	return "→"
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

type switcher interface {
	Registry() *service.Registry
	SwitchNext(ctx context.Context)
	Select(ctx context.Context, id string) error
}

// readCommands lets an operator change the displayed source while the monitor runs.
// quit calls stop, which ends the monitor; end of input only ends the reader.
func (a *App) readCommands(ctx context.Context, in io.Reader, out io.Writer, sw switcher, stop context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			sw.SwitchNext(ctx)
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "n", "next":
			sw.SwitchNext(ctx)
		case "s", "select":
			if len(fields) < 2 {
				fmt.Fprintln(out, "用法: select <source-id>")
				continue
			}
			if err := sw.Select(ctx, fields[1]); err != nil {
				fmt.Fprintf(out, "切换失败: %v\n", err)
			}
		case "l", "list":
			writeSourceList(out, sw.Registry())
		case "q", "quit":
			a.Logger.Info().Msg("quit requested from console")
			stop()
			return
		default:
			fmt.Fprintln(out, "命令: [回车]/next 切换下一个源, select <id>, list, quit")
		}
	}
	if err := scanner.Err(); err != nil {
		a.Logger.Warn().Err(err).Msg("command input closed")
	}
}

func writeSourceList(out io.Writer, registry *service.Registry) {
	selected := registry.Selected().ID()
	for _, src := range registry.Sources() {
		marker := " "
		if src.ID() == selected {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\t%s\t%s\n", marker, src.ID(), src.Name(), src.Kind())
	}
}
