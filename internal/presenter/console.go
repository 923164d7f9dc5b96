// Package presenter renders session status and telemetry on a terminal.
package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/mioband/internal/ringchan"
	"github.com/srg/mioband/internal/telemetry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"
)

const clearLineSequence = "\r\033[K"

// Output formats
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Colour modes
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Field names, in display order.
const (
	FieldStatus    = "status"
	FieldSteps     = "steps"
	FieldBattery   = "battery"
	FieldHeartRate = "heart_rate"
)

var labels = map[string]string{
	FieldStatus:    "Status",
	FieldSteps:     "Steps",
	FieldBattery:   "Battery",
	FieldHeartRate: "Heart rate",
}

type Options struct {
	Output string `default:"text"`
	Color  string `default:"auto"`
	Buffer int    `default:"64"`
	// Inline rewrites a single dashboard line instead of printing one line per update.
	// Nil means inline on an interactive terminal in text mode.
	Inline *bool
}

// update is one Sink call, queued for the render goroutine.
type update struct {
	field     string
	text      string
	value     int64
	intensity *telemetry.Intensity
}

// record is the JSON form of an update.
type record struct {
	Field string `json:"field"`
	Text  string `json:"text"`
	Value *int64 `json:"value,omitempty"`
	RGB   []int  `json:"rgb,omitempty"`
}

// Console implements session.Sink. Sink calls never block: they queue an update
// that Run renders. When rendering falls behind, the oldest updates are dropped.
type Console struct {
	out     io.Writer
	opts    Options
	inline  bool
	color   bool
	logger  *logrus.Logger
	updates *ringchan.RingChannel[update]

	// owned by the render goroutine
	fields *orderedmap.OrderedMap[string, string]
	label  *color.Color
	status *color.Color
}

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer, opts Options, logger *logrus.Logger) (*Console, error) {
	if logger == nil {
		logger = logrus.New()
	}
	applyDefaults(&opts)

	switch opts.Output {
	case OutputText, OutputJSON:
	default:
		return nil, fmt.Errorf("unknown output format %q (must be %s or %s)", opts.Output, OutputText, OutputJSON)
	}

	tty := isTerminal(out)
	colored, err := colorEnabled(opts.Color, tty)
	if err != nil {
		return nil, err
	}

	inline := tty && opts.Output == OutputText
	if opts.Inline != nil {
		inline = *opts.Inline
	}

	fields := orderedmap.New[string, string]()
	for _, f := range []string{FieldStatus, FieldSteps, FieldBattery, FieldHeartRate} {
		fields.Set(f, "")
	}

	c := &Console{
		out:     out,
		opts:    opts,
		inline:  inline,
		color:   colored,
		logger:  logger,
		updates: ringchan.New[update](opts.Buffer),
		fields:  fields,
		label:   color.New(color.Bold),
		status:  color.New(color.FgCyan),
	}
	setColor(c.label, colored)
	setColor(c.status, colored)
	return c, nil
}

func applyDefaults(opts *Options) {
	var d Options
	defaults.SetDefaults(&d)
	if opts.Output == "" {
		opts.Output = d.Output
	}
	if opts.Color == "" {
		opts.Color = d.Color
	}
	if opts.Buffer <= 0 {
		opts.Buffer = d.Buffer
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func colorEnabled(mode string, tty bool) (bool, error) {
	switch mode {
	case ColorAlways:
		return true, nil
	case ColorNever:
		return false, nil
	case ColorAuto:
		return tty && !color.NoColor, nil
	default:
		return false, fmt.Errorf("unknown color mode %q (must be %s, %s or %s)", mode, ColorAuto, ColorAlways, ColorNever)
	}
}

func setColor(col *color.Color, enabled bool) {
	if enabled {
		col.EnableColor()
	} else {
		col.DisableColor()
	}
}

func (c *Console) Status(text string) {
	c.push(update{field: FieldStatus, text: text})
}

func (c *Console) Steps(steps uint32) {
	r := telemetry.Reading{Field: telemetry.FieldSteps, Steps: steps}
	c.push(update{field: FieldSteps, text: r.String(), value: int64(steps)})
}

func (c *Console) Battery(percent int) {
	r := telemetry.Reading{Field: telemetry.FieldBattery, Battery: percent}
	c.push(update{field: FieldBattery, text: r.String(), value: int64(percent)})
}

func (c *Console) HeartRate(bpm int, intensity telemetry.Intensity) {
	r := telemetry.Reading{Field: telemetry.FieldHeartRate, HeartRate: bpm}
	c.push(update{field: FieldHeartRate, text: r.String(), value: int64(bpm), intensity: &intensity})
}

func (c *Console) push(u update) {
	if c.updates.ForceSend(u) {
		c.logger.WithField("field", u.field).Debug("Console is behind, dropped oldest update")
	}
}

// Run renders queued updates until ctx is cancelled, then renders what is left.
func (c *Console) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Flush()
			if c.inline {
				fmt.Fprintln(c.out)
			}
			stats := c.updates.Stats()
			c.logger.WithFields(logrus.Fields{
				"written": stats.Written,
				"dropped": stats.Overwritten,
			}).Debug("Console stopped")
			return
		case u := <-c.updates.C():
			c.render(u)
		}
	}
}

// Flush renders every queued update. Do not call concurrently with Run.
func (c *Console) Flush() {
	for {
		u, ok := c.updates.TryReceive()
		if !ok {
			return
		}
		c.render(u)
	}
}

func (c *Console) render(u update) {
	if c.opts.Output == OutputJSON {
		c.renderJSON(u)
		return
	}

	text := c.paint(u)
	c.fields.Set(u.field, text)

	if !c.inline {
		fmt.Fprintf(c.out, "%s %s\n", c.label.Sprintf("%-11s", labels[u.field]+":"), text)
		return
	}

	parts := make([]string, 0, c.fields.Len())
	for pair := c.fields.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value != "" {
			parts = append(parts, pair.Value)
		}
	}
	fmt.Fprint(c.out, clearLineSequence+strings.Join(parts, " | "))
}

// paint colours a value: status in cyan, heart rate by its intensity.
func (c *Console) paint(u update) string {
	switch {
	case u.field == FieldStatus:
		return c.status.Sprint(u.text)
	case u.intensity != nil && c.color:
		r, g, b := u.intensity.RGB()
		hr := color.RGB(r, g, b)
		hr.EnableColor()
		return hr.Sprint(u.text)
	default:
		return u.text
	}
}

func (c *Console) renderJSON(u update) {
	rec := record{Field: u.field, Text: u.text}
	if u.field != FieldStatus {
		v := u.value
		rec.Value = &v
	}
	if u.intensity != nil {
		r, g, b := u.intensity.RGB()
		rec.RGB = []int{r, g, b}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode update")
		return
	}
	fmt.Fprintf(c.out, "%s\n", data)
}
