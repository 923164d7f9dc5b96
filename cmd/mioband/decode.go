package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mioband/internal/band"
	"github.com/srg/mioband/internal/presenter"
	"github.com/srg/mioband/internal/session"
	"github.com/srg/mioband/internal/telemetry"
	"github.com/srg/mioband/pkg/config"
)

var (
	decodeJSON  bool
	decodeColor string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <characteristic> <hex>",
	Short: "Decode a captured characteristic value",
	Long: `Decode a raw characteristic value the way the watch command does.

The characteristic is a UUID from the band's table or its name:
  FF06  steps
  FF0C  battery
  2A37  heart-rate

The value is hex; spaces, colons, dashes and 0x prefixes are ignored.`,
	Example: `  mioband decode FF06 d2040000
  mioband decode battery 64:01
  mioband decode heart-rate "00 48" --json`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print the reading as a JSON record")
	decodeCmd.Flags().StringVar(&decodeColor, "color", presenter.ColorAuto, "Colour mode (auto, always, never)")
}

var tagNames = map[string]band.Tag{
	"steps":      band.StepCount,
	"battery":    band.Battery,
	"heart-rate": band.HeartRate,
	"heartrate":  band.HeartRate,
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	tag, err := resolveTag(args[0])
	if err != nil {
		return err
	}
	data, err := parseHexValue(args[1])
	if err != nil {
		return err
	}

	var snap telemetry.Snapshot
	reading, err := telemetry.Apply(&snap, tag, data)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"tag":   tag.String(),
		"bytes": len(data),
	}).Debug("Decoded value")

	opts := presenter.Options{Output: presenter.OutputText, Color: decodeColor}
	if decodeJSON {
		opts.Output = presenter.OutputJSON
	}
	inline := false
	opts.Inline = &inline

	console, err := presenter.NewConsole(cmd.OutOrStdout(), opts, logger)
	if err != nil {
		return err
	}
	report(console, reading)
	console.Flush()
	return nil
}

// resolveTag accepts a telemetry characteristic UUID or one of its names.
func resolveTag(s string) (band.Tag, error) {
	if tag, ok := tagNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return tag, nil
	}
	switch tag := band.Classify(s); tag {
	case band.StepCount, band.Battery, band.HeartRate:
		return tag, nil
	case band.Unknown:
		return band.Unknown, fmt.Errorf("%w %q (expected %s, %s or %s)", ErrUnknownCharacteristic, s,
			band.StepCountUUID, band.BatteryUUID, band.HeartRateUUID)
	default:
		return band.Unknown, fmt.Errorf("%w: %s carries no telemetry", ErrUnknownCharacteristic, tag)
	}
}

// parseHexValue decodes hex, tolerating the separators tools print between bytes.
func parseHexValue(s string) ([]byte, error) {
	cleaned := strings.ReplaceAll(s, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "0x", "")

	if cleaned == "" {
		return nil, errors.New("empty value")
	}
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

// report forwards a reading to the matching sink method.
func report(sink session.Sink, r telemetry.Reading) {
	switch r.Field {
	case telemetry.FieldSteps:
		sink.Steps(r.Steps)
	case telemetry.FieldBattery:
		sink.Battery(r.Battery)
	case telemetry.FieldHeartRate:
		sink.HeartRate(r.HeartRate, r.Intensity())
	}
}
