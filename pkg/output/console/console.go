package console

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/ericogr/plant-autocal/pkg/output"
)

type ConsoleOutput struct {
	now func() time.Time
}

func NewConsole() output.Output { return &ConsoleOutput{now: time.Now} }

func (c *ConsoleOutput) Publish(snaps []calibration.Snapshot) error {
	now := c.now()
	for _, s := range snaps {
		fmt.Printf("%s name=%q raw=%d value=%.2f%s status=%s range=%d..%d autocal=%t last=%s\n",
			s.Key, s.Name, s.Raw, float64(s.Value), s.Unit, s.Status, s.MinMax.Min, s.MinMax.Max, s.CalibrationMode, age(s.LastMeasurement, now))
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

func age(unixMs int64, now time.Time) string {
	if unixMs == 0 {
		return "never"
	}
	return humanize.RelTime(time.UnixMilli(unixMs), now, "ago", "from now")
}
